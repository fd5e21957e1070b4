package xmpp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp/ns"
)

// JingleSender implements jingle.Sender for one participant, the wire-encoding half of
// the interface pkg/jingle's own doc comment points at this package for. It mirrors
// pkg/colibri/transport/xmppiq's approach: plain xml-tagged wire structs marshaled
// wholesale and sent as an IQ payload, no hand-built token stream.
type JingleSender struct {
	session *xmpp.Session
	peer    jid.JID
}

// NewJingleSender builds the Sender a pkg/conference.SenderFactory hands to each new
// jingle.Session, addressed to peer.
func NewJingleSender(session *xmpp.Session, peer jid.JID) *JingleSender {
	return &JingleSender{session: session, peer: peer}
}

var _ jingle.Sender = (*JingleSender)(nil)

func (j *JingleSender) SendInitiate(ctx context.Context, sessionID string, offer jingle.Offer) error {
	return j.send(ctx, wireJingle{
		Action:    "session-initiate",
		SID:       sessionID,
		Contents:  toWireContents(offer.Contents),
	})
}

func (j *JingleSender) SendSourceAdd(ctx context.Context, sessionID string, sources source.ConferenceSourceMap) error {
	return j.send(ctx, wireJingle{Action: "source-add", SID: sessionID, Contents: toWireSourceContents(sources)})
}

func (j *JingleSender) SendSourceRemove(ctx context.Context, sessionID string, sources source.ConferenceSourceMap) error {
	return j.send(ctx, wireJingle{Action: "source-remove", SID: sessionID, Contents: toWireSourceContents(sources)})
}

func (j *JingleSender) SendTransportReplace(ctx context.Context, sessionID string, t jingle.Transport) error {
	return j.send(ctx, wireJingle{
		Action: "transport-replace",
		SID:    sessionID,
		Contents: []wireContent{{
			Name:      string(jingle.ContentAudio),
			Transport: toWireJingleTransport(t),
		}},
	})
}

func (j *JingleSender) SendTerminate(ctx context.Context, sessionID string, reason jingle.TerminateReason) error {
	return j.send(ctx, wireJingle{Action: "session-terminate", SID: sessionID, Reason: string(reason)})
}

// send wraps body in a jingle IQ set and fires it at the participant. The reply (an
// empty IQ result, or an error IQ on rejection) is not otherwise inspected here: the
// participant's own subsequent session-accept/source-add/terminate IQs, not this
// round-trip's ack, are what drive jingle.Session forward (see Listener, handled by
// JingleHandler).
func (j *JingleSender) send(ctx context.Context, body wireJingle) error {
	body.XMLName = xml.Name{Space: ns.Jingle, Local: "jingle"}
	data, err := xml.Marshal(body)
	if err != nil {
		return fmt.Errorf("xmpp: encoding jingle %s: %w", body.Action, err)
	}

	r, err := j.session.SendIQElement(ctx, xml.NewDecoder(bytes.NewReader(data)), stanza.IQ{
		Type: stanza.SetIQ,
		To:   j.peer,
	})
	if err != nil {
		return fmt.Errorf("xmpp: sending jingle %s: %w", body.Action, err)
	}
	return r.Close()
}

// wireJingle is the <jingle/> element shape shared by every action this package sends;
// fields not relevant to an action are simply left zero and omitted on the wire.
type wireJingle struct {
	XMLName  xml.Name
	Action   string        `xml:"action,attr"`
	SID      string        `xml:"sid,attr"`
	Reason   string        `xml:"reason>text,omitempty"`
	Contents []wireContent `xml:"content,omitempty"`
}

type wireContent struct {
	Name      string          `xml:"name,attr"`
	Codecs    []wireCodec     `xml:"description>payload-type,omitempty"`
	Transport wireJingleTransport `xml:"transport"`
	Sources   []wireJingleSource  `xml:"description>source,omitempty"`
}

type wireCodec struct {
	ID    uint8  `xml:"id,attr"`
	Name  string `xml:"name,attr"`
	Clock uint32 `xml:"clockrate,attr"`
	Chan  uint16 `xml:"channels,attr,omitempty"`
}

type wireJingleTransport struct {
	UFrag       string `xml:"ufrag,attr,omitempty"`
	Password    string `xml:"pwd,attr,omitempty"`
	Fingerprint string `xml:"fingerprint,omitempty"`
}

type wireJingleSource struct {
	SSRC  uint32 `xml:"ssrc,attr"`
	Owner string `xml:"owner,attr"`
	Kind  string `xml:"kind,attr"`
	Muted bool   `xml:"muted,attr,omitempty"`
}

func toWireContents(contents []jingle.Content) []wireContent {
	out := make([]wireContent, 0, len(contents))
	for _, c := range contents {
		codecs := make([]wireCodec, len(c.Codecs))
		for i, codec := range c.Codecs {
			codecs[i] = wireCodec{ID: codec.PayloadType, Name: codec.Name, Clock: codec.ClockRate, Chan: codec.Channels}
		}
		out = append(out, wireContent{
			Name:      string(c.Name),
			Codecs:    codecs,
			Transport: toWireJingleTransport(c.Transport),
			Sources:   toWireJingleSourcesForMap(c.Sources),
		})
	}
	return out
}

func toWireJingleTransport(t jingle.Transport) wireJingleTransport {
	return wireJingleTransport{UFrag: t.UFrag, Password: t.Password, Fingerprint: t.Fingerprint}
}

func toWireSourceContents(m source.ConferenceSourceMap) []wireContent {
	return []wireContent{{Name: string(jingle.ContentVideo), Sources: toWireJingleSourcesForMap(m)}}
}

func toWireJingleSourcesForMap(m source.ConferenceSourceMap) []wireJingleSource {
	var out []wireJingleSource
	for owner, set := range m {
		for _, s := range set.Sources {
			out = append(out, wireJingleSource{SSRC: uint32(s.SSRC), Owner: string(owner), Kind: string(s.Kind), Muted: s.Muted})
		}
	}
	return out
}
