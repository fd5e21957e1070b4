// Package muc adapts one joined Multi-User Chat room's presence stream (XEP-0045) into
// conference.Member join/leave events, the MUC-presence-mechanics half of spec.md §6's
// external-collaborator XMPP surface. It holds no conference logic itself — translation
// only; pkg/conference.Conference remains the sole owner of membership state.
package muc

import (
	"context"
	"encoding/xml"

	"github.com/sirupsen/logrus"
	"mellium.im/xmlstream"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp/ns"
)

// Item is the XEP-0045 <x/><item/> affiliation/role/jid triple describing one occupant,
// present on every MUC presence the room receives.
type Item struct {
	Affiliation string `xml:"affiliation,attr"`
	Role        string `xml:"role,attr"`
	JID         string `xml:"jid,attr"`
}

type occupantPresence struct {
	stanza.Presence
	X struct {
		XMLName xml.Name
		Item    Item `xml:"item"`
		Status  []struct {
			Code int `xml:"code,attr"`
		} `xml:"status,omitempty"`
	} `xml:"x"`
}

func (p *occupantPresence) hasStatus(code int) bool {
	for _, s := range p.X.Status {
		if s.Code == code {
			return true
		}
	}
	return false
}

// statusSelfPresence (110, XEP-0045 §17.2.1) marks the presence the room reflects back
// to the joining occupant about itself, distinguishing "I joined" from "someone else in
// the room changed presence."
const statusSelfPresence = 110

// Classifier maps an occupant's nick and real JID (when visible, per room's affiliation
// policy) to the conference.MemberKind it should be treated as. jicofo has no built-in
// notion of which JIDs are recorder/SIP-gateway service accounts; cmd/jicofo wires this
// from config (e.g. a configured domain/nick-prefix allowlist).
type Classifier func(nick string, realJID string) conference.MemberKind

// Room tracks one joined MUC, translating its presence stream into Joined/Left events.
type Room struct {
	session  *xmpp.Session
	roomJID  jid.JID
	nick     string
	classify Classifier
	logger   *logrus.Entry

	Joined chan conference.Member
	Left   chan source.EndpointID
}

// Join sends initial MUC-entry presence for nick in roomJID and returns a Room whose
// Joined/Left channels the caller should drain for the conference's lifetime.
func Join(ctx context.Context, session *xmpp.Session, roomJID jid.JID, nick string, classify Classifier, logger *logrus.Entry) (*Room, error) {
	occupantJID, err := roomJID.WithResource(nick)
	if err != nil {
		return nil, err
	}

	mucX := xmlstream.Wrap(nil, xml.StartElement{Name: xml.Name{Space: ns.MUC, Local: "x"}})
	resp, err := session.SendPresenceElement(ctx, mucX, stanza.Presence{To: occupantJID})
	if err != nil {
		return nil, err
	}
	defer resp.Close()

	return &Room{
		session: session, roomJID: roomJID, nick: nick, classify: classify, logger: logger,
		Joined: make(chan conference.Member, 16),
		Left:   make(chan source.EndpointID, 16),
	}, nil
}

// Leave sends unavailable presence for this occupancy. It does not close Joined/Left;
// the caller stops draining them once its own teardown (Conference.Shutdown) completes.
func (r *Room) Leave(ctx context.Context) error {
	occupantJID, err := r.roomJID.WithResource(r.nick)
	if err != nil {
		return err
	}
	return r.session.Send(ctx, stanza.Presence{To: occupantJID, Type: stanza.UnavailablePresence}.TokenReader())
}

// HandlePresence satisfies mellium.im/xmpp/mux's PresenceHandler shape. Every occupant
// presence in the room (self included) is decoded and, unless it's the room reflecting
// our own join back to us, translated into a Joined or Left event.
func (r *Room) HandlePresence(p stanza.Presence, reader xmlstream.TokenReadEncoder) error {
	var decoded occupantPresence
	if err := xml.NewTokenDecoder(reader).Decode(&decoded); err != nil {
		return err
	}
	if decoded.hasStatus(statusSelfPresence) {
		return nil
	}

	id := source.EndpointID(p.From.Resourcepart())
	if p.Type == stanza.UnavailablePresence {
		r.emitLeft(id)
		return nil
	}

	kind := conference.MemberRegular
	if r.classify != nil {
		kind = r.classify(p.From.Resourcepart(), decoded.X.Item.JID)
	}
	r.emitJoined(conference.Member{
		ID:            id,
		Kind:          kind,
		Authenticated: decoded.X.Item.Affiliation == "member" || decoded.X.Item.Affiliation == "owner",
	})
	return nil
}

func (r *Room) emitJoined(m conference.Member) {
	select {
	case r.Joined <- m:
	default:
		r.logger.WithField("endpoint_id", m.ID).Warn("dropped MUC join event, channel full")
	}
}

func (r *Room) emitLeft(id source.EndpointID) {
	select {
	case r.Left <- id:
	default:
		r.logger.WithField("endpoint_id", id).Warn("dropped MUC leave event, channel full")
	}
}
