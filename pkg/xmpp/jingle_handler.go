package xmpp

import (
	"context"
	"encoding/xml"

	"github.com/sirupsen/logrus"
	"mellium.im/xmlstream"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// ConferenceLookup resolves the inbound IQ's room (carried in the IQ's "to" JID, one per
// MUC jicofo has joined) to its live Conference. cmd/jicofo wires this to
// pkg/registry.Registry.Get.
type ConferenceLookup func(room jid.JID) (*conference.Conference, bool)

// JingleHandler decodes inbound Jingle IQs (session-accept, source-add, source-remove,
// session-terminate) from participants and dispatches them onto the owning Conference,
// the mirror image of JingleSender's outbound encoding.
type JingleHandler struct {
	lookup ConferenceLookup
	logger *logrus.Entry
}

// NewJingleHandler builds a handler that resolves inbound IQs via lookup.
func NewJingleHandler(lookup ConferenceLookup, logger *logrus.Entry) *JingleHandler {
	return &JingleHandler{lookup: lookup, logger: logger}
}

// HandleIQ satisfies mellium.im/xmpp/mux's IQHandler shape, registered for the
// urn:xmpp:jingle:1 namespace.
func (h *JingleHandler) HandleIQ(iq stanza.IQ, r xmlstream.TokenReadEncoder, _ *xml.StartElement) error {
	var body wireJingle
	if err := xml.NewTokenDecoder(r).Decode(&body); err != nil {
		return err
	}

	conf, ok := h.lookup(iq.To)
	if !ok {
		h.logger.WithField("room", iq.To.String()).Warn("jingle IQ for unknown conference, dropping")
		return nil
	}

	id := source.EndpointID(iq.From.Resourcepart())
	ctx := context.Background()

	var err error
	switch body.Action {
	case "session-accept":
		err = conf.OnSessionAccept(ctx, id, fromWireAnswer(body))
	case "source-add":
		err = conf.OnSourceAdd(ctx, id, fromWireContents(body.Contents))
	case "source-remove":
		err = conf.OnSourceRemove(ctx, id, fromWireContents(body.Contents))
	case "transport-replace":
		err = conf.OnTransportReplace(ctx, id)
	case "session-terminate":
		err = conf.OnMemberLeft(ctx, id)
	default:
		h.logger.WithField("action", body.Action).Warn("unhandled jingle action")
		return nil
	}
	if err != nil {
		return jicofoerr.ToStanzaError(err)
	}
	return nil
}

func fromWireAnswer(body wireJingle) jingle.Answer {
	answer := jingle.Answer{Sources: fromWireContents(body.Contents)}
	for _, c := range body.Contents {
		if c.Transport != (wireJingleTransport{}) {
			answer.Transport = jingle.Transport{
				UFrag: c.Transport.UFrag, Password: c.Transport.Password, Fingerprint: c.Transport.Fingerprint,
			}
			break
		}
	}
	return answer
}

func fromWireContents(contents []wireContent) source.ConferenceSourceMap {
	out := make(source.ConferenceSourceMap)
	for _, c := range contents {
		for _, s := range c.Sources {
			owner := source.EndpointID(s.Owner)
			set := out[owner]
			set.Sources = append(set.Sources, source.Source{
				SSRC: source.SSRC(s.SSRC), Kind: source.Kind(s.Kind), Owner: owner, Muted: s.Muted,
			})
			out[owner] = set
		}
	}
	return out
}
