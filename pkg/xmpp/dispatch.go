package xmpp

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
	"github.com/jitsi-contrib/jicofo-go/pkg/registry"
	"github.com/jitsi-contrib/jicofo-go/pkg/xmpp/ns"
)

// SendRecorderDispatch sends a recorder-control IQ to target, the Jibri-style pool
// member selected for roomJID (spec.md §6's "recorder ... dispatch IQ"). action is the
// control verb the recorder component understands ("start"/"stop"); jicofo itself has no
// opinion on the recorder's internal state machine beyond dispatching the request.
func SendRecorderDispatch(ctx context.Context, session *xmpp.Session, target jid.JID, roomJID jid.JID, action string) error {
	body := struct {
		XMLName xml.Name `xml:"http://jitsi.org/protocol/jibri jibri"`
		Action  string   `xml:"action,attr"`
		Room    string   `xml:"room,attr"`
	}{Action: action, Room: roomJID.String()}
	return sendFireAndForget(ctx, session, target, body, ns.RecorderControl)
}

// SendSIPDispatch sends a Rayo dial IQ to target, the SIP-gateway pool member selected to
// bridge sipAddress into roomJID (spec.md §6's "Rayo dial variant for SIP").
func SendSIPDispatch(ctx context.Context, session *xmpp.Session, target jid.JID, sipAddress string, roomJID jid.JID) error {
	body := struct {
		XMLName xml.Name `xml:"urn:xmpp:rayo:1 dial"`
		To      string   `xml:"to,attr"`
		From    string   `xml:"from,attr"`
	}{To: sipAddress, From: roomJID.String()}
	return sendFireAndForget(ctx, session, target, body, ns.Rayo)
}

func sendFireAndForget(ctx context.Context, session *xmpp.Session, target jid.JID, body any, namespace string) error {
	data, err := xml.Marshal(body)
	if err != nil {
		return fmt.Errorf("xmpp: encoding %s dispatch: %w", namespace, err)
	}
	r, err := session.SendIQElement(ctx, xml.NewDecoder(bytes.NewReader(data)), stanza.IQ{Type: stanza.SetIQ, To: target})
	if err != nil {
		return fmt.Errorf("xmpp: dispatching %s to %s: %w", namespace, target, err)
	}
	return r.Close()
}

// ConferenceRequest is the room-allocation request shape carried by the focus
// conference-request IQ (urn:...focus, ns.Focus) and, verbatim, by pkg/rest's
// POST /conference-request/v1 JSON body — there is exactly one allocation code path
// regardless of entry point (spec.md §9 Open Question #3).
type ConferenceRequest struct {
	Room       string            `xml:"room,attr" json:"room"`
	Properties map[string]string `xml:"-" json:"properties,omitempty"`
}

type wireConferenceRequest struct {
	XMLName xml.Name `xml:"http://jitsi.org/protocol/focus conference"`
	Room    string   `xml:"room,attr"`
	Properties []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value,attr"`
	} `xml:"property,omitempty"`
}

// ParseConferenceRequestIQ decodes an inbound focus conference-request IQ body into the
// same ConferenceRequest shape pkg/rest parses from JSON.
func ParseConferenceRequestIQ(r xml.TokenReader) (ConferenceRequest, error) {
	var wire wireConferenceRequest
	if err := xml.NewTokenDecoder(r).Decode(&wire); err != nil {
		return ConferenceRequest{}, err
	}
	req := ConferenceRequest{Room: wire.Room}
	if len(wire.Properties) > 0 {
		req.Properties = make(map[string]string, len(wire.Properties))
		for _, p := range wire.Properties {
			req.Properties[p.Name] = p.Value
		}
	}
	return req, nil
}

// HandleConferenceRequest is the single translator both the XMPP focus IQ handler and
// pkg/rest's conference-request handler call: it never duplicates allocation logic,
// always funnelling through registry.GetOrCreate (spec.md §9 Open Question #3).
func HandleConferenceRequest(ctx context.Context, reg *registry.Registry, req ConferenceRequest) (*conference.Conference, error) {
	return reg.GetOrCreate(ctx, req.Room)
}
