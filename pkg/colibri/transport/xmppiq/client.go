// Package xmppiq implements pkg/colibri/transport.Client over a live XMPP session:
// every Colibri v2 conference-modify exchange (spec.md §6) travels as a "jitsi:colibri2"
// IQ to the bridge's component JID, built and decoded with mellium.im/xmpp the same way
// pkg/xmpp's MUC and disco helpers do.
package xmppiq

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// NS is the XML namespace every conference-modify element and its children live in.
const NS = "jitsi:colibri2"

// Resolver maps a bridge.ID to the JID jicofo addresses its Colibri v2 IQs to. Bridges
// are discovered and tracked by pkg/bridge.Registry, which has no notion of JIDs, so the
// wiring between the two lives here rather than in bridge.ID itself.
type Resolver func(b bridge.ID) (jid.JID, error)

// Client sends Colibri v2 IQs to bridges over one shared XMPP session.
type Client struct {
	session  *xmpp.Session
	resolve  Resolver
}

// New builds a Client that sends every conference-modify IQ over session.
func New(session *xmpp.Session, resolve Resolver) *Client {
	return &Client{session: session, resolve: resolve}
}

var _ transport.Client = (*Client)(nil)

func (c *Client) CreateSession(ctx context.Context, b bridge.ID, meetingID string) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Create:    true,
	})
	return err
}

func (c *Client) ExpireSession(ctx context.Context, b bridge.ID, meetingID string) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Expire:    true,
	})
	return err
}

func (c *Client) CreateEndpoint(ctx context.Context, b bridge.ID, meetingID string, spec transport.EndpointSpec) (transport.EndpointResult, error) {
	reply, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Endpoints: []wireEndpoint{toWireEndpoint(spec, true)},
	})
	if err != nil {
		return transport.EndpointResult{}, err
	}
	return reply.endpointResult(spec.ID), nil
}

func (c *Client) UpdateEndpoint(ctx context.Context, b bridge.ID, meetingID string, id source.EndpointID, spec transport.EndpointSpec) error {
	spec.ID = id
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Endpoints: []wireEndpoint{toWireEndpoint(spec, false)},
	})
	return err
}

func (c *Client) ExpireEndpoint(ctx context.Context, b bridge.ID, meetingID string, id source.EndpointID) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Endpoints: []wireEndpoint{{ID: string(id), Expire: true}},
	})
	return err
}

func (c *Client) CreateRelay(ctx context.Context, b bridge.ID, meetingID string, spec transport.RelaySpec) (transport.RelayResult, error) {
	reply, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Relays:    []wireRelay{toWireRelay(spec, true)},
	})
	if err != nil {
		return transport.RelayResult{}, err
	}
	return reply.relayResult(spec.RelayID), nil
}

func (c *Client) ExpireRelay(ctx context.Context, b bridge.ID, meetingID string, relayID string) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Relays:    []wireRelay{{ID: relayID, Expire: true}},
	})
	return err
}

func (c *Client) RelayAddEndpoint(ctx context.Context, b bridge.ID, meetingID string, relayID string, id source.EndpointID, sources source.EndpointSourceSet) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Relays: []wireRelay{{
			ID: relayID,
			Endpoints: []wireRelayEndpoint{{
				ID:      string(id),
				Sources: toWireSources(id, sources),
			}},
		}},
	})
	return err
}

func (c *Client) RelayRemoveEndpoint(ctx context.Context, b bridge.ID, meetingID string, relayID string, id source.EndpointID) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Relays: []wireRelay{{
			ID:        relayID,
			Endpoints: []wireRelayEndpoint{{ID: string(id), Expire: true}},
		}},
	})
	return err
}

func (c *Client) UpdateSources(ctx context.Context, b bridge.ID, meetingID string, id source.EndpointID, sources source.EndpointSourceSet) error {
	_, err := c.roundTrip(ctx, b, wireConferenceModify{
		MeetingID: meetingID,
		Endpoints: []wireEndpoint{{
			ID:      string(id),
			Sources: toWireSources(id, sources),
		}},
	})
	return err
}

// roundTrip sends one conference-modify IQ to b and decodes its reply. The body is
// marshaled with encoding/xml and read back as a token stream through xml.NewDecoder
// (marshalTokens), the same "build a plain struct, send it as the IQ payload" approach
// GetConfigIQ/SetConfigIQ use for MUC room-config forms.
func (c *Client) roundTrip(ctx context.Context, b bridge.ID, body wireConferenceModify) (*wireConferenceModifyReply, error) {
	to, err := c.resolve(b)
	if err != nil {
		return nil, fmt.Errorf("xmppiq: resolving bridge %s: %w", b, err)
	}

	payload, err := marshalTokens(body)
	if err != nil {
		return nil, fmt.Errorf("xmppiq: encoding conference-modify: %w", err)
	}

	var reply wireConferenceModifyReply
	iq := stanza.IQ{Type: stanza.SetIQ, To: to}
	err = c.session.UnmarshalIQElement(ctx, payload, iq, &reply)
	if err != nil {
		return nil, fmt.Errorf("xmppiq: conference-modify to %s: %w", b, err)
	}
	return &reply, nil
}

// marshalTokens renders v (an xml-tagged struct) as the xml.TokenReader the session's
// IQ helpers expect, by round-tripping it through an xml.Encoder/Decoder pair.
func marshalTokens(v any) (xml.TokenReader, error) {
	data, err := xml.Marshal(v)
	if err != nil {
		return nil, err
	}
	return xml.NewDecoder(bytes.NewReader(data)), nil
}
