// Package transport abstracts the wire protocol Jicofo uses to talk to bridges: the
// Colibri v2 conference-modify IQ (spec.md §6). Manager depends only on this interface,
// so the relay-mesh and allocation logic is testable against a fake without an XMPP
// connection, and the real wire encoding lives in a separate, swappable implementation
// (pkg/colibri/transport/xmppiq).
package transport

import (
	"context"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// EndpointSpec describes the endpoint to create or modify on a bridge.
type EndpointSpec struct {
	ID        source.EndpointID
	ForceMute struct {
		Audio bool
		Video bool
	}
	SCTP bool
	// ParticipantTransport carries the participant's own ICE/DTLS parameters once known
	// from a Jingle session-accept or transport-replace; nil until then, and on an
	// UpdateEndpoint call a nil value leaves the bridge's side unchanged.
	ParticipantTransport *ParticipantTransport
}

// ParticipantTransport is the participant-side half of an ICE/DTLS negotiation, as
// extracted from a Jingle transport element and conveyed to the bridge.
type ParticipantTransport struct {
	UFrag           string
	Password        string
	Fingerprint     string
	FingerprintHash string
	Candidates      []TransportCandidate
}

// EndpointResult is the bridge's answer to a create/modify-endpoint request.
type EndpointResult struct {
	UFrag           string
	Password        string
	Fingerprint     string
	FingerprintHash string
	Candidates      []TransportCandidate
	Feedback        []source.Source
}

// TransportCandidate mirrors colibri.TransportCandidate; kept as its own type here so
// this package has no dependency on the colibri package (colibri depends on transport,
// not the other way around).
type TransportCandidate struct {
	Foundation string
	Component  int
	Protocol   string
	Priority   uint32
	IP         string
	Port       int
	Type       string
}

// RelaySpec describes a relay to create between two sessions of the same conference.
type RelaySpec struct {
	RelayID string
	// PeerTransport carries the local side's ICE/DTLS parameters to offer the peer
	// bridge, mirroring how an endpoint's transport is offered to a participant.
	PeerTransport EndpointResult
}

// RelayResult is the bridge's answer when a relay is created: its own ICE/DTLS
// parameters to be relayed to the peer bridge in turn.
type RelayResult struct {
	UFrag           string
	Password        string
	Fingerprint     string
	FingerprintHash string
	Candidates      []TransportCandidate
}

// Client is the Colibri v2 control channel to a single bridge.
//
// Every method is scoped to one (bridge, meetingID) conference-modify session; the
// caller is responsible for creating a session with CreateSession before any other
// call and for calling ExpireSession when the session is no longer needed.
type Client interface {
	// CreateSession starts a conference-modify session on the bridge for meetingID.
	CreateSession(ctx context.Context, b bridge.ID, meetingID string) error
	// ExpireSession tears down the whole session, implicitly expiring every endpoint
	// and relay still open within it.
	ExpireSession(ctx context.Context, b bridge.ID, meetingID string) error

	// CreateEndpoint allocates a new endpoint within the session.
	CreateEndpoint(ctx context.Context, b bridge.ID, meetingID string, spec EndpointSpec) (EndpointResult, error)
	// UpdateEndpoint applies a partial update (transport, force-mute; sources go through
	// UpdateSources); nil
	// fields in spec are left unchanged, matching Manager's idempotent-per-field
	// contract.
	UpdateEndpoint(ctx context.Context, b bridge.ID, meetingID string, id source.EndpointID, spec EndpointSpec) error
	// ExpireEndpoint removes one endpoint from the session.
	ExpireEndpoint(ctx context.Context, b bridge.ID, meetingID string, id source.EndpointID) error

	// CreateRelay establishes a relay within the session naming the peer bridge's
	// relay id and transport.
	CreateRelay(ctx context.Context, b bridge.ID, meetingID string, spec RelaySpec) (RelayResult, error)
	// ExpireRelay tears down a relay.
	ExpireRelay(ctx context.Context, b bridge.ID, meetingID string, relayID string) error
	// RelayAddEndpoint announces an endpoint (and its sources) from one session's
	// conference over the relay to the peer session.
	RelayAddEndpoint(ctx context.Context, b bridge.ID, meetingID string, relayID string, id source.EndpointID, sources source.EndpointSourceSet) error
	// RelayRemoveEndpoint withdraws a previously-announced endpoint from the relay.
	RelayRemoveEndpoint(ctx context.Context, b bridge.ID, meetingID string, relayID string, id source.EndpointID) error

	// UpdateSources pushes a participant's current sources to the bridge so it can
	// forward them to every endpoint on this session.
	UpdateSources(ctx context.Context, b bridge.ID, meetingID string, id source.EndpointID, sources source.EndpointSourceSet) error
}
