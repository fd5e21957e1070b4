// Package colibri manages a conference's footprint across bridges: one ColibriSession
// per bridge the conference spans, the ColibriEndpoints within each, and the Relay mesh
// linking sessions together (§4.4 Colibri Session Manager).
package colibri

import (
	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// TransportInfo carries the ICE/DTLS parameters a bridge (or relay peer) reports back
// for an allocated endpoint or relay. Its shape mirrors what gets embedded in a Jingle
// transport element, but colibri never interprets it beyond passing it along.
type TransportInfo struct {
	UFrag           string
	Password        string
	Fingerprint     string
	FingerprintHash string
	Candidates      []TransportCandidate
}

// TransportCandidate is one ICE candidate as reported by a bridge.
type TransportCandidate struct {
	Foundation string
	Component  int
	Protocol   string
	Priority   uint32
	IP         string
	Port       int
	Type       string
}

// Endpoint is one participant's footprint on a single bridge (spec.md §3 ColibriEndpoint).
type Endpoint struct {
	ID         source.EndpointID
	Transport  TransportInfo
	ForceMute  struct {
		Audio bool
		Video bool
	}
	SCTP bool
}

// Relay is an inter-bridge link carrying forwarded sources between two ColibriSessions of
// the same conference (spec.md §3 Relay). Owned by the session on the local side.
type Relay struct {
	RelayID       string
	PeerBridge    bridge.ID
	PeerMeetingID string
	Transport     TransportInfo
	// Endpoints is the set of remote endpoint ids currently signaled over this relay —
	// i.e. the endpoints of the peer session that have been announced here.
	Endpoints map[source.EndpointID]struct{}
}

// Allocation is what Manager.Allocate returns to the caller: enough to build a Jingle
// offer for the newly-allocated participant.
type Allocation struct {
	Bridge    bridge.ID
	Transport TransportInfo
	// Feedback is the set of bridge-synthesized sources (owner "JVB", spec.md I4) the
	// participant must be offered so it can send RTCP feedback to the bridge.
	Feedback []source.Source
}

// Session is one conference's presence on one bridge: a set of endpoints plus the
// relays linking it to every other bridge the same conference spans (spec.md §3
// ColibriSession).
type Session struct {
	Bridge    bridge.ID
	MeetingID string
	Endpoints map[source.EndpointID]Endpoint
	// Relays is keyed by the peer bridge id.
	Relays map[bridge.ID]Relay
}

func newSession(b bridge.ID, meetingID string) *Session {
	return &Session{
		Bridge:    b,
		MeetingID: meetingID,
		Endpoints: make(map[source.EndpointID]Endpoint),
		Relays:    make(map[bridge.ID]Relay),
	}
}

func (s *Session) isEmpty() bool {
	return len(s.Endpoints) == 0
}
