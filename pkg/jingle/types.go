// Package jingle implements the per-participant Jingle session state machine
// (spec.md §4.5): Idle → Initiated → Accepted → Active → (Restarting → Active) →
// Terminated, including content/transport encoding and the alternate JSON source
// encoding advertised by the json-encoded-sources feature.
package jingle

import (
	"strconv"
	"time"

	"github.com/pion/ice/v2"
	"github.com/pion/sdp/v3"

	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

func fmtUint8(v uint8) string   { return strconv.FormatUint(uint64(v), 10) }
func fmtUint16(v uint16) string { return strconv.FormatUint(uint64(v), 10) }
func fmtUint32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

// State is one point in a Session's lifecycle.
type State int

const (
	StateIdle State = iota
	StateInitiated
	StateAccepted
	StateActive
	StateRestarting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitiated:
		return "initiated"
	case StateAccepted:
		return "accepted"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// TerminateReason labels why a session ended, carried in the session-terminate stanza
// and used for logging/metrics.
type TerminateReason string

const (
	ReasonSuccess          TerminateReason = "success"
	ReasonTimeout          TerminateReason = "timeout"
	ReasonResourceConstraint TerminateReason = "resource_constraint"
	ReasonGone             TerminateReason = "gone"
	ReasonFailedTransport  TerminateReason = "failed-transport"
)

// Transport is the ICE/DTLS parameters carried in a Jingle transport element.
type Transport struct {
	UFrag       string
	Password    string
	Fingerprint string
	Setup       string
	Candidates  []ice.Candidate
}

// Codec is one negotiated payload type, carried in a Jingle content description.
type Codec struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
	Parameters  map[string]string
	RTCPFeedback []string
}

// ContentName is the name a Jingle content description is keyed by.
type ContentName string

const (
	ContentAudio ContentName = "audio"
	ContentVideo ContentName = "video"
)

// Content is one <content/> in an offer or answer: a media description plus the
// sources currently known for it. An empty Content (no codecs and no sources) is
// omitted from the stanza entirely, per spec.md §4.5.
type Content struct {
	Name      ContentName
	Codecs    []Codec
	Transport Transport
	Sources   source.ConferenceSourceMap
}

func (c Content) isEmpty() bool {
	return len(c.Codecs) == 0 && len(c.Sources) == 0
}

// Offer is the full session-initiate payload: the participant's own transport/codec
// parameters plus the aggregated remote sources (spec.md §4.5, §4.6 offer synthesis).
type Offer struct {
	Contents []Content
}

// MediaDescription renders a Content's codec list as an SDP media description, the form
// the Jingle RTP description's "payload-type" elements are derived from on the wire.
func (c Content) MediaDescription() *sdp.MediaDescription {
	formats := make([]string, 0, len(c.Codecs))
	attrs := make([]sdp.Attribute, 0, len(c.Codecs)*2)
	for _, codec := range c.Codecs {
		pt := fmtUint8(codec.PayloadType)
		formats = append(formats, pt)
		rtpmap := pt + " " + codec.Name + "/" + fmtUint32(codec.ClockRate)
		if codec.Channels > 1 {
			rtpmap += "/" + fmtUint16(codec.Channels)
		}
		attrs = append(attrs, sdp.NewAttribute("rtpmap", rtpmap))
		for _, fb := range codec.RTCPFeedback {
			attrs = append(attrs, sdp.NewAttribute("rtcp-fb", pt+" "+fb))
		}
	}

	return &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   string(c.Name),
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: formats,
		},
		Attributes: attrs,
	}
}

// Answer is what a session-accept conveys back: the peer's transport and the sources it
// is announcing, re-tagged with the peer's endpoint id before being handed to the
// Conference (spec.md §4.5's "re-tagged with its endpoint id").
type Answer struct {
	Transport Transport
	Sources   source.ConferenceSourceMap
}

// ResponseTimeout is how long a Session waits for a session-accept after
// session-initiate before transitioning to Terminated with ReasonTimeout.
const ResponseTimeout = 15 * time.Second
