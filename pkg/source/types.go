// Package source implements the conference-wide source (SSRC) graph: §4.1 of the spec.
//
// A Graph is a pure, single-writer data structure (mutations are validated and applied
// synchronously; there is no internal locking). Callers are expected to serialize access
// through their own single-writer queue, the same discipline the teacher's Conference
// applies to its participants map and tracker.
package source

import "fmt"

// Kind is the media kind of a Source.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// VideoType further classifies a video Source.
type VideoType string

const (
	VideoTypeNone    VideoType = ""
	VideoTypeCamera  VideoType = "camera"
	VideoTypeDesktop VideoType = "desktop"
)

// FeedbackOwner is the sentinel owner endpoint id for sources a bridge synthesizes on its
// own behalf (I4). Such sources are never propagated back to their originating bridge.
const FeedbackOwner = "JVB"

// EndpointID identifies one conference occupant in the source graph. It matches the
// Participant ID used by pkg/conference and pkg/jingle.
type EndpointID string

// SSRC is a 32-bit RTP synchronization source identifier.
type SSRC uint32

// Source is one RTP stream advertised by an endpoint.
type Source struct {
	SSRC   SSRC
	Kind   Kind
	Owner  EndpointID
	Name   string
	Video  VideoType
	Muted  bool
	// Parameters carries arbitrary RTP-level parameters (msid, cname, rtx pairing, etc.)
	// that are opaque to graph validation but must round-trip through signaling.
	Parameters map[string]string
}

// GroupSemantics names the semantic relation an SsrcGroup expresses.
type GroupSemantics string

const (
	GroupSim   GroupSemantics = "SIM"
	GroupFid   GroupSemantics = "FID"
	GroupFecFr GroupSemantics = "FEC-FR"
)

// SsrcGroup relates several SSRCs of one endpoint+kind (e.g. simulcast layers, or an
// RTX pairing). Every SSRC listed must exist as a Source on the same endpoint+kind (I2).
type SsrcGroup struct {
	Semantics GroupSemantics
	Kind      Kind
	SSRCs     []SSRC
}

func (g SsrcGroup) key() string {
	return fmt.Sprintf("%s/%s/%v", g.Semantics, g.Kind, g.SSRCs)
}

// EndpointSourceSet is all sources and groups belonging to one endpoint.
type EndpointSourceSet struct {
	Sources []Source
	Groups  []SsrcGroup
}

// IsEmpty reports whether the set carries no sources and no groups.
func (s EndpointSourceSet) IsEmpty() bool {
	return len(s.Sources) == 0 && len(s.Groups) == 0
}

// ConferenceSourceMap is the whole conference's source state: endpoint id -> its sources.
type ConferenceSourceMap map[EndpointID]EndpointSourceSet

// Clone returns a deep-enough copy suitable as an immutable snapshot: the map and its
// slices are copied, so mutating the original Graph afterwards cannot affect the result.
func (m ConferenceSourceMap) Clone() ConferenceSourceMap {
	out := make(ConferenceSourceMap, len(m))
	for id, set := range m {
		sources := make([]Source, len(set.Sources))
		copy(sources, set.Sources)
		groups := make([]SsrcGroup, len(set.Groups))
		copy(groups, set.Groups)
		out[id] = EndpointSourceSet{Sources: sources, Groups: groups}
	}
	return out
}
