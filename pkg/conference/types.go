package conference

import (
	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// MemberKind distinguishes regular participants from the bot-like service accounts
// that join a room but are never offered media (spec.md §4.7 onMemberJoined).
type MemberKind int

const (
	MemberRegular MemberKind = iota
	MemberRecorder
	MemberSIPGateway
)

func (k MemberKind) isBot() bool { return k != MemberRegular }

// Member is a MUC occupant as reported by pkg/xmpp's room presence handling.
type Member struct {
	ID            source.EndpointID
	Kind          MemberKind
	Authenticated bool
	Region        string
	VersionPin    *bridge.VersionConstraint
}

// DefaultAudioCodecs and DefaultVideoCodecs are the static payload-type tables offered
// to every participant, filtered per participant by Controller.SynthesizeOffer. Payload
// type numbers follow the conventional Jitsi Meet assignment.
var (
	DefaultAudioCodecs = []jingle.Codec{
		{PayloadType: 111, Name: "opus", ClockRate: 48000, Channels: 2},
	}
	DefaultVideoCodecs = []jingle.Codec{
		{PayloadType: 100, Name: "VP8", ClockRate: 90000, RTCPFeedback: []string{"goog-remb", "transport-cc", "ccm fir", "nack", "nack pli"}},
		{PayloadType: 101, Name: "VP9", ClockRate: 90000, RTCPFeedback: []string{"goog-remb", "transport-cc", "ccm fir", "nack", "nack pli"}},
		{PayloadType: 102, Name: "H264", ClockRate: 90000, RTCPFeedback: []string{"goog-remb", "transport-cc", "ccm fir", "nack", "nack pli"}},
	}
)

func codecNames(codecs []jingle.Codec) []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = c.Name
	}
	return out
}
