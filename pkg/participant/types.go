// Package participant implements the per-participant controller atop a Jingle session
// (spec.md §4.6): feature discovery, offer synthesis, the outgoing source-change queue,
// restart rate-limiting, and force-mute state.
package participant

import "github.com/jitsi-contrib/jicofo-go/pkg/source"

// FeatureSet is the set of XMPP disco feature URIs a participant's client advertised.
type FeatureSet map[string]struct{}

// Has reports whether feature is present.
func (f FeatureSet) Has(feature string) bool {
	_, ok := f[feature]
	return ok
}

// NewFeatureSet builds a FeatureSet from a list of disco <feature var="..."/> values.
func NewFeatureSet(features []string) FeatureSet {
	out := make(FeatureSet, len(features))
	for _, f := range features {
		out[f] = struct{}{}
	}
	return out
}

// Well-known feature URIs referenced by offer synthesis and source encoding.
const (
	FeatureJSONEncodedSources = "https://jitsi.org/json-encoded-sources"
	FeatureSourceNames        = "https://jitsi.org/source-names"
	FeatureRTX                = "urn:ietf:rfc:4588"
	FeatureREMB               = "http://jitsi.org/remb"
	FeatureTCC                = "http://jitsi.org/tcc"
	FeatureOpusRed            = "http://jitsi.org/opus-red"
	FeatureSCTP               = "urn:xmpp:jingle:transports:ice-udp:sctp:1"
)

// OfferOptions are the conference-wide preferences that offer synthesis intersects with
// a participant's discovered FeatureSet (spec.md §4.6).
type OfferOptions struct {
	ICE               bool
	DTLS              bool
	Audio             bool
	Video             bool
	SCTP              bool
	RTX               bool
	TCC               bool
	REMB              bool
	OpusRED           bool
	MinBitrate        int
	StartBitrate      int
	OpusMaxAverageBitrate int
}

// Allocation is the subset of a colibri.Allocation the participant controller needs to
// synthesize an offer; kept independent of the colibri package so participant has no
// import-cycle risk and can be tested with a plain literal.
type Allocation struct {
	Transport OfferTransport
	Feedback  []source.Source
}

// OfferTransport is the bridge-reported ICE/DTLS parameters to embed in the offer.
type OfferTransport struct {
	UFrag           string
	Password        string
	Fingerprint     string
	FingerprintHash string
	Candidates      []OfferCandidate
}

// OfferCandidate is one ICE candidate to embed in the offer's transport element.
type OfferCandidate struct {
	Foundation string
	Component  int
	Protocol   string
	Priority   uint32
	IP         string
	Port       int
	Type       string
}
