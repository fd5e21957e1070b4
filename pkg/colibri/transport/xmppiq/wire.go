package xmppiq

import (
	"encoding/xml"

	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// The wire* types below are the XML shape of a Colibri v2 conference-modify IQ and its
// reply, mirroring the field-by-field layout pkg/jingle/encoding.go uses for the
// JSON-encoded-sources alternate wire format: plain tagged structs fed straight to
// encoding/xml, no hand-built token streams.

type wireConferenceModify struct {
	XMLName   xml.Name       `xml:"jitsi:colibri2 conference-modify"`
	MeetingID string         `xml:"meeting-id,attr"`
	Create    bool           `xml:"create,attr,omitempty"`
	Expire    bool           `xml:"expire,attr,omitempty"`
	Endpoints []wireEndpoint `xml:"endpoint,omitempty"`
	Relays    []wireRelay    `xml:"relay,omitempty"`
}

type wireEndpoint struct {
	ID        string          `xml:"id,attr"`
	Create    bool            `xml:"create,attr,omitempty"`
	Expire    bool            `xml:"expire,attr,omitempty"`
	SCTP      bool            `xml:"sctp,attr,omitempty"`
	MuteAudio bool            `xml:"mute-audio,attr,omitempty"`
	MuteVideo bool            `xml:"mute-video,attr,omitempty"`
	Transport *wireTransport  `xml:"transport,omitempty"`
	Sources   []wireSource    `xml:"source,omitempty"`
	Groups    []wireSsrcGroup `xml:"ssrc-group,omitempty"`
}

type wireRelay struct {
	ID        string              `xml:"id,attr"`
	Expire    bool                `xml:"expire,attr,omitempty"`
	Transport *wireTransport      `xml:"transport,omitempty"`
	Endpoints []wireRelayEndpoint `xml:"endpoint,omitempty"`
}

type wireRelayEndpoint struct {
	ID      string          `xml:"id,attr"`
	Expire  bool            `xml:"expire,attr,omitempty"`
	Sources []wireSource    `xml:"source,omitempty"`
	Groups  []wireSsrcGroup `xml:"ssrc-group,omitempty"`
}

type wireSource struct {
	SSRC  uint32 `xml:"ssrc,attr"`
	Kind  string `xml:"kind,attr"`
	Name  string `xml:"name,attr,omitempty"`
	Video string `xml:"video-type,attr,omitempty"`
	Muted bool   `xml:"muted,attr,omitempty"`
}

type wireSsrcGroup struct {
	Semantics string   `xml:"semantics,attr"`
	Kind      string   `xml:"kind,attr"`
	SSRCs     []uint32 `xml:"ssrc"`
}

type wireTransport struct {
	UFrag       string           `xml:"ufrag,attr,omitempty"`
	Password    string           `xml:"pwd,attr,omitempty"`
	Fingerprint *wireFingerprint `xml:"fingerprint,omitempty"`
	Candidates  []wireCandidate  `xml:"candidate,omitempty"`
}

type wireFingerprint struct {
	Hash  string `xml:"hash,attr"`
	Value string `xml:",chardata"`
}

type wireCandidate struct {
	Foundation string `xml:"foundation,attr"`
	Component  int    `xml:"component,attr"`
	Protocol   string `xml:"protocol,attr"`
	Priority   uint32 `xml:"priority,attr"`
	IP         string `xml:"ip,attr"`
	Port       int    `xml:"port,attr"`
	Type       string `xml:"type,attr"`
}

// wireConferenceModifyReply is the bridge's answer: per-endpoint and per-relay transport
// parameters, plus any feedback sources it synthesized (source.FeedbackOwner).
type wireConferenceModifyReply struct {
	XMLName   xml.Name       `xml:"jitsi:colibri2 conference-modify"`
	Endpoints []wireEndpoint `xml:"endpoint,omitempty"`
	Relays    []wireRelay    `xml:"relay,omitempty"`
	Feedback  []wireSource   `xml:"feedback-source,omitempty"`
}

func toWireEndpoint(spec transport.EndpointSpec, create bool) wireEndpoint {
	e := wireEndpoint{
		ID:        string(spec.ID),
		Create:    create,
		SCTP:      spec.SCTP,
		MuteAudio: spec.ForceMute.Audio,
		MuteVideo: spec.ForceMute.Video,
	}
	if spec.ParticipantTransport != nil {
		e.Transport = toWireTransport(*spec.ParticipantTransport)
	}
	return e
}

func toWireRelay(spec transport.RelaySpec, create bool) wireRelay {
	return wireRelay{
		ID:     spec.RelayID,
		Transport: &wireTransport{
			UFrag:       spec.PeerTransport.UFrag,
			Password:    spec.PeerTransport.Password,
			Fingerprint: toWireFingerprint(spec.PeerTransport.Fingerprint, spec.PeerTransport.FingerprintHash),
			Candidates:  toWireCandidates(spec.PeerTransport.Candidates),
		},
	}
}

func toWireTransport(t transport.ParticipantTransport) *wireTransport {
	return &wireTransport{
		UFrag:       t.UFrag,
		Password:    t.Password,
		Fingerprint: toWireFingerprint(t.Fingerprint, t.FingerprintHash),
		Candidates:  toWireCandidates(t.Candidates),
	}
}

func toWireFingerprint(value, hash string) *wireFingerprint {
	if value == "" {
		return nil
	}
	return &wireFingerprint{Hash: hash, Value: value}
}

func toWireCandidates(cs []transport.TransportCandidate) []wireCandidate {
	out := make([]wireCandidate, len(cs))
	for i, c := range cs {
		out[i] = wireCandidate{
			Foundation: c.Foundation, Component: c.Component, Protocol: c.Protocol,
			Priority: c.Priority, IP: c.IP, Port: c.Port, Type: c.Type,
		}
	}
	return out
}

func toWireSources(owner source.EndpointID, set source.EndpointSourceSet) []wireSource {
	out := make([]wireSource, len(set.Sources))
	for i, s := range set.Sources {
		out[i] = wireSource{SSRC: uint32(s.SSRC), Kind: string(s.Kind), Name: s.Name, Video: string(s.Video), Muted: s.Muted}
	}
	return out
}

func fromWireCandidates(cs []wireCandidate) []transport.TransportCandidate {
	out := make([]transport.TransportCandidate, len(cs))
	for i, c := range cs {
		out[i] = transport.TransportCandidate{
			Foundation: c.Foundation, Component: c.Component, Protocol: c.Protocol,
			Priority: c.Priority, IP: c.IP, Port: c.Port, Type: c.Type,
		}
	}
	return out
}

func fromWireFeedback(sources []wireSource) []source.Source {
	out := make([]source.Source, len(sources))
	for i, s := range sources {
		out[i] = source.Source{
			SSRC: source.SSRC(s.SSRC), Kind: source.Kind(s.Kind), Owner: source.FeedbackOwner,
			Name: s.Name, Video: source.VideoType(s.Video), Muted: s.Muted,
		}
	}
	return out
}

func (r *wireConferenceModifyReply) endpointResult(id source.EndpointID) transport.EndpointResult {
	for _, e := range r.Endpoints {
		if e.ID != string(id) || e.Transport == nil {
			continue
		}
		return transport.EndpointResult{
			UFrag: e.Transport.UFrag, Password: e.Transport.Password,
			Fingerprint:     fingerprintValue(e.Transport.Fingerprint),
			FingerprintHash: fingerprintHash(e.Transport.Fingerprint),
			Candidates:      fromWireCandidates(e.Transport.Candidates),
			Feedback:        fromWireFeedback(r.Feedback),
		}
	}
	return transport.EndpointResult{Feedback: fromWireFeedback(r.Feedback)}
}

func (r *wireConferenceModifyReply) relayResult(id string) transport.RelayResult {
	for _, rl := range r.Relays {
		if rl.ID != id || rl.Transport == nil {
			continue
		}
		return transport.RelayResult{
			UFrag: rl.Transport.UFrag, Password: rl.Transport.Password,
			Fingerprint:     fingerprintValue(rl.Transport.Fingerprint),
			FingerprintHash: fingerprintHash(rl.Transport.Fingerprint),
			Candidates:      fromWireCandidates(rl.Transport.Candidates),
		}
	}
	return transport.RelayResult{}
}

func fingerprintValue(f *wireFingerprint) string {
	if f == nil {
		return ""
	}
	return f.Value
}

func fingerprintHash(f *wireFingerprint) string {
	if f == nil {
		return ""
	}
	return f.Hash
}
