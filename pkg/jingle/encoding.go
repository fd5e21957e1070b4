package jingle

import (
	"encoding/json"

	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// jsonSource is the wire shape of one Source under the json-encoded-sources feature.
type jsonSource struct {
	SSRC   source.SSRC      `json:"ssrc"`
	Kind   source.Kind      `json:"kind"`
	Name   string           `json:"name,omitempty"`
	Video  source.VideoType `json:"videoType,omitempty"`
	Muted  bool             `json:"muted,omitempty"`
}

type jsonGroup struct {
	Semantics source.GroupSemantics `json:"semantics"`
	Kind      source.Kind           `json:"kind"`
	SSRCs     []source.SSRC         `json:"ssrcs"`
}

type jsonEndpoint struct {
	Owner  source.EndpointID `json:"owner"`
	Sources []jsonSource      `json:"sources,omitempty"`
	Groups  []jsonGroup       `json:"groups,omitempty"`
}

// EncodeSourcesJSON renders a ConferenceSourceMap in the alternate JSON encoding used by
// participants advertising the json-encoded-sources feature (spec.md §4.5).
func EncodeSourcesJSON(m source.ConferenceSourceMap) ([]byte, error) {
	endpoints := make([]jsonEndpoint, 0, len(m))
	for owner, set := range m {
		e := jsonEndpoint{Owner: owner}
		for _, src := range set.Sources {
			e.Sources = append(e.Sources, jsonSource{
				SSRC: src.SSRC, Kind: src.Kind, Name: src.Name, Video: src.Video, Muted: src.Muted,
			})
		}
		for _, g := range set.Groups {
			e.Groups = append(e.Groups, jsonGroup{Semantics: g.Semantics, Kind: g.Kind, SSRCs: g.SSRCs})
		}
		endpoints = append(endpoints, e)
	}
	return json.Marshal(endpoints)
}

// DecodeSourcesJSON parses the alternate JSON encoding back into a ConferenceSourceMap.
func DecodeSourcesJSON(data []byte) (source.ConferenceSourceMap, error) {
	var endpoints []jsonEndpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return nil, err
	}

	out := make(source.ConferenceSourceMap, len(endpoints))
	for _, e := range endpoints {
		set := source.EndpointSourceSet{}
		for _, s := range e.Sources {
			set.Sources = append(set.Sources, source.Source{
				SSRC: s.SSRC, Kind: s.Kind, Owner: e.Owner, Name: s.Name, Video: s.Video, Muted: s.Muted,
			})
		}
		for _, g := range e.Groups {
			set.Groups = append(set.Groups, source.SsrcGroup{Semantics: g.Semantics, Kind: g.Kind, SSRCs: g.SSRCs})
		}
		out[e.Owner] = set
	}
	return out, nil
}
