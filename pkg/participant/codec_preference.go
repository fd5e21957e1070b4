package participant

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// CodecPreferenceAggregator computes the conference-wide effective codec ordering: the
// majority order over the set of codecs supported by every current participant
// (spec.md §4.6's "preference aggregator"). Effective reports whether the order changed;
// the Conference uses the order only in each new participant's offer and does not send
// an updated order to participants already in the conference.
type CodecPreferenceAggregator struct {
	mu      sync.Mutex
	orders  map[source.EndpointID][]string
	current []string
}

// NewCodecPreferenceAggregator creates an aggregator with no participants.
func NewCodecPreferenceAggregator() *CodecPreferenceAggregator {
	return &CodecPreferenceAggregator{orders: make(map[source.EndpointID][]string)}
}

// SetParticipant records or updates one participant's codec preference order (as
// discovered from its offer/answer), most-preferred first.
func (a *CodecPreferenceAggregator) SetParticipant(id source.EndpointID, order []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders[id] = order
}

// RemoveParticipant drops a participant from consideration, e.g. on leave.
func (a *CodecPreferenceAggregator) RemoveParticipant(id source.EndpointID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.orders, id)
}

// Effective returns the current majority codec order and whether it changed since the
// last call.
func (a *CodecPreferenceAggregator) Effective() ([]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.recompute()
	if slices.Equal(next, a.current) {
		return a.current, false
	}
	a.current = next
	return a.current, true
}

// recompute intersects every participant's supported codec set and orders the
// intersection by average rank (Borda count) across participants, ties broken
// alphabetically for determinism.
func (a *CodecPreferenceAggregator) recompute() []string {
	if len(a.orders) == 0 {
		return nil
	}

	ranks := make(map[source.EndpointID]map[string]int, len(a.orders))
	for id, order := range a.orders {
		m := make(map[string]int, len(order))
		for i, codec := range order {
			m[codec] = i
		}
		ranks[id] = m
	}

	intersection := intersectCodecSets(maps.Values(ranks))

	type scored struct {
		codec string
		avg   float64
	}
	scoredCodecs := make([]scored, 0, len(intersection))
	for _, codec := range intersection {
		sum := 0
		for _, m := range ranks {
			sum += m[codec]
		}
		scoredCodecs = append(scoredCodecs, scored{codec: codec, avg: float64(sum) / float64(len(ranks))})
	}

	slices.SortStableFunc(scoredCodecs, func(x, y scored) bool {
		if x.avg != y.avg {
			return x.avg < y.avg
		}
		return x.codec < y.codec
	})

	out := make([]string, len(scoredCodecs))
	for i, s := range scoredCodecs {
		out[i] = s.codec
	}
	return out
}

func intersectCodecSets(sets []map[string]int) []string {
	if len(sets) == 0 {
		return nil
	}
	var common []string
	for codec := range sets[0] {
		inAll := true
		for _, m := range sets[1:] {
			if _, ok := m[codec]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, codec)
		}
	}
	return common
}
