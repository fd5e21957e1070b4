package source

import (
	"fmt"

	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
)

// Limits bounds the per-endpoint source and group counts (I3).
type Limits struct {
	MaxSsrcsPerUser      int
	MaxSsrcGroupsPerUser int
}

// DefaultLimits matches Jitsi's historical defaults: enough for several simulcast-layered
// video sources plus audio, without letting a single misbehaving endpoint exhaust memory.
var DefaultLimits = Limits{MaxSsrcsPerUser: 20, MaxSsrcGroupsPerUser: 20}

// Graph is the conference-wide source map together with its validation rules. It is not
// internally synchronized: callers serialize access (spec.md §5's per-conference
// single-writer queue).
type Graph struct {
	limits Limits
	byID   ConferenceSourceMap
}

// NewGraph creates an empty source graph enforcing the given limits.
func NewGraph(limits Limits) *Graph {
	return &Graph{limits: limits, byID: make(ConferenceSourceMap)}
}

// ssrcOwners indexes every SSRC currently present to its owning endpoint, used to detect
// I1 violations in O(1) per candidate source.
func (g *Graph) ssrcOwners() map[SSRC]EndpointID {
	owners := make(map[SSRC]EndpointID)
	for id, set := range g.byID {
		for _, s := range set.Sources {
			owners[s.SSRC] = id
		}
	}
	return owners
}

// TryAdd accepts sources and groups not already present for a different endpoint, collapsing
// duplicates already present on the same endpoint. It returns the subset actually added
// (empty if everything was already present) or an error if the addition would violate I1,
// I2, or I3. On error the graph is left unmodified.
func (g *Graph) TryAdd(id EndpointID, toAdd EndpointSourceSet) (EndpointSourceSet, error) {
	existing := g.byID[id]
	owners := g.ssrcOwners()

	existingSSRCs := make(map[SSRC]bool, len(existing.Sources))
	for _, s := range existing.Sources {
		existingSSRCs[s.SSRC] = true
	}

	var newSources []Source
	for _, s := range toAdd.Sources {
		if existingSSRCs[s.SSRC] {
			continue // already present on this endpoint: collapsed silently.
		}
		if owner, ok := owners[s.SSRC]; ok && owner != id {
			return EndpointSourceSet{}, fmt.Errorf("ssrc %d already owned by %s: %w", s.SSRC, owner, jicofoerr.ErrSsrcConflict)
		}
		newSources = append(newSources, s)
	}

	if len(existing.Sources)+len(newSources) > g.limits.MaxSsrcsPerUser {
		return EndpointSourceSet{}, fmt.Errorf("endpoint %s would exceed %d sources: %w", id, g.limits.MaxSsrcsPerUser, jicofoerr.ErrSsrcLimitExceeded)
	}

	existingGroupKeys := make(map[string]bool, len(existing.Groups))
	for _, grp := range existing.Groups {
		existingGroupKeys[grp.key()] = true
	}

	// The would-be set of SSRCs on (id, kind), used to validate I2 for the new groups.
	wouldBeSSRCs := make(map[Kind]map[SSRC]bool)
	addSSRC := func(kind Kind, ssrc SSRC) {
		if wouldBeSSRCs[kind] == nil {
			wouldBeSSRCs[kind] = make(map[SSRC]bool)
		}
		wouldBeSSRCs[kind][ssrc] = true
	}
	for _, s := range existing.Sources {
		addSSRC(s.Kind, s.SSRC)
	}
	for _, s := range newSources {
		addSSRC(s.Kind, s.SSRC)
	}

	var newGroups []SsrcGroup
	for _, grp := range toAdd.Groups {
		if existingGroupKeys[grp.key()] {
			continue
		}
		for _, ssrc := range grp.SSRCs {
			if !wouldBeSSRCs[grp.Kind][ssrc] {
				return EndpointSourceSet{}, fmt.Errorf("group %s references unknown ssrc %d on %s: %w", grp.Semantics, ssrc, grp.Kind, jicofoerr.ErrGroupInconsistent)
			}
		}
		newGroups = append(newGroups, grp)
	}

	if len(existing.Groups)+len(newGroups) > g.limits.MaxSsrcGroupsPerUser {
		return EndpointSourceSet{}, fmt.Errorf("endpoint %s would exceed %d groups: %w", id, g.limits.MaxSsrcGroupsPerUser, jicofoerr.ErrSsrcLimitExceeded)
	}

	if len(newSources) == 0 && len(newGroups) == 0 {
		return EndpointSourceSet{}, nil
	}

	existing.Sources = append(append([]Source{}, existing.Sources...), newSources...)
	existing.Groups = append(append([]SsrcGroup{}, existing.Groups...), newGroups...)
	g.byID[id] = existing

	return EndpointSourceSet{Sources: newSources, Groups: newGroups}, nil
}

// TryRemove removes only the sources and groups of toRemove that are actually present on
// id, returning the subset actually removed. Any group left referencing a now-missing
// SSRC is removed as a whole and included in the returned set.
func (g *Graph) TryRemove(id EndpointID, toRemove EndpointSourceSet) EndpointSourceSet {
	existing, ok := g.byID[id]
	if !ok {
		return EndpointSourceSet{}
	}

	removeSSRCs := make(map[SSRC]bool, len(toRemove.Sources))
	for _, s := range toRemove.Sources {
		removeSSRCs[s.SSRC] = true
	}

	var removedSources, keptSources []Source
	remainingSSRCs := make(map[Kind]map[SSRC]bool)
	keepSSRC := func(kind Kind, ssrc SSRC) {
		if remainingSSRCs[kind] == nil {
			remainingSSRCs[kind] = make(map[SSRC]bool)
		}
		remainingSSRCs[kind][ssrc] = true
	}
	for _, s := range existing.Sources {
		if removeSSRCs[s.SSRC] {
			removedSources = append(removedSources, s)
			continue
		}
		keptSources = append(keptSources, s)
		keepSSRC(s.Kind, s.SSRC)
	}

	removeGroupKeys := make(map[string]bool, len(toRemove.Groups))
	for _, grp := range toRemove.Groups {
		removeGroupKeys[grp.key()] = true
	}

	var removedGroups, keptGroups []SsrcGroup
	for _, grp := range existing.Groups {
		orphaned := false
		for _, ssrc := range grp.SSRCs {
			if !remainingSSRCs[grp.Kind][ssrc] {
				orphaned = true
				break
			}
		}

		if removeGroupKeys[grp.key()] || orphaned {
			removedGroups = append(removedGroups, grp)
			continue
		}
		keptGroups = append(keptGroups, grp)
	}

	if len(keptSources) == 0 && len(keptGroups) == 0 {
		delete(g.byID, id)
	} else {
		g.byID[id] = EndpointSourceSet{Sources: keptSources, Groups: keptGroups}
	}

	return EndpointSourceSet{Sources: removedSources, Groups: removedGroups}
}

// RemoveEndpoint atomically removes all sources and groups belonging to id.
func (g *Graph) RemoveEndpoint(id EndpointID) EndpointSourceSet {
	existing, ok := g.byID[id]
	if !ok {
		return EndpointSourceSet{}
	}
	delete(g.byID, id)
	return existing
}

// Snapshot returns an immutable copy of the whole conference source map.
func (g *Graph) Snapshot() ConferenceSourceMap {
	return g.byID.Clone()
}

// Diff computes, per endpoint, the sources and groups present in after but not in before
// (added) and vice versa (removed). Sources are compared by SSRC, groups by semantics,
// kind and SSRC list.
func Diff(before, after ConferenceSourceMap) (added, removed ConferenceSourceMap) {
	added, removed = make(ConferenceSourceMap), make(ConferenceSourceMap)

	for id, afterSet := range after {
		beforeSet := before[id]
		addedSet := setDiff(afterSet, beforeSet)
		if !addedSet.IsEmpty() {
			added[id] = addedSet
		}
	}

	for id, beforeSet := range before {
		afterSet := after[id]
		removedSet := setDiff(beforeSet, afterSet)
		if !removedSet.IsEmpty() {
			removed[id] = removedSet
		}
	}

	return added, removed
}

func setDiff(a, b EndpointSourceSet) EndpointSourceSet {
	inB := make(map[SSRC]bool, len(b.Sources))
	for _, s := range b.Sources {
		inB[s.SSRC] = true
	}

	var sources []Source
	for _, s := range a.Sources {
		if !inB[s.SSRC] {
			sources = append(sources, s)
		}
	}

	groupInB := make(map[string]bool, len(b.Groups))
	for _, grp := range b.Groups {
		groupInB[grp.key()] = true
	}

	var groups []SsrcGroup
	for _, grp := range a.Groups {
		if !groupInB[grp.key()] {
			groups = append(groups, grp)
		}
	}

	return EndpointSourceSet{Sources: sources, Groups: groups}
}
