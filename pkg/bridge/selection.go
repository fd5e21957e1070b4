package bridge

import (
	"golang.org/x/exp/slices"
)

// SelectionConfig holds the tunables of the region-based default strategy.
type SelectionConfig struct {
	// MaxBridgeParticipants caps how many participants a single bridge may carry before
	// step 1 of the region policy stops preferring it (spec.md §4.3 step 1).
	MaxBridgeParticipants int `yaml:"max_bridge_participants"`
	// OverloadThreshold is the stress value above which a bridge is placed last in
	// ordering regardless of region match (spec.md §4.3, supplemented per SPEC_FULL.md).
	OverloadThreshold float64 `yaml:"overload_threshold"`
	// RegionGroups maps a region to its equivalence class for "near" placement
	// (spec.md §4.3 step 3, supplemented per SPEC_FULL.md).
	RegionGroups map[string]string `yaml:"region_groups"`
}

// VersionConstraint optionally pins selection to one bridge version (from a
// PinnedConference, or from the set of bridges already in the conference).
type VersionConstraint struct {
	Version string
	// Pinned marks the constraint as coming from an explicit pin rather than from the
	// conference's own existing bridge versions. It is informational only: selection
	// does not read it.
	Pinned bool
}

func (v VersionConstraint) isSet() bool { return v.Version != "" }

// Strategy chooses one bridge for a new participant, or reports that none is available.
// It is a pure function over its inputs: no strategy implementation may read or write
// global state, which is what makes bridge selection independently testable (spec.md §9).
type Strategy interface {
	Select(candidates []Bridge, conferenceBridges map[ID]int, participantRegion string, versionConstraint VersionConstraint) (Bridge, bool)
}

// RegionStrategy is the default selection policy described in spec.md §4.3.
type RegionStrategy struct {
	Config SelectionConfig
}

// Select implements Strategy.
func (s RegionStrategy) Select(candidates []Bridge, conferenceBridges map[ID]int, participantRegion string, versionConstraint VersionConstraint) (Bridge, bool) {
	filtered := s.filterCandidates(candidates, conferenceBridges, versionConstraint)
	if len(filtered) == 0 {
		return Bridge{}, false
	}

	s.order(filtered, conferenceBridges)

	// Step 1: a bridge already in the conference, in-region, and not over capacity.
	for _, b := range filtered {
		if _, inConf := conferenceBridges[b.ID]; inConf && b.Region == participantRegion {
			if conferenceBridges[b.ID] < s.Config.MaxBridgeParticipants {
				return b, true
			}
		}
	}

	// Step 2: any bridge in-region.
	for _, b := range filtered {
		if b.Region == participantRegion {
			return b, true
		}
	}

	// Step 3: a bridge in the same region group.
	group := s.Config.RegionGroups[participantRegion]
	if group != "" {
		for _, b := range filtered {
			if s.Config.RegionGroups[b.Region] == group {
				return b, true
			}
		}
	}

	// Step 4: a bridge already in the conference, regardless of region.
	for _, b := range filtered {
		if _, inConf := conferenceBridges[b.ID]; inConf {
			return b, true
		}
	}

	// Step 5: any operational bridge.
	return filtered[0], true
}

// filterCandidates keeps operational bridges matching versionConstraint. If no strictly
// operational (non-draining) candidate exists, it falls back to operational-but-draining
// bridges, per spec.md §4.3's "If no operational candidate exists, fall back to
// operational-but-draining."
func (s RegionStrategy) filterCandidates(candidates []Bridge, conferenceBridges map[ID]int, versionConstraint VersionConstraint) []Bridge {
	version := versionConstraint.Version
	if !versionConstraint.isSet() && len(conferenceBridges) > 0 {
		// If the conference already spans bridges, all must share one version: infer it
		// from the first known conference bridge.
		for id := range conferenceBridges {
			for _, b := range candidates {
				if b.ID == id {
					version = b.Version
				}
			}
			break
		}
	}

	matches := func(b Bridge) bool {
		return b.Operational && (version == "" || b.Version == version)
	}

	var nonDraining, draining []Bridge
	for _, b := range candidates {
		if !matches(b) {
			continue
		}
		if b.Draining {
			draining = append(draining, b)
		} else {
			nonDraining = append(nonDraining, b)
		}
	}

	if len(nonDraining) > 0 {
		return nonDraining
	}
	return draining
}

// order sorts candidates ascending by estimated load, ties broken by fewer existing
// conference participants, with overloaded bridges placed last regardless of load value.
func (s RegionStrategy) order(candidates []Bridge, conferenceBridges map[ID]int) {
	slices.SortStableFunc(candidates, func(a, b Bridge) bool {
		aOverloaded := a.Overloaded(s.Config.OverloadThreshold)
		bOverloaded := b.Overloaded(s.Config.OverloadThreshold)
		if aOverloaded != bOverloaded {
			return !aOverloaded
		}
		if a.Load.Stress != b.Load.Stress {
			return a.Load.Stress < b.Load.Stress
		}
		return conferenceBridges[a.ID] < conferenceBridges[b.ID]
	})
}
