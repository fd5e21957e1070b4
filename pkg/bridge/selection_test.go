package bridge_test

import (
	"testing"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func config() bridge.SelectionConfig {
	return bridge.SelectionConfig{
		MaxBridgeParticipants: 2,
		OverloadThreshold:     0.8,
		RegionGroups:          map[string]string{"A": "eu", "B": "eu", "C": "us"},
	}
}

func TestRegionStrategy_PrefersInRegionBridge(t *testing.T) {
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Operational: true},
		{ID: "b2", Region: "B", Operational: true},
	}

	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{}, "B", bridge.VersionConstraint{})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("b2"), chosen.ID)
}

func TestRegionStrategy_RegionOverride(t *testing.T) {
	// Scenario 2 from spec.md §8: conference already on b1 (region A); a participant in
	// region B should move selection to b2, not stick with the existing bridge.
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Operational: true},
		{ID: "b2", Region: "B", Operational: true},
	}

	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{"b1": 1}, "B", bridge.VersionConstraint{})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("b2"), chosen.ID)
}

func TestRegionStrategy_RegionGroupFallback(t *testing.T) {
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Operational: true},
	}

	// Participant region "B" is in the same group ("eu") as "A".
	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{}, "B", bridge.VersionConstraint{})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("b1"), chosen.ID)
}

func TestRegionStrategy_MaxParticipantsBoundary(t *testing.T) {
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Operational: true},
		{ID: "b2", Region: "A", Operational: true},
	}

	// b1 is already at MaxBridgeParticipants (2): the next participant must land elsewhere.
	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{"b1": 2}, "A", bridge.VersionConstraint{})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("b2"), chosen.ID)
}

func TestRegionStrategy_NoOperationalCandidate(t *testing.T) {
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Operational: false},
	}

	_, ok := strategy.Select(candidates, map[bridge.ID]int{}, "A", bridge.VersionConstraint{})
	assert.False(t, ok)
}

func TestRegionStrategy_FallsBackToDrainingWhenNoPureOperational(t *testing.T) {
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Operational: true, Draining: true},
	}

	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{}, "A", bridge.VersionConstraint{})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("b1"), chosen.ID)
}

func TestRegionStrategy_VersionPinning(t *testing.T) {
	// Scenario 6 from spec.md §8: a pin forces version "v2".
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "b1", Region: "A", Version: "v1", Operational: true},
		{ID: "b2", Region: "A", Version: "v2", Operational: true},
	}

	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{}, "A", bridge.VersionConstraint{Version: "v2", Pinned: true})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("b2"), chosen.ID)
}

func TestRegionStrategy_OverloadedPlacedLast(t *testing.T) {
	strategy := bridge.RegionStrategy{Config: config()}

	candidates := []bridge.Bridge{
		{ID: "overloaded", Region: "A", Operational: true, Load: bridge.LoadReport{Stress: 0.95}},
		{ID: "healthy", Region: "A", Operational: true, Load: bridge.LoadReport{Stress: 0.1}},
	}

	// Neither is in the conference and both share the region, so step 2 picks by order,
	// which must put the overloaded bridge last.
	chosen, ok := strategy.Select(candidates, map[bridge.ID]int{}, "A", bridge.VersionConstraint{})
	require.True(t, ok)
	assert.Equal(t, bridge.ID("healthy"), chosen.ID)
}
