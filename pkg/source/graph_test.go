package source_test

import (
	"errors"
	"testing"

	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAdd_RejectsConflictingSSRC(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)

	_, err := g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{{SSRC: 100, Kind: source.KindAudio, Owner: "alice"}},
	})
	require.NoError(t, err)

	_, err = g.TryAdd("bob", source.EndpointSourceSet{
		Sources: []source.Source{{SSRC: 100, Kind: source.KindAudio, Owner: "bob"}},
	})
	assert.True(t, errors.Is(err, jicofoerr.ErrSsrcConflict))
}

func TestTryAdd_CollapsesDuplicatesOnSameEndpoint(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)
	set := source.EndpointSourceSet{Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio, Owner: "alice"}}}

	added, err := g.TryAdd("alice", set)
	require.NoError(t, err)
	assert.Len(t, added.Sources, 1)

	added, err = g.TryAdd("alice", set)
	require.NoError(t, err)
	assert.Empty(t, added.Sources)
}

func TestTryAdd_RejectsGroupReferencingUnknownSSRC(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)

	_, err := g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{{SSRC: 1, Kind: source.KindVideo, Owner: "alice"}},
		Groups: []source.SsrcGroup{
			{Semantics: source.GroupSim, Kind: source.KindVideo, SSRCs: []source.SSRC{1, 2}},
		},
	})
	assert.True(t, errors.Is(err, jicofoerr.ErrGroupInconsistent))
}

func TestTryAdd_AcceptsGroupWhoseSSRCsAreAddedTogether(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)

	added, err := g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{
			{SSRC: 1, Kind: source.KindVideo, Owner: "alice"},
			{SSRC: 2, Kind: source.KindVideo, Owner: "alice"},
		},
		Groups: []source.SsrcGroup{
			{Semantics: source.GroupSim, Kind: source.KindVideo, SSRCs: []source.SSRC{1, 2}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, added.Groups, 1)
}

func TestTryAdd_ExactlyLimitAcceptedNPlus1Rejected(t *testing.T) {
	limits := source.Limits{MaxSsrcsPerUser: 2, MaxSsrcGroupsPerUser: 2}
	g := source.NewGraph(limits)

	_, err := g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{
			{SSRC: 1, Kind: source.KindAudio, Owner: "alice"},
			{SSRC: 2, Kind: source.KindAudio, Owner: "alice"},
		},
	})
	require.NoError(t, err)

	_, err = g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{{SSRC: 3, Kind: source.KindAudio, Owner: "alice"}},
	})
	assert.True(t, errors.Is(err, jicofoerr.ErrSsrcLimitExceeded))
}

func TestTryRemove_OrphansGroupAsAWhole(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)

	_, err := g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{
			{SSRC: 1, Kind: source.KindVideo, Owner: "alice"},
			{SSRC: 2, Kind: source.KindVideo, Owner: "alice"},
		},
		Groups: []source.SsrcGroup{
			{Semantics: source.GroupSim, Kind: source.KindVideo, SSRCs: []source.SSRC{1, 2}},
		},
	})
	require.NoError(t, err)

	removed := g.TryRemove("alice", source.EndpointSourceSet{
		Sources: []source.Source{{SSRC: 1, Kind: source.KindVideo, Owner: "alice"}},
	})

	assert.Len(t, removed.Sources, 1)
	require.Len(t, removed.Groups, 1, "the now-orphaned group must be reported as removed")
}

func TestAddThenRemove_ReturnsToPriorSnapshot(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)
	before := g.Snapshot()

	set := source.EndpointSourceSet{
		Sources: []source.Source{
			{SSRC: 10, Kind: source.KindAudio, Owner: "alice"},
			{SSRC: 11, Kind: source.KindVideo, Owner: "alice"},
		},
	}

	_, err := g.TryAdd("alice", set)
	require.NoError(t, err)
	g.TryRemove("alice", set)

	assert.Equal(t, before, g.Snapshot())
}

func TestRemoveEndpoint_IsAtomic(t *testing.T) {
	g := source.NewGraph(source.DefaultLimits)
	_, err := g.TryAdd("alice", source.EndpointSourceSet{
		Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio, Owner: "alice"}},
	})
	require.NoError(t, err)

	removed := g.RemoveEndpoint("alice")
	assert.Len(t, removed.Sources, 1)
	assert.Empty(t, g.Snapshot())
}

func TestDiff(t *testing.T) {
	before := source.ConferenceSourceMap{
		"alice": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio, Owner: "alice"}}},
	}
	after := source.ConferenceSourceMap{
		"alice": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio, Owner: "alice"}}},
		"bob":   {Sources: []source.Source{{SSRC: 2, Kind: source.KindAudio, Owner: "bob"}}},
	}

	added, removed := source.Diff(before, after)
	assert.Contains(t, added, source.EndpointID("bob"))
	assert.NotContains(t, added, source.EndpointID("alice"))
	assert.Empty(t, removed)
}
