package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/participant"
	"github.com/jitsi-contrib/jicofo-go/pkg/registry"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// jingleSender is a no-op jingle.Sender: these tests only exercise Registry's
// create/destroy/pin bookkeeping, never an actual Jingle negotiation.
type jingleSender struct{}

func (jingleSender) SendInitiate(context.Context, string, jingle.Offer) error { return nil }
func (jingleSender) SendSourceAdd(context.Context, string, source.ConferenceSourceMap) error {
	return nil
}
func (jingleSender) SendSourceRemove(context.Context, string, source.ConferenceSourceMap) error {
	return nil
}
func (jingleSender) SendTransportReplace(context.Context, string, jingle.Transport) error {
	return nil
}
func (jingleSender) SendTerminate(context.Context, string, jingle.TerminateReason) error {
	return nil
}

type stubTransport struct{}

func (stubTransport) CreateSession(context.Context, bridge.ID, string) error { return nil }
func (stubTransport) ExpireSession(context.Context, bridge.ID, string) error { return nil }
func (stubTransport) CreateEndpoint(context.Context, bridge.ID, string, transport.EndpointSpec) (transport.EndpointResult, error) {
	return transport.EndpointResult{}, nil
}
func (stubTransport) UpdateEndpoint(context.Context, bridge.ID, string, source.EndpointID, transport.EndpointSpec) error {
	return nil
}
func (stubTransport) ExpireEndpoint(context.Context, bridge.ID, string, source.EndpointID) error {
	return nil
}
func (stubTransport) CreateRelay(context.Context, bridge.ID, string, transport.RelaySpec) (transport.RelayResult, error) {
	return transport.RelayResult{}, nil
}
func (stubTransport) ExpireRelay(context.Context, bridge.ID, string, string) error { return nil }
func (stubTransport) RelayAddEndpoint(context.Context, bridge.ID, string, string, source.EndpointID, source.EndpointSourceSet) error {
	return nil
}
func (stubTransport) RelayRemoveEndpoint(context.Context, bridge.ID, string, string, source.EndpointID) error {
	return nil
}
func (stubTransport) UpdateSources(context.Context, bridge.ID, string, source.EndpointID, source.EndpointSourceSet) error {
	return nil
}

func newFactory(logger *logrus.Entry, clock func() time.Time) registry.Factory {
	return func(roomID string) *conference.Conference {
		br := bridge.NewRegistry(logger)
		br.AddOrUpdate("b1", "eu", "v1", bridge.LoadReport{})
		mgr := colibri.NewManager(logger, stubTransport{}, br, bridge.RegionStrategy{Config: bridge.SelectionConfig{MaxBridgeParticipants: 100}})
		graph := source.NewGraph(source.DefaultLimits)
		return conference.NewWithManager(roomID, logger, graph, mgr, conference.NewFirstOccupantPolicy(),
			func(conference.Member) jingle.Sender { return jingleSender{} },
			participant.OfferOptions{Audio: true}, clock)
	}
}

func TestGetOrCreate_ReturnsSameConferenceForSameRoom(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	now := time.Now()
	r := registry.New(logger, newFactory(logger, func() time.Time { return now }), func() time.Time { return now })

	c1, err := r.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	c2, err := r.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestGet_ReportsUnknownRoom(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	r := registry.New(logger, newFactory(logger, time.Now), nil)

	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestDestroy_RemovesRoomAndIsIdempotent(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	r := registry.New(logger, newFactory(logger, time.Now), nil)

	_, err := r.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)

	require.NoError(t, r.Destroy(context.Background(), "room1"))
	_, ok := r.Get("room1")
	assert.False(t, ok)

	assert.NoError(t, r.Destroy(context.Background(), "room1"))
}

func TestPin_ExpiresAfterDuration(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	now := time.Now()
	clock := func() time.Time { return now }
	r := registry.New(logger, newFactory(logger, clock), clock)

	r.Pin("room1", bridge.VersionConstraint{Version: "v2", Pinned: true}, 10*time.Second)
	v, ok := r.VersionForRoom("room1")
	require.True(t, ok)
	assert.Equal(t, "v2", v.Version)

	now = now.Add(11 * time.Second)
	_, ok = r.VersionForRoom("room1")
	assert.False(t, ok)
}

func TestSweepExpiredPins_RemovesOnlyExpired(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	now := time.Now()
	clock := func() time.Time { return now }
	r := registry.New(logger, newFactory(logger, clock), clock)

	r.Pin("expired", bridge.VersionConstraint{Version: "v1"}, time.Second)
	r.Pin("fresh", bridge.VersionConstraint{Version: "v1"}, time.Hour)

	now = now.Add(2 * time.Second)
	removed := r.SweepExpiredPins()
	assert.Equal(t, 1, removed)

	_, ok := r.VersionForRoom("fresh")
	assert.True(t, ok)
}

func TestSweepEmpty_DestroysAfterGraceWindowElapses(t *testing.T) {
	logger := logrus.NewEntry(logrus.New())
	now := time.Now()
	clock := func() time.Time { return now }
	r := registry.New(logger, newFactory(logger, clock), clock)

	_, err := r.GetOrCreate(context.Background(), "room1")
	require.NoError(t, err)

	r.SweepEmpty(context.Background(), 5*time.Second)
	_, ok := r.Get("room1")
	require.True(t, ok, "first sweep only records emptiness, doesn't destroy yet")

	now = now.Add(6 * time.Second)
	r.SweepEmpty(context.Background(), 5*time.Second)
	_, ok = r.Get("room1")
	assert.False(t, ok)
}
