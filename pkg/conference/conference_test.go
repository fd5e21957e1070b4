package conference_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/participant"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// fakeTransport is an in-memory colibri transport.Client, same shape as pkg/colibri's
// own fake but kept local so this package's tests don't depend on another package's
// _test.go file.
type fakeTransport struct {
	mu       sync.Mutex
	sessions map[bridge.ID]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sessions: map[bridge.ID]bool{}}
}

func (f *fakeTransport) CreateSession(_ context.Context, b bridge.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[b] = true
	return nil
}

func (f *fakeTransport) ExpireSession(_ context.Context, b bridge.ID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, b)
	return nil
}

func (f *fakeTransport) CreateEndpoint(_ context.Context, b bridge.ID, _ string, _ transport.EndpointSpec) (transport.EndpointResult, error) {
	return transport.EndpointResult{
		UFrag:    string(b) + "-ufrag",
		Password: string(b) + "-pwd",
		Feedback: []source.Source{{SSRC: 999, Kind: source.KindVideo, Owner: source.FeedbackOwner}},
	}, nil
}

func (f *fakeTransport) UpdateEndpoint(context.Context, bridge.ID, string, source.EndpointID, transport.EndpointSpec) error {
	return nil
}

func (f *fakeTransport) ExpireEndpoint(context.Context, bridge.ID, string, source.EndpointID) error {
	return nil
}

func (f *fakeTransport) CreateRelay(_ context.Context, b bridge.ID, _ string, _ transport.RelaySpec) (transport.RelayResult, error) {
	return transport.RelayResult{UFrag: string(b) + "-relay-ufrag"}, nil
}

func (f *fakeTransport) ExpireRelay(context.Context, bridge.ID, string, string) error { return nil }

func (f *fakeTransport) RelayAddEndpoint(context.Context, bridge.ID, string, string, source.EndpointID, source.EndpointSourceSet) error {
	return nil
}

func (f *fakeTransport) RelayRemoveEndpoint(context.Context, bridge.ID, string, string, source.EndpointID) error {
	return nil
}

func (f *fakeTransport) UpdateSources(context.Context, bridge.ID, string, source.EndpointID, source.EndpointSourceSet) error {
	return nil
}

// fakeSender records every stanza a Conference sends to one participant.
type fakeSender struct {
	mu                sync.Mutex
	initiated         []jingle.Offer
	sourceAdds        []source.ConferenceSourceMap
	transportReplaces []jingle.Transport
	terminated        []jingle.TerminateReason
}

func (s *fakeSender) SendInitiate(_ context.Context, _ string, offer jingle.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiated = append(s.initiated, offer)
	return nil
}

func (s *fakeSender) SendSourceAdd(_ context.Context, _ string, sources source.ConferenceSourceMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sourceAdds = append(s.sourceAdds, sources)
	return nil
}

func (s *fakeSender) SendSourceRemove(context.Context, string, source.ConferenceSourceMap) error {
	return nil
}

func (s *fakeSender) SendTransportReplace(_ context.Context, _ string, t jingle.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transportReplaces = append(s.transportReplaces, t)
	return nil
}

func (s *fakeSender) SendTerminate(_ context.Context, _ string, reason jingle.TerminateReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = append(s.terminated, reason)
	return nil
}

// harness bundles a Conference with the fakes needed to drive it end to end.
type harness struct {
	conf     *conference.Conference
	senders  map[source.EndpointID]*fakeSender
	mu       sync.Mutex
	registry *bridge.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.NewEntry(logrus.New())
	registry := bridge.NewRegistry(logger)
	registry.AddOrUpdate("b1", "eu", "v1", bridge.LoadReport{})

	strategy := bridge.RegionStrategy{Config: bridge.SelectionConfig{MaxBridgeParticipants: 100}}
	mgr := colibri.NewManager(logger, newFakeTransport(), registry, strategy)

	h := &harness{senders: make(map[source.EndpointID]*fakeSender), registry: registry}
	factory := func(m conference.Member) jingle.Sender {
		h.mu.Lock()
		defer h.mu.Unlock()
		s := &fakeSender{}
		h.senders[m.ID] = s
		return s
	}

	graph := source.NewGraph(source.DefaultLimits)
	offerOptions := participant.OfferOptions{Audio: true, Video: true}
	h.conf = conference.NewWithManager("room1", logger, graph, mgr, conference.NewFirstOccupantPolicy(), factory,
		offerOptions, func() time.Time { return time.Unix(0, 0) })
	return h
}

func (h *harness) sender(id source.EndpointID) *fakeSender {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.senders[id]
}

func TestOnMemberJoined_InvitesNonBotAndSkipsBot(t *testing.T) {
	h := newHarness(t)

	err := h.conf.OnMemberJoined(context.Background(), conference.Member{ID: "p1", Region: "eu"})
	require.NoError(t, err)
	require.NotNil(t, h.sender("p1"))
	assert.Len(t, h.sender("p1").initiated, 1)

	err = h.conf.OnMemberJoined(context.Background(), conference.Member{ID: "recorder1", Kind: conference.MemberRecorder, Region: "eu"})
	require.NoError(t, err)
	assert.Nil(t, h.sender("recorder1"))

	assert.Equal(t, 1, h.conf.ParticipantCount())
}

func TestOnMemberJoined_DuplicateIsRejected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conf.OnMemberJoined(context.Background(), conference.Member{ID: "p1", Region: "eu"}))

	err := h.conf.OnMemberJoined(context.Background(), conference.Member{ID: "p1", Region: "eu"})
	assert.ErrorContains(t, err, "already invited")
}

func TestOnSessionAccept_FansSourcesOutToExistingParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.NoError(t, h.conf.OnSessionAccept(ctx, "p1", jingle.Answer{
		Sources: source.ConferenceSourceMap{"p1": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio}}}},
	}))

	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p2", Region: "eu"}))
	require.NoError(t, h.conf.OnSessionAccept(ctx, "p2", jingle.Answer{
		Sources: source.ConferenceSourceMap{"p2": {Sources: []source.Source{{SSRC: 2, Kind: source.KindAudio}}}},
	}))

	// p1 is Active by the time p2 accepts, so p2's new source is flushed to it
	// immediately rather than staying queued.
	require.Len(t, h.sender("p1").sourceAdds, 1)
	assert.Contains(t, h.sender("p1").sourceAdds[0], source.EndpointID("p2"))
}

func TestMute_OnlyOwnerCanMuteSomeoneElse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p2", Region: "eu"}))

	// p1 joined first under FirstOccupantPolicy, so it owns the room.
	err := h.conf.Mute(ctx, "p2", "p1", source.KindAudio, true)
	assert.ErrorContains(t, err, "not allowed")

	err = h.conf.Mute(ctx, "p1", "p2", source.KindAudio, true)
	assert.NoError(t, err)
}

func TestMute_SelfUnmuteAlwaysAllowed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))

	assert.NoError(t, h.conf.Mute(ctx, "p1", "p1", source.KindAudio, false))
}

func TestOnMemberLeft_RemovesFromGraphAndRoster(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.Equal(t, 1, h.conf.ParticipantCount())

	require.NoError(t, h.conf.OnMemberLeft(ctx, "p1"))
	assert.Equal(t, 0, h.conf.ParticipantCount())

	// Leaving twice is a no-op, not an error.
	assert.NoError(t, h.conf.OnMemberLeft(ctx, "p1"))
}

func TestOnBridgeRemoved_ReinvitesAffectedParticipants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.Len(t, h.sender("p1").initiated, 1)

	require.NoError(t, h.conf.OnBridgeRemoved(ctx, "b1"))

	// A fresh jingle.Session is created by invite() on reinvite, wired to a fresh
	// fakeSender (the factory is called again), so the participant count is unaffected
	// and exactly one participant remains.
	assert.Equal(t, 1, h.conf.ParticipantCount())
}

func TestOnTransportReplace_SendsRestartToActiveParticipant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.NoError(t, h.conf.OnSessionAccept(ctx, "p1", jingle.Answer{
		Sources: source.ConferenceSourceMap{"p1": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio}}}},
	}))

	require.NoError(t, h.conf.OnTransportReplace(ctx, "p1"))
	require.Len(t, h.sender("p1").transportReplaces, 1)
	assert.Equal(t, "b1-ufrag", h.sender("p1").transportReplaces[0].UFrag)

	// A restart accept completes the cycle: a fresh session-accept is applied and the
	// participant's queue, held since the restart began, is released without error.
	require.NoError(t, h.conf.OnSessionAccept(ctx, "p1", jingle.Answer{
		Transport: jingle.Transport{UFrag: "new-ufrag", Password: "new-pwd"},
		Sources:   source.ConferenceSourceMap{"p1": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio}}}},
	}))
}

func TestOnTransportReplace_RejectsBeforeSessionIsActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))

	// p1 is still Initiated (no session-accept yet), so a restart request is rejected.
	err := h.conf.OnTransportReplace(ctx, "p1")
	assert.ErrorContains(t, err, "not allowed")
}

func TestOnTransportReplace_RejectsWhileAlreadyRestarting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.NoError(t, h.conf.OnSessionAccept(ctx, "p1", jingle.Answer{
		Sources: source.ConferenceSourceMap{"p1": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio}}}},
	}))

	require.NoError(t, h.conf.OnTransportReplace(ctx, "p1"))

	// A second restart request before the first one's accept lands finds the session
	// already Restarting, not Active.
	err := h.conf.OnTransportReplace(ctx, "p1")
	assert.ErrorContains(t, err, "not allowed")
}

func TestOnTransportReplace_RateLimitedAfterRepeatedRestarts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))
	require.NoError(t, h.conf.OnSessionAccept(ctx, "p1", jingle.Answer{
		Sources: source.ConferenceSourceMap{"p1": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio}}}},
	}))

	for i := 0; i < participant.DefaultMaxRestarts; i++ {
		require.NoError(t, h.conf.OnTransportReplace(ctx, "p1"))
		require.NoError(t, h.conf.OnSessionAccept(ctx, "p1", jingle.Answer{
			Transport: jingle.Transport{UFrag: "ufrag", Password: "pwd"},
			Sources:   source.ConferenceSourceMap{"p1": {Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio}}}},
		}))
	}

	// The harness's fixed clock never advances, so the burst budget is exhausted after
	// DefaultMaxRestarts requests and the next one is rejected as rate-limited.
	err := h.conf.OnTransportReplace(ctx, "p1")
	assert.ErrorIs(t, err, jicofoerr.ErrRateLimited)
}

func TestShutdown_ClearsRoster(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.OnMemberJoined(ctx, conference.Member{ID: "p1", Region: "eu"}))

	require.NoError(t, h.conf.Shutdown(ctx))
	assert.Equal(t, 0, h.conf.ParticipantCount())
	assert.Contains(t, h.sender("p1").terminated, jingle.ReasonGone)
}
