package jingle_test

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

type fakeSender struct {
	mu             sync.Mutex
	initiated      bool
	terminated     []jingle.TerminateReason
	failInitiate   bool
	sourceAdds     int
	sourceRemoves  int
	transportReplaces int
}

func (f *fakeSender) SendInitiate(context.Context, string, jingle.Offer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInitiate {
		return assert.AnError
	}
	f.initiated = true
	return nil
}

func (f *fakeSender) SendSourceAdd(context.Context, string, source.ConferenceSourceMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceAdds++
	return nil
}

func (f *fakeSender) SendSourceRemove(context.Context, string, source.ConferenceSourceMap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceRemoves++
	return nil
}

func (f *fakeSender) SendTransportReplace(context.Context, string, jingle.Transport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transportReplaces++
	return nil
}

func (f *fakeSender) SendTerminate(_ context.Context, _ string, reason jingle.TerminateReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, reason)
	return nil
}

type fakeListener struct {
	mu           sync.Mutex
	accepted     []jingle.Answer
	sourceAdds   []source.ConferenceSourceMap
	terminations []jingle.TerminateReason
}

func (f *fakeListener) OnAccept(a jingle.Answer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, a)
}

func (f *fakeListener) OnSourceAdd(m source.ConferenceSourceMap) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sourceAdds = append(f.sourceAdds, m)
}

func (f *fakeListener) OnSourceRemove(source.ConferenceSourceMap) {}

func (f *fakeListener) OnTerminate(reason jingle.TerminateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminations = append(f.terminations, reason)
}

func newTestSession(sender *fakeSender, listener *fakeListener) *jingle.Session {
	return jingle.NewSession(sender, listener, logrus.NewEntry(logrus.New()))
}

func TestSession_FullLifecycle(t *testing.T) {
	sender := &fakeSender{}
	listener := &fakeListener{}
	s := newTestSession(sender, listener)

	require.Equal(t, jingle.StateIdle, s.State())

	require.NoError(t, s.Initiate(context.Background(), jingle.Offer{}))
	assert.Equal(t, jingle.StateInitiated, s.State())
	assert.True(t, sender.initiated)

	require.NoError(t, s.Accept(context.Background(), jingle.Answer{}))
	assert.Equal(t, jingle.StateAccepted, s.State())
	require.Len(t, listener.accepted, 1)

	require.NoError(t, s.Activate())
	assert.Equal(t, jingle.StateActive, s.State())

	require.NoError(t, s.SendSourceAdd(context.Background(), source.ConferenceSourceMap{}))
	assert.Equal(t, 1, sender.sourceAdds)

	s.Terminate(context.Background(), jingle.ReasonSuccess)
	assert.Equal(t, jingle.StateTerminated, s.State())
	require.Len(t, listener.terminations, 1)
	assert.Equal(t, jingle.ReasonSuccess, listener.terminations[0])
}

func TestSession_TerminateIsIdempotent(t *testing.T) {
	sender := &fakeSender{}
	listener := &fakeListener{}
	s := newTestSession(sender, listener)
	require.NoError(t, s.Initiate(context.Background(), jingle.Offer{}))

	s.Terminate(context.Background(), jingle.ReasonGone)
	s.Terminate(context.Background(), jingle.ReasonSuccess)

	require.Len(t, listener.terminations, 1)
	assert.Equal(t, jingle.ReasonGone, listener.terminations[0])
}

func TestSession_InitiateSendFailureTerminates(t *testing.T) {
	sender := &fakeSender{failInitiate: true}
	listener := &fakeListener{}
	s := newTestSession(sender, listener)

	err := s.Initiate(context.Background(), jingle.Offer{})
	assert.Error(t, err)
	assert.Equal(t, jingle.StateTerminated, s.State())
}

func TestSession_SourceAddRejectedOutsideActive(t *testing.T) {
	sender := &fakeSender{}
	listener := &fakeListener{}
	s := newTestSession(sender, listener)

	err := s.OnSourceAdd(source.ConferenceSourceMap{})
	assert.Error(t, err)
}

func TestSession_RestartThenAcceptReturnsToActive(t *testing.T) {
	sender := &fakeSender{}
	listener := &fakeListener{}
	s := newTestSession(sender, listener)
	require.NoError(t, s.Initiate(context.Background(), jingle.Offer{}))
	require.NoError(t, s.Accept(context.Background(), jingle.Answer{}))
	require.NoError(t, s.Activate())

	require.NoError(t, s.Restart(context.Background(), jingle.Transport{}))
	assert.Equal(t, jingle.StateRestarting, s.State())
	assert.Equal(t, 1, sender.transportReplaces)

	require.NoError(t, s.Accept(context.Background(), jingle.Answer{}))
	assert.Equal(t, jingle.StateActive, s.State())
}

func TestSession_TimeoutReasonNotifiesListenerOnce(t *testing.T) {
	// The real response timer fires ResponseTimeout (15s) after Initiate, too long for a
	// unit test; this exercises the same terminateLocked path the timer calls into,
	// confirming ReasonTimeout reaches the listener exactly once.
	sender := &fakeSender{}
	listener := &fakeListener{}
	s := newTestSession(sender, listener)
	require.NoError(t, s.Initiate(context.Background(), jingle.Offer{}))

	s.Terminate(context.Background(), jingle.ReasonTimeout)
	require.Len(t, listener.terminations, 1)
	assert.Equal(t, jingle.ReasonTimeout, listener.terminations[0])
}

func TestEncodeDecodeSourcesJSON_RoundTrips(t *testing.T) {
	in := source.ConferenceSourceMap{
		"ep1": {
			Sources: []source.Source{{SSRC: 1, Kind: source.KindAudio, Owner: "ep1"}},
			Groups:  []source.SsrcGroup{{Semantics: source.GroupFid, Kind: source.KindVideo, SSRCs: []source.SSRC{2, 3}}},
		},
	}

	data, err := jingle.EncodeSourcesJSON(in)
	require.NoError(t, err)

	out, err := jingle.DecodeSourcesJSON(data)
	require.NoError(t, err)
	assert.Equal(t, in["ep1"].Sources, out["ep1"].Sources)
	assert.Equal(t, in["ep1"].Groups, out["ep1"].Groups)
}
