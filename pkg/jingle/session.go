package jingle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// Sender delivers Jingle stanzas to the peer. Session depends only on this interface so
// it is testable without a real XMPP connection; the wire encoding lives in pkg/xmpp.
type Sender interface {
	SendInitiate(ctx context.Context, sessionID string, offer Offer) error
	SendSourceAdd(ctx context.Context, sessionID string, sources source.ConferenceSourceMap) error
	SendSourceRemove(ctx context.Context, sessionID string, sources source.ConferenceSourceMap) error
	SendTransportReplace(ctx context.Context, sessionID string, t Transport) error
	SendTerminate(ctx context.Context, sessionID string, reason TerminateReason) error
}

// Listener receives Session lifecycle callbacks. The Conference implements this to drive
// the Source Graph and Colibri manager from Jingle events (spec.md §4.7).
type Listener interface {
	OnAccept(answer Answer)
	OnSourceAdd(sources source.ConferenceSourceMap)
	OnSourceRemove(sources source.ConferenceSourceMap)
	OnTerminate(reason TerminateReason)
}

// Session is one participant's Jingle dialog: Idle → Initiated → Accepted → Active →
// (Restarting → Active) → Terminated (spec.md §4.5).
//
// Unlike source.Graph, Session has its own mutex, used only to protect state/timer
// bookkeeping against the response timer goroutine; callers still drive every transition
// through the owning Conference's single-writer queue, so application-level ordering is
// never this type's responsibility.
type Session struct {
	id       string
	sender   Sender
	listener Listener
	logger   *logrus.Entry

	mu            sync.Mutex
	state         State
	responseTimer *time.Timer
}

// NewSession creates an Idle session with a fresh id. listener receives every lifecycle
// callback, including ones raised asynchronously by the response timer, so it must be
// supplied up front rather than per-call.
func NewSession(sender Sender, listener Listener, logger *logrus.Entry) *Session {
	id := uuid.NewString()
	return &Session{
		id:       id,
		sender:   sender,
		listener: listener,
		logger:   logger.WithField("jingleSessionId", id),
		state:    StateIdle,
	}
}

// ID is this session's opaque identifier, carried as the Jingle "sid" attribute.
func (s *Session) ID() string { return s.id }

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initiate sends session-initiate and arms the response timer (Idle → Initiated).
func (s *Session) Initiate(ctx context.Context, offer Offer) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: initiate from state %s", jicofoerr.ErrNotAllowed, s.state)
	}
	s.state = StateInitiated
	s.armTimer(ctx, ResponseTimeout)
	s.mu.Unlock()

	contents := make([]Content, 0, len(offer.Contents))
	for _, c := range offer.Contents {
		if !c.isEmpty() {
			contents = append(contents, c)
		}
	}
	offer.Contents = contents

	if err := s.sender.SendInitiate(ctx, s.id, offer); err != nil {
		s.terminateLocked(ctx, ReasonFailedTransport)
		return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
	}
	return nil
}

// armTimer must be called with mu held; it fires terminateLocked with ReasonTimeout if no
// Accept arrives in time.
func (s *Session) armTimer(ctx context.Context, d time.Duration) {
	if s.responseTimer != nil {
		s.responseTimer.Stop()
	}
	s.responseTimer = time.AfterFunc(d, func() {
		s.mu.Lock()
		timedOut := s.state == StateInitiated || s.state == StateRestarting
		s.mu.Unlock()
		if !timedOut {
			return
		}
		s.logger.Warn("jingle response timeout")
		if s.terminateLocked(ctx, ReasonTimeout) {
			s.listener.OnTerminate(ReasonTimeout)
		}
	})
}

// Accept handles an incoming session-accept (Initiated → Accepted, or Restarting →
// Active directly since a restart's accept is itself the new transport/sources).
func (s *Session) Accept(ctx context.Context, answer Answer) error {
	s.mu.Lock()
	switch s.state {
	case StateInitiated:
		s.state = StateAccepted
	case StateRestarting:
		s.state = StateActive
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: accept from state %s", jicofoerr.ErrNotAllowed, s.state)
	}
	if s.responseTimer != nil {
		s.responseTimer.Stop()
	}
	s.mu.Unlock()

	s.listener.OnAccept(answer)
	return nil
}

// Activate transitions Accepted → Active once the Conference has applied the peer's
// sources to the Source Graph (spec.md §4.5).
func (s *Session) Activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAccepted {
		return fmt.Errorf("%w: activate from state %s", jicofoerr.ErrNotAllowed, s.state)
	}
	s.state = StateActive
	return nil
}

// OnSourceAdd handles an incoming Jingle source-add while Active.
func (s *Session) OnSourceAdd(sources source.ConferenceSourceMap) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: source-add outside active session", jicofoerr.ErrNotAllowed)
	}
	s.listener.OnSourceAdd(sources)
	return nil
}

// OnSourceRemove handles an incoming Jingle source-remove while Active.
func (s *Session) OnSourceRemove(sources source.ConferenceSourceMap) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: source-remove outside active session", jicofoerr.ErrNotAllowed)
	}
	s.listener.OnSourceRemove(sources)
	return nil
}

// SendSourceAdd flushes an outgoing source-add to the peer; only valid while Active.
func (s *Session) SendSourceAdd(ctx context.Context, sources source.ConferenceSourceMap) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: session not active", jicofoerr.ErrNotAllowed)
	}
	if err := s.sender.SendSourceAdd(ctx, s.id, sources); err != nil {
		return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
	}
	return nil
}

// SendSourceRemove flushes an outgoing source-remove to the peer; only valid while
// Active.
func (s *Session) SendSourceRemove(ctx context.Context, sources source.ConferenceSourceMap) error {
	if s.State() != StateActive {
		return fmt.Errorf("%w: session not active", jicofoerr.ErrNotAllowed)
	}
	if err := s.sender.SendSourceRemove(ctx, s.id, sources); err != nil {
		return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
	}
	return nil
}

// Restart begins an ICE restart: Active → Restarting. The caller (the Conference, using
// the participant Controller's RestartLimiter) is responsible for rate-limiting before
// calling this (spec.md §4.6).
func (s *Session) Restart(ctx context.Context, t Transport) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: restart from state %s", jicofoerr.ErrNotAllowed, s.state)
	}
	s.state = StateRestarting
	s.armTimer(ctx, ResponseTimeout)
	s.mu.Unlock()

	if err := s.sender.SendTransportReplace(ctx, s.id, t); err != nil {
		s.terminateLocked(ctx, ReasonFailedTransport)
		return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
	}
	return nil
}

// Terminate ends the session for any reason, from any state. Terminal and final:
// further calls are no-ops.
func (s *Session) Terminate(ctx context.Context, reason TerminateReason) {
	if !s.terminateLocked(ctx, reason) {
		return
	}
	s.listener.OnTerminate(reason)
}

// terminateLocked performs the Terminated transition and best-effort notifies the peer.
// It returns false if the session was already terminated.
func (s *Session) terminateLocked(ctx context.Context, reason TerminateReason) bool {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return false
	}
	s.state = StateTerminated
	if s.responseTimer != nil {
		s.responseTimer.Stop()
	}
	s.mu.Unlock()

	if err := s.sender.SendTerminate(ctx, s.id, reason); err != nil {
		s.logger.WithError(err).Debug("failed to send session-terminate, peer presumed gone")
	}
	return true
}
