package colibri

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
	"github.com/jitsi-contrib/jicofo-go/pkg/telemetry"
)

// Manager keeps a minimal set of ColibriSessions across bridges for one conference, so
// that every participant has exactly one ColibriEndpoint and all sessions are meshed by
// relays (spec.md §4.4). Like source.Graph, it is not internally synchronized: it is
// always driven from the owning conference's single-writer queue.
type Manager struct {
	logger    *logrus.Entry
	transport transport.Client
	registry  *bridge.Registry
	strategy  bridge.Strategy

	sessions map[bridge.ID]*Session
	// endpointBridge tracks which bridge each live endpoint is allocated on.
	endpointBridge map[source.EndpointID]bridge.ID

	// telemetry spans this Manager's lifetime; each ColibriSession gets a child span
	// running from ensureSession to teardownSession.
	telemetry    *telemetry.Telemetry
	sessionSpans map[bridge.ID]*telemetry.Telemetry
}

// NewManager creates an empty Manager for one conference.
func NewManager(logger *logrus.Entry, client transport.Client, registry *bridge.Registry, strategy bridge.Strategy) *Manager {
	return &Manager{
		logger:         logger,
		transport:      client,
		registry:       registry,
		strategy:       strategy,
		sessions:       make(map[bridge.ID]*Session),
		endpointBridge: make(map[source.EndpointID]bridge.ID),
		telemetry:      telemetry.NewTelemetry(context.Background(), "colibri-manager"),
		sessionSpans:   make(map[bridge.ID]*telemetry.Telemetry),
	}
}

// conferenceBridges reports, for every bridge this conference currently holds a session
// on, the number of endpoints allocated there — the input bridge.Strategy needs to honor
// per-bridge participant caps.
func (m *Manager) conferenceBridges() map[bridge.ID]int {
	out := make(map[bridge.ID]int, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = len(s.Endpoints)
	}
	return out
}

// Allocate picks a bridge for endpointId via the selection strategy, ensures a session
// exists on it (meshing relays to any sibling sessions first), and requests a new
// endpoint (spec.md §4.4 allocate).
func (m *Manager) Allocate(ctx context.Context, id source.EndpointID, forceMute struct{ Audio, Video bool }, region string, versionConstraint bridge.VersionConstraint) (Allocation, error) {
	if _, already := m.endpointBridge[id]; already {
		return Allocation{}, jicofoerr.ErrParticipantAlreadyInvited
	}

	candidates := m.registry.Snapshot()
	chosen, ok := m.strategy.Select(candidates, m.conferenceBridges(), region, versionConstraint)
	if !ok {
		return Allocation{}, jicofoerr.ErrBridgeUnavailable
	}
	if chosen.Draining {
		return Allocation{}, jicofoerr.ErrBridgeInGracefulShutdown
	}

	session, isNew, err := m.ensureSession(ctx, chosen.ID)
	if err != nil {
		return Allocation{}, fmt.Errorf("%w: %v", jicofoerr.ErrAllocationFailed, err)
	}

	spec := transport.EndpointSpec{ID: id, SCTP: false}
	spec.ForceMute.Audio = forceMute.Audio
	spec.ForceMute.Video = forceMute.Video

	result, err := m.transport.CreateEndpoint(ctx, chosen.ID, session.MeetingID, spec)
	if err != nil {
		if isNew && session.isEmpty() {
			m.teardownSession(ctx, chosen.ID)
		}
		return Allocation{}, fmt.Errorf("%w: %v", jicofoerr.ErrBridgeFailedDuringAllocation, err)
	}

	session.Endpoints[id] = Endpoint{ID: id, Transport: transportInfoFromResult(result)}
	m.endpointBridge[id] = chosen.ID

	return Allocation{
		Bridge:    chosen.ID,
		Transport: transportInfoFromResult(result),
		Feedback:  result.Feedback,
	}, nil
}

// ensureSession returns the session on bridge b, creating one (and meshing it with every
// sibling session) if none exists yet.
func (m *Manager) ensureSession(ctx context.Context, b bridge.ID) (*Session, bool, error) {
	if s, ok := m.sessions[b]; ok {
		return s, false, nil
	}

	meetingID := uuid.NewString()
	if err := m.transport.CreateSession(ctx, b, meetingID); err != nil {
		return nil, false, err
	}

	session := newSession(b, meetingID)
	m.sessions[b] = session
	m.sessionSpans[b] = m.telemetry.CreateChild("colibri-session",
		attribute.String("bridge", string(b)), attribute.String("meeting_id", meetingID))

	if err := m.meshNewSession(ctx, session); err != nil {
		delete(m.sessions, b)
		m.sessionSpans[b].End()
		delete(m.sessionSpans, b)
		return nil, false, err
	}

	return session, true, nil
}

// meshNewSession creates the relay pair between the new session and every pre-existing
// session of the conference (spec.md §4.4 relay mesh algorithm, creation step).
func (m *Manager) meshNewSession(ctx context.Context, created *Session) error {
	for peerID, peer := range m.sessions {
		if peerID == created.Bridge {
			continue
		}

		relayToNew := relayID(peerID, created.Bridge)
		peerResult, err := m.transport.CreateRelay(ctx, peerID, peer.MeetingID, transport.RelaySpec{RelayID: relayToNew})
		if err != nil {
			return fmt.Errorf("mesh relay on %s: %w", peerID, err)
		}

		relayToPeer := relayID(created.Bridge, peerID)
		newResult, err := m.transport.CreateRelay(ctx, created.Bridge, created.MeetingID, transport.RelaySpec{
			RelayID:       relayToPeer,
			PeerTransport: endpointResultFromRelay(peerResult),
		})
		if err != nil {
			return fmt.Errorf("mesh relay on %s: %w", created.Bridge, err)
		}

		peer.Relays[created.Bridge] = Relay{
			RelayID:       relayToNew,
			PeerBridge:    created.Bridge,
			PeerMeetingID: created.MeetingID,
			Transport:     transportInfoFromRelayResult(newResult),
			Endpoints:     make(map[source.EndpointID]struct{}),
		}
		created.Relays[peerID] = Relay{
			RelayID:       relayToPeer,
			PeerBridge:    peerID,
			PeerMeetingID: peer.MeetingID,
			Transport:     transportInfoFromRelayResult(peerResult),
			Endpoints:     make(map[source.EndpointID]struct{}),
		}
	}
	return nil
}

// UpdateParticipant applies a partial update to an allocated endpoint: any nil field is
// left unchanged (spec.md §4.4 updateParticipant, idempotent per field).
func (m *Manager) UpdateParticipant(ctx context.Context, id source.EndpointID, participantTransport *transport.ParticipantTransport, sources *source.EndpointSourceSet) error {
	b, ok := m.endpointBridge[id]
	if !ok {
		return fmt.Errorf("%w: endpoint %s not allocated", jicofoerr.ErrNotAllowed, id)
	}
	session := m.sessions[b]

	if participantTransport != nil {
		spec := transport.EndpointSpec{ID: id, ParticipantTransport: participantTransport}
		if err := m.transport.UpdateEndpoint(ctx, b, session.MeetingID, id, spec); err != nil {
			return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
		}
	}
	if sources != nil {
		if err := m.transport.UpdateSources(ctx, b, session.MeetingID, id, *sources); err != nil {
			return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
		}
	}
	return nil
}

// Mute sends a force-mute update for one media kind (spec.md §4.4 mute).
func (m *Manager) Mute(ctx context.Context, id source.EndpointID, kind source.Kind, muted bool) error {
	b, ok := m.endpointBridge[id]
	if !ok {
		return fmt.Errorf("%w: endpoint %s not allocated", jicofoerr.ErrNotAllowed, id)
	}
	session := m.sessions[b]

	spec := transport.EndpointSpec{ID: id}
	switch kind {
	case source.KindAudio:
		spec.ForceMute.Audio = muted
	case source.KindVideo:
		spec.ForceMute.Video = muted
	}

	if err := m.transport.UpdateEndpoint(ctx, b, session.MeetingID, id, spec); err != nil {
		return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
	}
	return nil
}

// Expire removes endpointId from its bridge. If it was the last endpoint there, the
// session itself (and every relay pointing at it) is torn down too (spec.md §4.4 expire).
func (m *Manager) Expire(ctx context.Context, id source.EndpointID) error {
	b, ok := m.endpointBridge[id]
	if !ok {
		return nil
	}
	session := m.sessions[b]

	err := m.transport.ExpireEndpoint(ctx, b, session.MeetingID, id)
	delete(session.Endpoints, id)
	delete(m.endpointBridge, id)

	for peerID, peer := range m.sessions {
		if peerID == b {
			continue
		}
		relay, relayed := peer.Relays[b]
		if !relayed {
			continue
		}
		if _, announced := relay.Endpoints[id]; announced {
			if rerr := m.transport.RelayRemoveEndpoint(ctx, peerID, peer.MeetingID, relay.RelayID, id); rerr != nil {
				m.logger.WithError(rerr).WithField("bridge", peerID).Warn("relay remove-endpoint failed")
			}
			delete(relay.Endpoints, id)
			peer.Relays[b] = relay
		}
	}

	if session.isEmpty() {
		m.teardownSession(ctx, b)
	}

	if err != nil {
		return fmt.Errorf("%w: %v", jicofoerr.ErrSendFailed, err)
	}
	return nil
}

// teardownSession expires a session with no endpoints left and removes every relay that
// pointed at it from its peers.
func (m *Manager) teardownSession(ctx context.Context, b bridge.ID) {
	session, ok := m.sessions[b]
	if !ok {
		return
	}

	for peerID, relay := range session.Relays {
		peer, ok := m.sessions[peerID]
		if !ok {
			continue
		}
		if peerRelay, ok := peer.Relays[b]; ok {
			if err := m.transport.ExpireRelay(ctx, peerID, peer.MeetingID, peerRelay.RelayID); err != nil {
				m.logger.WithError(err).WithField("bridge", peerID).Warn("expire relay failed")
			}
			delete(peer.Relays, b)
		}
		_ = relay
	}

	if err := m.transport.ExpireSession(ctx, b, session.MeetingID); err != nil {
		m.logger.WithError(err).WithField("bridge", b).Warn("expire session failed")
	}
	delete(m.sessions, b)
	if span, ok := m.sessionSpans[b]; ok {
		span.End()
		delete(m.sessionSpans, b)
	}
}

// BridgeRemoved notifies the manager that a bridge has gone non-operational: every
// endpoint it held is expired locally (without sending it a wire request, since the
// bridge is presumed gone) and returned so the caller can reinvite each one elsewhere
// (spec.md §4.4 bridgeRemoved).
func (m *Manager) BridgeRemoved(ctx context.Context, b bridge.ID) []source.EndpointID {
	session, ok := m.sessions[b]
	if !ok {
		return nil
	}

	affected := make([]source.EndpointID, 0, len(session.Endpoints))
	for id := range session.Endpoints {
		affected = append(affected, id)
		delete(m.endpointBridge, id)
	}

	for peerID, peer := range m.sessions {
		if peerID == b {
			continue
		}
		delete(peer.Relays, b)
	}
	delete(m.sessions, b)

	return affected
}

// PropagateSourceDiff pushes a Source Graph diff across the relay mesh: endpoints newly
// present in the diff are announced (with their current full source set) on every
// sibling session's relay back to this endpoint's bridge; endpoints no longer present in
// current are withdrawn (spec.md §4.4, "on each subsequent Source Graph diff").
func (m *Manager) PropagateSourceDiff(ctx context.Context, current source.ConferenceSourceMap, added, removed source.ConferenceSourceMap) error {
	for id := range added {
		b, ok := m.endpointBridge[id]
		if !ok {
			continue
		}
		if err := m.announce(ctx, b, id, current[id]); err != nil {
			return err
		}
	}

	for id := range removed {
		b, ok := m.endpointBridge[id]
		if !ok {
			// Endpoint already fully gone (expired separately); nothing left to withdraw.
			continue
		}
		if set, stillPresent := current[id]; stillPresent && !set.IsEmpty() {
			if err := m.announce(ctx, b, id, set); err != nil {
				return err
			}
			continue
		}
		if err := m.withdraw(ctx, b, id); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) announce(ctx context.Context, originBridge bridge.ID, id source.EndpointID, sources source.EndpointSourceSet) error {
	for peerID, peer := range m.sessions {
		if peerID == originBridge {
			continue
		}
		relay, ok := peer.Relays[originBridge]
		if !ok {
			continue
		}
		if err := m.transport.RelayAddEndpoint(ctx, peerID, peer.MeetingID, relay.RelayID, id, sources); err != nil {
			m.logger.WithError(err).WithField("bridge", peerID).Warn("relay add-endpoint failed, migrating session")
			m.teardownSession(ctx, peerID)
			continue
		}
		relay.Endpoints[id] = struct{}{}
		peer.Relays[originBridge] = relay
	}
	return nil
}

func (m *Manager) withdraw(ctx context.Context, originBridge bridge.ID, id source.EndpointID) error {
	for peerID, peer := range m.sessions {
		if peerID == originBridge {
			continue
		}
		relay, ok := peer.Relays[originBridge]
		if !ok {
			continue
		}
		if _, announced := relay.Endpoints[id]; !announced {
			continue
		}
		if err := m.transport.RelayRemoveEndpoint(ctx, peerID, peer.MeetingID, relay.RelayID, id); err != nil {
			m.logger.WithError(err).WithField("bridge", peerID).Warn("relay remove-endpoint failed, migrating session")
			m.teardownSession(ctx, peerID)
			continue
		}
		delete(relay.Endpoints, id)
		peer.Relays[originBridge] = relay
	}
	return nil
}

// Sessions returns a snapshot of bridge ids the conference currently spans.
func (m *Manager) Sessions() []bridge.ID {
	out := make([]bridge.ID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

func relayID(a, b bridge.ID) string {
	return fmt.Sprintf("%s->%s", a, b)
}

func transportInfoFromResult(r transport.EndpointResult) TransportInfo {
	return TransportInfo{
		UFrag:           r.UFrag,
		Password:        r.Password,
		Fingerprint:     r.Fingerprint,
		FingerprintHash: r.FingerprintHash,
		Candidates:      candidatesFromTransport(r.Candidates),
	}
}

func transportInfoFromRelayResult(r transport.RelayResult) TransportInfo {
	return TransportInfo{
		UFrag:           r.UFrag,
		Password:        r.Password,
		Fingerprint:     r.Fingerprint,
		FingerprintHash: r.FingerprintHash,
		Candidates:      candidatesFromTransport(r.Candidates),
	}
}

func endpointResultFromRelay(r transport.RelayResult) transport.EndpointResult {
	return transport.EndpointResult{
		UFrag:           r.UFrag,
		Password:        r.Password,
		Fingerprint:     r.Fingerprint,
		FingerprintHash: r.FingerprintHash,
		Candidates:      r.Candidates,
	}
}

func candidatesFromTransport(cs []transport.TransportCandidate) []TransportCandidate {
	out := make([]TransportCandidate, len(cs))
	for i, c := range cs {
		out[i] = TransportCandidate{
			Foundation: c.Foundation,
			Component:  c.Component,
			Protocol:   c.Protocol,
			Priority:   c.Priority,
			IP:         c.IP,
			Port:       c.Port,
			Type:       c.Type,
		}
	}
	return out
}
