// Package conference implements the aggregate root that owns one room's Source Graph,
// participants, and Colibri Session Manager, dispatching every mutation through a
// single-writer queue (spec.md §4.7).
package conference

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/colibri"
	coltransport "github.com/jitsi-contrib/jicofo-go/pkg/colibri/transport"
	"github.com/jitsi-contrib/jicofo-go/pkg/common"
	"github.com/jitsi-contrib/jicofo-go/pkg/jicofoerr"
	"github.com/jitsi-contrib/jicofo-go/pkg/jingle"
	"github.com/jitsi-contrib/jicofo-go/pkg/participant"
	"github.com/jitsi-contrib/jicofo-go/pkg/source"
	"github.com/jitsi-contrib/jicofo-go/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// SenderFactory builds the jingle.Sender used to deliver stanzas to one member; the real
// implementation lives in pkg/xmpp, keeping this package free of any XMPP dependency.
type SenderFactory func(m Member) jingle.Sender

// entry is everything the Conference tracks for one non-bot member.
type entry struct {
	member     Member
	controller *participant.Controller
	session    *jingle.Session
	// transport is the bridge-side ICE/DTLS parameters from the participant's last
	// allocation, kept so an ICE restart (spec.md §4.5/§4.6) has something to re-offer
	// without a fresh colibri.Allocate round trip.
	transport participant.OfferTransport
}

// task is one unit of serialized work on the conference's single-writer queue.
type task func(ctx context.Context)

// Conference is the aggregate root for one MUC room (spec.md §4.7).
//
// Every exported method that mutates state enqueues onto a dedicated goroutine via
// common.Worker, so within one Conference all source mutations, joins/leaves, and their
// fan-out observe the queue's total order, matching spec.md §5's ordering guarantee.
// Unlike the full continuation-scheduling model spec.md §5 describes (where a blocked
// send doesn't stall the writer), this implementation runs each task to completion
// before taking the next; callers are expected to keep an individual task's blocking
// I/O bounded by its own context timeout, so one slow peer delays but never wedges the
// conference. A fully non-blocking writer is tracked as a follow-up, not implemented here.
type Conference struct {
	RoomID    string
	MeetingID string

	logger *logrus.Entry

	graph   *source.Graph
	colibri *colibri.Manager

	role RoleManager

	senderFactory SenderFactory
	offerOptions  participant.OfferOptions
	codecs        *participant.CodecPreferenceAggregator

	participants map[source.EndpointID]*entry
	clock        participant.Clock

	// count mirrors len(participants), updated with every insert/delete. It exists so
	// ParticipantCount can be read from outside the single-writer queue (e.g. the
	// registry's periodic empty-room sweep) without racing the map itself.
	count int32

	queue *common.Worker[task]

	// telemetry spans this Conference's whole lifetime. It is a root span: the
	// colibri.Manager keeps its own separate span tree, and no per-participant spans are
	// created under it.
	telemetry *telemetry.Telemetry
}

// NewWithManager creates an idle Conference around an already-built colibri.Manager; the
// registry is expected to own Manager construction (one transport.Client per bridge
// fleet, shared across rooms) and hand each Conference its own Manager instance.
func NewWithManager(roomID string, logger *logrus.Entry, graph *source.Graph, mgr *colibri.Manager, role RoleManager, senderFactory SenderFactory, offerOptions participant.OfferOptions, clock participant.Clock) *Conference {
	meetingID := uuid.NewString()
	c := &Conference{
		RoomID:        roomID,
		MeetingID:     meetingID,
		logger:        logger.WithField("room", roomID),
		graph:         graph,
		colibri:       mgr,
		role:          role,
		senderFactory: senderFactory,
		offerOptions:  offerOptions,
		codecs:        participant.NewCodecPreferenceAggregator(),
		participants:  make(map[source.EndpointID]*entry),
		clock:         clock,
		telemetry: telemetry.NewTelemetry(context.Background(), "conference",
			attribute.String("room_id", roomID), attribute.String("meeting_id", meetingID)),
	}
	c.queue = common.StartWorker(common.WorkerConfig[task]{
		ChannelSize: 256,
		Timeout:     time.Hour,
		OnTimeout:   func() {},
		OnTask:      func(t task) { t(context.Background()) },
	})
	return c
}

// Shutdown terminates every Jingle session, expires every colibri session, and stops
// the writer (spec.md §4.7 shutdown).
func (c *Conference) Shutdown(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) error {
		for id, e := range c.participants {
			e.session.Terminate(ctx, jingle.ReasonGone)
			_ = c.colibri.Expire(ctx, id)
		}
		c.participants = make(map[source.EndpointID]*entry)
		atomic.StoreInt32(&c.count, 0)
		c.queue.Stop()
		c.telemetry.End()
		return nil
	})
}

// do enqueues fn onto the single-writer queue and blocks for its result, or for ctx to
// be cancelled. This is the synchronous-call convenience every public operation uses.
func (c *Conference) do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	sendErr := c.queue.Send(func(taskCtx context.Context) { done <- fn(taskCtx) })
	if sendErr != nil {
		return fmt.Errorf("%w: %v", jicofoerr.ErrFatal, sendErr)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnMemberJoined creates a Participant for non-bot members and invites it
// (spec.md §4.7 onMemberJoined).
func (c *Conference) OnMemberJoined(ctx context.Context, m Member) error {
	return c.do(ctx, func(ctx context.Context) error {
		if m.Kind.isBot() {
			c.logger.WithField("endpoint", m.ID).Debug("bot member joined, not inviting")
			return nil
		}
		if _, exists := c.participants[m.ID]; exists {
			return jicofoerr.ErrParticipantAlreadyInvited
		}

		owner := c.role.OnJoin(m.ID, m.Authenticated)
		c.logger.WithFields(logrus.Fields{"endpoint": m.ID, "owner": owner}).Info("member joined")

		e := &entry{member: m}
		c.addParticipant(m.ID, e)
		return c.invite(ctx, e)
	})
}

// addParticipant and removeParticipant keep c.count in sync with c.participants; every
// insert/delete of the map must go through one of these instead of touching the map
// directly, so ParticipantCount stays accurate for callers outside the writer queue.
func (c *Conference) addParticipant(id source.EndpointID, e *entry) {
	c.participants[id] = e
	atomic.StoreInt32(&c.count, int32(len(c.participants)))
}

func (c *Conference) removeParticipant(id source.EndpointID) {
	delete(c.participants, id)
	atomic.StoreInt32(&c.count, int32(len(c.participants)))
}

func versionConstraintOf(m Member) bridge.VersionConstraint {
	if m.VersionPin != nil {
		return *m.VersionPin
	}
	return bridge.VersionConstraint{}
}

// invite allocates a bridge, builds an offer, and starts the Jingle session (spec.md
// §4.7 invite). It runs no feature discovery: the Controller is built with an empty
// FeatureSet, so the offer carries none of the optional capabilities that offer
// synthesis intersects with the participant's features.
func (c *Conference) invite(ctx context.Context, e *entry) error {
	controller := participant.NewController(e.member.ID, participant.FeatureSet{}, c.clock, c.logger)
	e.controller = controller

	alloc, err := c.colibri.Allocate(ctx, e.member.ID, struct{ Audio, Video bool }{}, e.member.Region, versionConstraintOf(e.member))
	if err != nil {
		c.removeParticipant(e.member.ID)
		c.role.OnLeave(e.member.ID)
		return err
	}

	sender := c.senderFactory(e.member)
	session := jingle.NewSession(sender, sessionListener{conference: c, id: e.member.ID}, c.logger)
	e.session = session

	c.codecs.SetParticipant(e.member.ID, codecNames(DefaultVideoCodecs))
	effective, _ := c.codecs.Effective()

	participantAlloc := toParticipantAllocation(alloc)
	e.transport = participantAlloc.Transport

	remoteSources := c.remoteSourcesFor(e.member.ID)
	offer := controller.SynthesizeOffer(c.offerOptions, participantAlloc, remoteSources, DefaultAudioCodecs, orderVideoCodecs(effective))

	if err := session.Initiate(ctx, offer); err != nil {
		_ = c.colibri.Expire(ctx, e.member.ID)
		c.removeParticipant(e.member.ID)
		c.role.OnLeave(e.member.ID)
		return err
	}
	return nil
}

// remoteSourcesFor returns every other endpoint's current sources, excluding the
// bridge's own feedback-owner entry (I4): the caller (Controller) re-adds the correct
// feedback sources for the requesting participant specifically.
func (c *Conference) remoteSourcesFor(id source.EndpointID) source.ConferenceSourceMap {
	snapshot := c.graph.Snapshot()
	out := make(source.ConferenceSourceMap, len(snapshot))
	for owner, set := range snapshot {
		if owner == id || owner == source.FeedbackOwner {
			continue
		}
		out[owner] = set
	}
	return out
}

// orderVideoCodecs reorders DefaultVideoCodecs to match the conference-wide majority
// preference order computed by the codec preference aggregator, leaving any codec the
// aggregator doesn't mention (e.g. it hasn't seen every participant yet) at the end in
// its default order.
func orderVideoCodecs(order []string) []jingle.Codec {
	byName := make(map[string]jingle.Codec, len(DefaultVideoCodecs))
	for _, codec := range DefaultVideoCodecs {
		byName[codec.Name] = codec
	}

	out := make([]jingle.Codec, 0, len(DefaultVideoCodecs))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if codec, ok := byName[name]; ok {
			out = append(out, codec)
			seen[name] = true
		}
	}
	for _, codec := range DefaultVideoCodecs {
		if !seen[codec.Name] {
			out = append(out, codec)
		}
	}
	return out
}

func toParticipantAllocation(a colibri.Allocation) participant.Allocation {
	candidates := make([]participant.OfferCandidate, len(a.Transport.Candidates))
	for i, cand := range a.Transport.Candidates {
		candidates[i] = participant.OfferCandidate{
			Foundation: cand.Foundation, Component: cand.Component, Protocol: cand.Protocol,
			Priority: cand.Priority, IP: cand.IP, Port: cand.Port, Type: cand.Type,
		}
	}
	return participant.Allocation{
		Transport: participant.OfferTransport{
			UFrag: a.Transport.UFrag, Password: a.Transport.Password,
			Fingerprint: a.Transport.Fingerprint, FingerprintHash: a.Transport.FingerprintHash,
			Candidates: candidates,
		},
		Feedback: a.Feedback,
	}
}

// OnSessionAccept validates the peer's sources, applies them to the Source Graph,
// pushes the peer's transport+sources to the bridge, and fans the new sources out to
// every other Participant (spec.md §4.7 onSessionAccept).
func (c *Conference) OnSessionAccept(ctx context.Context, id source.EndpointID, answer jingle.Answer) error {
	return c.do(ctx, func(ctx context.Context) error {
		e, ok := c.participants[id]
		if !ok {
			return fmt.Errorf("%w: unknown participant %s", jicofoerr.ErrNotAllowed, id)
		}
		wasRestarting := e.session.State() == jingle.StateRestarting
		if err := e.session.Accept(ctx, answer); err != nil {
			return err
		}
		if err := c.applySources(ctx, id, answer.Sources, toParticipantTransport(answer.Transport)); err != nil {
			return err
		}
		// Activate is a no-op when a restart's Accept already jumped straight to
		// Active; only a fresh Initiated->Accepted->Active transition needs it.
		if e.session.State() == jingle.StateAccepted {
			return e.session.Activate()
		}
		if wasRestarting {
			e.controller.Queue.Release()
			c.flushQueue(ctx, e)
		}
		return nil
	})
}

// applySources validates an incoming source set against the graph, applies it,
// forwards it to the bridge, and fans the diff out to peers and relays. pt is non-nil
// only on the session-accept path, where the peer's ICE/DTLS parameters are pushed to
// the bridge alongside its sources; subsequent source-add/remove calls pass nil.
func (c *Conference) applySources(ctx context.Context, id source.EndpointID, sources source.ConferenceSourceMap, pt *coltransport.ParticipantTransport) error {
	set := sources[id]
	retagged := retagOwner(set, id)

	before := c.graph.Snapshot()
	added, err := c.graph.TryAdd(id, retagged)
	if err != nil {
		return err
	}

	after := c.graph.Snapshot()
	diffAdded, diffRemoved := source.Diff(before, after)

	current := after[id]
	if err := c.colibri.UpdateParticipant(ctx, id, pt, &current); err != nil {
		c.logger.WithError(err).Warn("updateParticipant failed")
	}

	if err := c.colibri.PropagateSourceDiff(ctx, after, diffAdded, diffRemoved); err != nil {
		c.logger.WithError(err).Warn("relay propagation failed")
	}

	for peerID, peer := range c.participants {
		if peerID == id || peer.session == nil || (peer.session.State() != jingle.StateActive && peer.session.State() != jingle.StateRestarting) {
			continue
		}
		peer.controller.Queue.Enqueue(participant.ChangeAdd, source.ConferenceSourceMap{id: added})
		c.flushQueue(ctx, peer)
	}
	return nil
}

// toParticipantTransport converts the negotiated Jingle transport into the shape
// pkg/colibri/transport sends to a bridge. ICE candidates are not carried across: a
// bridge discovers the participant's reflexive/relay candidates via STUN binding
// requests once ICE starts, so only the UFrag/Password/fingerprint triplet that seeds
// the DTLS-SRTP handshake needs to reach it up front.
func toParticipantTransport(t jingle.Transport) *coltransport.ParticipantTransport {
	return &coltransport.ParticipantTransport{
		UFrag:       t.UFrag,
		Password:    t.Password,
		Fingerprint: t.Fingerprint,
	}
}

func retagOwner(set source.EndpointSourceSet, owner source.EndpointID) source.EndpointSourceSet {
	out := source.EndpointSourceSet{
		Sources: make([]source.Source, len(set.Sources)),
		Groups:  set.Groups,
	}
	for i, s := range set.Sources {
		s.Owner = owner
		out.Sources[i] = s
	}
	return out
}

func (c *Conference) flushQueue(ctx context.Context, e *entry) {
	for _, entry := range e.controller.Queue.Flush() {
		var err error
		switch entry.Kind {
		case participant.ChangeAdd:
			err = e.session.SendSourceAdd(ctx, entry.Sources)
		case participant.ChangeRemove:
			err = e.session.SendSourceRemove(ctx, entry.Sources)
		}
		if err != nil {
			c.logger.WithError(err).WithField("endpoint", e.member.ID).Warn("failed to flush source change")
		}
	}
}

// OnTransportReplace handles a peer-requested ICE restart (spec.md §4.5/§4.6):
// transport-replace is only valid on an Active session, is rate-limited per
// participant, and holds the participant's outgoing source queue until the restart's
// session-accept lands so no stale source change is flushed against the pre-restart
// transport (spec.md §9 Open Question resolution).
func (c *Conference) OnTransportReplace(ctx context.Context, id source.EndpointID) error {
	return c.do(ctx, func(ctx context.Context) error {
		e, ok := c.participants[id]
		if !ok {
			return fmt.Errorf("%w: unknown participant %s", jicofoerr.ErrNotAllowed, id)
		}
		if err := e.controller.Restarts.Allow(); err != nil {
			return err
		}

		e.controller.Queue.Hold()
		if err := e.session.Restart(ctx, toJingleTransport(e.transport)); err != nil {
			e.controller.Queue.Release()
			return err
		}
		return nil
	})
}

func toJingleTransport(t participant.OfferTransport) jingle.Transport {
	return jingle.Transport{UFrag: t.UFrag, Password: t.Password, Fingerprint: t.Fingerprint}
}

// OnSourceAdd validates and applies an incoming Jingle source-add (spec.md §4.7).
func (c *Conference) OnSourceAdd(ctx context.Context, id source.EndpointID, sources source.ConferenceSourceMap) error {
	return c.do(ctx, func(ctx context.Context) error {
		e, ok := c.participants[id]
		if !ok {
			return fmt.Errorf("%w: unknown participant %s", jicofoerr.ErrNotAllowed, id)
		}
		if err := e.session.OnSourceAdd(sources); err != nil {
			return err
		}
		return c.applySources(ctx, id, sources, nil)
	})
}

// OnSourceRemove validates and applies an incoming Jingle source-remove
// (spec.md §4.7).
func (c *Conference) OnSourceRemove(ctx context.Context, id source.EndpointID, sources source.ConferenceSourceMap) error {
	return c.do(ctx, func(ctx context.Context) error {
		e, ok := c.participants[id]
		if !ok {
			return fmt.Errorf("%w: unknown participant %s", jicofoerr.ErrNotAllowed, id)
		}
		if err := e.session.OnSourceRemove(sources); err != nil {
			return err
		}

		set := sources[id]
		removed := c.graph.TryRemove(id, retagOwner(set, id))
		if removed.IsEmpty() {
			return nil
		}

		after := c.graph.Snapshot()
		diffRemoved := source.ConferenceSourceMap{id: removed}

		if err := c.colibri.PropagateSourceDiff(ctx, after, source.ConferenceSourceMap{}, diffRemoved); err != nil {
			c.logger.WithError(err).Warn("relay propagation failed")
		}

		for peerID, peer := range c.participants {
			if peerID == id || peer.session == nil || (peer.session.State() != jingle.StateActive && peer.session.State() != jingle.StateRestarting) {
				continue
			}
			peer.controller.Queue.Enqueue(participant.ChangeRemove, diffRemoved)
			c.flushQueue(ctx, peer)
		}
		return nil
	})
}

// OnMemberLeft terminates the participant's Jingle session, expires its colibri
// endpoint, removes it from the graph, and fans out the removal (spec.md §4.7
// onMemberLeft).
func (c *Conference) OnMemberLeft(ctx context.Context, id source.EndpointID) error {
	return c.do(ctx, func(ctx context.Context) error {
		e, ok := c.participants[id]
		if !ok {
			return nil
		}

		if e.session != nil {
			e.session.Terminate(ctx, jingle.ReasonGone)
		}
		if err := c.colibri.Expire(ctx, id); err != nil {
			c.logger.WithError(err).Warn("expire failed on member leave")
		}

		removed := c.graph.RemoveEndpoint(id)
		c.removeParticipant(id)
		c.role.OnLeave(id)
		c.codecs.RemoveParticipant(id)

		after := c.graph.Snapshot()
		if err := c.colibri.PropagateSourceDiff(ctx, after, source.ConferenceSourceMap{}, source.ConferenceSourceMap{id: removed}); err != nil {
			c.logger.WithError(err).Warn("relay propagation failed on leave")
		}

		for _, peer := range c.participants {
			if peer.session == nil || (peer.session.State() != jingle.StateActive && peer.session.State() != jingle.StateRestarting) {
				continue
			}
			peer.controller.Queue.Enqueue(participant.ChangeRemove, source.ConferenceSourceMap{id: removed})
			c.flushQueue(ctx, peer)
		}
		return nil
	})
}

// Mute applies a force-mute/unmute request. Unmuting another user is never allowed,
// only self-unmute or an owner muting someone (spec.md §4.7 mute).
func (c *Conference) Mute(ctx context.Context, actor, target source.EndpointID, kind source.Kind, muted bool) error {
	return c.do(ctx, func(ctx context.Context) error {
		if !muted && actor != target {
			return jicofoerr.ErrNotAllowed
		}
		if actor != target && !c.role.IsOwner(actor) {
			return jicofoerr.ErrNotAllowed
		}
		if _, ok := c.participants[target]; !ok {
			return fmt.Errorf("%w: unknown participant %s", jicofoerr.ErrNotAllowed, target)
		}
		return c.colibri.Mute(ctx, target, kind, muted)
	})
}

// OnBridgeRemoved tears down and re-invites every local participant that was on the
// removed bridge (spec.md §4.7 onBridgeRemoved).
func (c *Conference) OnBridgeRemoved(ctx context.Context, b bridge.ID) error {
	return c.do(ctx, func(ctx context.Context) error {
		affected := c.colibri.BridgeRemoved(ctx, b)
		for _, id := range affected {
			e, ok := c.participants[id]
			if !ok {
				continue
			}
			if e.session != nil {
				e.session.Terminate(ctx, jingle.ReasonFailedTransport)
			}
			if err := c.invite(ctx, e); err != nil {
				c.logger.WithError(err).WithField("endpoint", id).Warn("reinvite after bridge removal failed")
			}
		}
		return nil
	})
}

// ParticipantCount reports the number of non-bot participants, used by the registry's
// grace-period/destroy logic (spec.md §4.7 Termination).
func (c *Conference) ParticipantCount() int {
	return int(atomic.LoadInt32(&c.count))
}

// sessionListener adapts jingle.Listener callbacks back onto the Conference's own
// single-writer queue.
type sessionListener struct {
	conference *Conference
	id         source.EndpointID
}

func (l sessionListener) OnAccept(answer jingle.Answer) {
	// Acceptance is driven synchronously from OnSessionAccept's own do() call; this
	// callback only needs to exist to satisfy jingle.Listener, and is a no-op here to
	// avoid double-applying the same sources.
}

func (l sessionListener) OnSourceAdd(source.ConferenceSourceMap) {}

func (l sessionListener) OnSourceRemove(source.ConferenceSourceMap) {}

// OnTerminate enqueues its log task without waiting for it: Terminate is also called
// from tasks already running on the queue (OnMemberLeft, OnBridgeRemoved, Shutdown),
// where waiting would block on the running task itself.
func (l sessionListener) OnTerminate(reason jingle.TerminateReason) {
	c := l.conference
	_ = c.queue.Send(func(ctx context.Context) {
		if _, ok := c.participants[l.id]; !ok {
			return
		}
		c.logger.WithFields(logrus.Fields{"endpoint": l.id, "reason": reason}).Info("jingle session terminated")
	})
}
