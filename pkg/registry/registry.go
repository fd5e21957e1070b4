// Package registry implements the process-wide index from room identifier to
// Conference (spec.md §4.8): creation with per-room mutual exclusion, destruction, and
// per-room bridge-version pins (bridge selection does not read them).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/conference"
)

// Factory builds a new, idle Conference for roomID. The registry calls this at most
// once per room under its own per-room lock, so the factory doesn't need to worry about
// being invoked twice concurrently for the same room.
type Factory func(roomID string) *conference.Conference

// pinned is one active version pin with its expiry deadline.
type pinned struct {
	version bridge.VersionConstraint
	expires time.Time
}

// Registry is the process-wide Conference index.
//
// Like pkg/bridge.Registry, it exposes only snapshot reads and its own mutation
// methods; it never hands out a lock for a caller to hold across a Conference
// operation, since each Conference serializes its own mutations on its single-writer
// queue (spec.md §5).
type Registry struct {
	logger  *logrus.Entry
	factory Factory

	mu    sync.Mutex
	rooms map[string]*entry
	pins  map[string]pinned

	clock func() time.Time
}

type entry struct {
	conf *conference.Conference
	// creating is closed once the Conference for this room is fully constructed, so
	// concurrent getOrCreate calls for the same room block on the same one instead of
	// each building their own.
	creating chan struct{}
	// emptySince is the time this room's Conference was first observed with zero
	// participants by SweepEmpty, reset to the zero Time whenever it is observed
	// non-empty. The zero Time until the first empty observation.
	emptySince time.Time
}

// New creates an empty Registry. clock defaults to time.Now when nil; tests can inject
// a deterministic one to exercise pin expiry without sleeping.
func New(logger *logrus.Entry, factory Factory, clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		logger:  logger,
		factory: factory,
		rooms:   make(map[string]*entry),
		pins:    make(map[string]pinned),
		clock:   clock,
	}
}

// Get returns the Conference for roomID if one already exists.
func (r *Registry) Get(roomID string) (*conference.Conference, bool) {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	<-e.creating
	return e.conf, e.conf != nil
}

// GetOrCreate returns the existing Conference for roomID, or builds one via Factory.
// Concurrent callers for the same room that arrive before construction finishes all
// receive the same Conference once it's ready; only one Factory call happens per room.
func (r *Registry) GetOrCreate(ctx context.Context, roomID string) (*conference.Conference, error) {
	r.mu.Lock()
	if e, ok := r.rooms[roomID]; ok {
		r.mu.Unlock()
		select {
		case <-e.creating:
			return e.conf, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	e := &entry{creating: make(chan struct{})}
	r.rooms[roomID] = e
	r.mu.Unlock()

	e.conf = r.factory(roomID)
	close(e.creating)

	r.logger.WithField("room", roomID).Info("conference created")
	return e.conf, nil
}

// Destroy tears down and removes the Conference for roomID, if present. It is a no-op
// if the room is unknown.
func (r *Registry) Destroy(ctx context.Context, roomID string) error {
	r.mu.Lock()
	e, ok := r.rooms[roomID]
	if ok {
		delete(r.rooms, roomID)
	}
	delete(r.pins, roomID)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	<-e.creating
	r.logger.WithField("room", roomID).Info("conference destroyed")
	return e.conf.Shutdown(ctx)
}

// Pin records a bridge-version affinity for roomID that expires after duration, as
// reported by VersionForRoom. Bridge selection does not consult these pins: a
// Conference takes its version constraint from each joining Member.
func (r *Registry) Pin(roomID string, version bridge.VersionConstraint, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[roomID] = pinned{version: version, expires: r.clock().Add(duration)}
}

// Unpin removes any active pin for roomID.
func (r *Registry) Unpin(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pins, roomID)
}

// VersionForRoom returns the active, unexpired version pin for roomID, if any.
func (r *Registry) VersionForRoom(roomID string) (bridge.VersionConstraint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pins[roomID]
	if !ok || r.clock().After(p.expires) {
		return bridge.VersionConstraint{}, false
	}
	return p.version, true
}

// SweepExpiredPins removes every pin whose deadline has passed. It is meant to be
// called periodically from the process's scheduled-task pool (spec.md §5).
func (r *Registry) SweepExpiredPins() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	removed := 0
	for room, p := range r.pins {
		if now.After(p.expires) {
			delete(r.pins, room)
			removed++
		}
	}
	return removed
}

// Snapshot returns every currently-registered room identifier, used by metrics and the
// REST move-endpoints handler.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rooms := make([]string, 0, len(r.rooms))
	for room := range r.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// SweepEmpty destroys every registered Conference that has had zero participants for
// at least grace, implementing the empty-conference grace-period termination named in
// spec.md's Conference type. Meant to be called periodically from the scheduled pool.
func (r *Registry) SweepEmpty(ctx context.Context, grace time.Duration) {
	now := r.clock()
	var toDestroy []string

	r.mu.Lock()
	for room, e := range r.rooms {
		select {
		case <-e.creating:
		default:
			continue // still under construction
		}
		if e.conf.ParticipantCount() > 0 {
			e.emptySince = time.Time{}
			continue
		}
		if e.emptySince.IsZero() {
			e.emptySince = now
			continue
		}
		if now.Sub(e.emptySince) >= grace {
			toDestroy = append(toDestroy, room)
		}
	}
	r.mu.Unlock()

	for _, room := range toDestroy {
		if err := r.Destroy(ctx, room); err != nil {
			r.logger.WithError(err).WithField("room", room).Warn("failed to destroy empty conference")
		}
	}
}
