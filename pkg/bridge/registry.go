package bridge

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind distinguishes the events the Registry publishes to subscribers.
type EventKind int

const (
	// EventRemoved fires when a bridge becomes non-operational in a way that should
	// trigger immediate migration of its endpoints (a Failed health result, or explicit
	// withdrawal). It does NOT fire for TimedOut, to avoid thundering-herd moves during
	// transient network partitions between the controller and a bridge.
	EventRemoved EventKind = iota
	// EventAdded fires when a bridge is announced for the first time or returns to
	// operational after having been marked non-operational.
	EventAdded
)

// Event is published to Registry subscribers.
type Event struct {
	Kind   EventKind
	Bridge Bridge
}

// Handler receives Registry events. Handlers must not block significantly: the registry
// invokes them synchronously from the write path (spec.md §5's "short read-write boundary").
type Handler func(Event)

// Registry is the process-wide set of known bridges. Mutations go through the registry's
// own writer lock; reads are snapshot-based so callers never observe a half-updated bridge.
type Registry struct {
	mu          sync.RWMutex
	bridges     map[ID]Bridge
	subscribers []Handler
	logger      *logrus.Entry
}

// NewRegistry creates an empty bridge registry.
func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		bridges: make(map[ID]Bridge),
		logger:  logger,
	}
}

// Subscribe registers a handler for future registry events. There is no unsubscribe: the
// registry is process-lifetime, and handlers are expected to be process-lifetime too.
func (r *Registry) Subscribe(handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, handler)
}

func (r *Registry) publish(ev Event) {
	for _, handler := range r.subscribers {
		handler(ev)
	}
}

// AddOrUpdate records a load report for id, creating the bridge if unseen. It is
// idempotent: repeated reports for the same id just refresh its load.
func (r *Registry) AddOrUpdate(id ID, region, version string, load LoadReport) {
	r.mu.Lock()
	existing, found := r.bridges[id]
	wasOperational := found && existing.Operational

	b := existing
	b.ID = id
	b.Region = region
	b.Version = version
	b.Load = load
	b.Operational = true
	r.bridges[id] = b
	r.mu.Unlock()

	if !wasOperational {
		r.logger.WithFields(logrus.Fields{"bridge": id, "region": region, "version": version}).Info("bridge available")
		r.publish(Event{Kind: EventAdded, Bridge: b})
	}
}

// Remove withdraws a bridge entirely (explicit departure, not a health failure) and fires
// EventRemoved so conferences migrate its endpoints.
func (r *Registry) Remove(id ID) {
	r.mu.Lock()
	b, found := r.bridges[id]
	delete(r.bridges, id)
	r.mu.Unlock()

	if found {
		r.logger.WithField("bridge", id).Info("bridge withdrawn")
		r.publish(Event{Kind: EventRemoved, Bridge: b})
	}
}

// SetDraining marks a bridge as being in (or no longer in) graceful shutdown. Draining
// bridges keep existing endpoints but are excluded from new allocations (spec.md §4.3).
func (r *Registry) SetDraining(id ID, draining bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, found := r.bridges[id]; found {
		b.Draining = draining
		r.bridges[id] = b
	}
}

// OnHealth applies a health check outcome. Passed marks the bridge operational. Failed
// marks it non-operational and fires EventRemoved so every conference migrates its
// endpoints off immediately. TimedOut marks it non-operational but does NOT fire
// EventRemoved: existing conferences continue, and are migrated only if they themselves
// observe failures — this is the thundering-herd mitigation spec.md §4.2 calls for.
func (r *Registry) OnHealth(id ID, health Health, now time.Time) {
	r.mu.Lock()
	b, found := r.bridges[id]
	if !found {
		r.mu.Unlock()
		return
	}

	b.LastHealth = health
	switch health {
	case HealthPassed:
		b.Operational = true
	case HealthFailed:
		b.Operational = false
		b.LastFailureAt = now
	case HealthTimedOut:
		b.Operational = false
	}
	r.bridges[id] = b
	r.mu.Unlock()

	if health == HealthFailed {
		r.logger.WithField("bridge", id).Warn("bridge failed health check, migrating endpoints")
		r.publish(Event{Kind: EventRemoved, Bridge: b})
	}
}

// Snapshot returns a copy of every known bridge.
func (r *Registry) Snapshot() []Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		out = append(out, b)
	}
	return out
}

// Get returns the bridge known under id, if any.
func (r *Registry) Get(id ID) (Bridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bridges[id]
	return b, ok
}
