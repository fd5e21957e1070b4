package participant

import (
	"sync"

	"github.com/jitsi-contrib/jicofo-go/pkg/source"
)

// ChangeKind distinguishes an outgoing source-add from a source-remove entry.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota
	ChangeRemove
)

// Entry is one pending outgoing Jingle source-change.
type Entry struct {
	Kind    ChangeKind
	Sources source.ConferenceSourceMap
}

// Queue is a participant's outgoing source-change queue (spec.md §4.6): consecutive
// same-kind entries are merged, an opposite-kind entry starts a new one, and the queue
// only yields entries to Flush while not held. It is held only explicitly, via
// Hold/Release during a restart (spec.md §9 Open Question resolution: a restart in flight
// holds the queue so in-flight source changes aren't applied against the stale
// pre-restart transport, and are flushed once the restart's accept lands). The Queue
// does not look at the session state; the Conference enqueues changes only for peers
// whose session is Active or Restarting, so a peer whose session has not yet reached
// Active gets no entry for a change made in the meantime.
type Queue struct {
	mu      sync.Mutex
	entries []Entry
	held    bool
}

// NewQueue creates an empty, unheld Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a change, merging into the last entry if it shares the same Kind.
func (q *Queue) Enqueue(kind ChangeKind, sources source.ConferenceSourceMap) {
	if len(sources) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.entries); n > 0 && q.entries[n-1].Kind == kind {
		q.entries[n-1].Sources = mergeSourceMaps(q.entries[n-1].Sources, sources)
		return
	}
	q.entries = append(q.entries, Entry{Kind: kind, Sources: sources})
}

// Hold suspends flushing, e.g. for the duration of a transport-replace restart.
func (q *Queue) Hold() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.held = true
}

// Release resumes flushing (it does not itself flush; call Flush to drain).
func (q *Queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.held = false
}

// Flush returns and clears every pending entry, or nil if the queue is held.
func (q *Queue) Flush() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.held || len(q.entries) == 0 {
		return nil
	}
	out := q.entries
	q.entries = nil
	return out
}

// Drop clears every pending entry without returning them, used when the session
// terminates while the participant has been unreachable past the send timeout.
func (q *Queue) Drop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = nil
}

// Pending reports how many merged entries are currently queued, for tests and metrics.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// mergeSourceMaps unions b into a, per endpoint concatenating sources/groups. Both maps
// are treated as immutable; a fresh map is returned.
func mergeSourceMaps(a, b source.ConferenceSourceMap) source.ConferenceSourceMap {
	out := make(source.ConferenceSourceMap, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		existing.Sources = append(append([]source.Source{}, existing.Sources...), v.Sources...)
		existing.Groups = append(append([]source.SsrcGroup{}, existing.Groups...), v.Groups...)
		out[k] = existing
	}
	return out
}
