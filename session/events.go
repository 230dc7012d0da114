package session

import (
	"sync"

	"github.com/spatialkit/anchorsession/spatial"
)

// Event is a lifecycle notification emitted by the Manager. The concrete
// types below form the complete event surface consumed by UI and scene
// layers.
type Event interface {
	event()
}

// SessionInitialized fires once when the provider session is first created.
type SessionInitialized struct{}

// SessionStarted fires when the session reaches the running state.
type SessionStarted struct{}

// SessionEnded fires after the session and its watcher have been torn down.
type SessionEnded struct{}

// SessionError fires on a failure surfaced to subscribers. Fatal errors move
// the manager into StateError; transient provider errors leave state alone.
type SessionError struct {
	Err error
}

// CreateAnchorStarted fires before the readiness poll of an anchor creation.
type CreateAnchorStarted struct {
	Pose spatial.Pose
}

// CreateAnchorSucceeded fires after the cloud anchor was committed and cached.
type CreateAnchorSucceeded struct {
	ID   string
	Pose spatial.Pose
}

// CreateAnchorFailed fires when an anchor creation was aborted.
type CreateAnchorFailed struct {
	Err error
}

// FindAnchorStarted fires when a new locate watcher became active.
type FindAnchorStarted struct {
	IDs []string
}

// AnchorLocated fires exactly once per identifier located by the active
// watcher. Record.Placeholder marks locations that arrived without a payload.
type AnchorLocated struct {
	Record spatial.AnchorRecord
}

// AnchorUpdated fires after MoveAnchor repositioned or rebound a target. ID
// is empty when the move severed the cloud binding.
type AnchorUpdated struct {
	ID     string
	Target Target
}

// AnchorDeleted fires after a cached anchor was deleted at the provider.
type AnchorDeleted struct {
	ID string
}

// StatusMessage carries human-readable progress text, e.g. readiness polling.
type StatusMessage struct {
	Text string
}

func (SessionInitialized) event()    {}
func (SessionStarted) event()        {}
func (SessionEnded) event()          {}
func (SessionError) event()          {}
func (CreateAnchorStarted) event()   {}
func (CreateAnchorSucceeded) event() {}
func (CreateAnchorFailed) event()    {}
func (FindAnchorStarted) event()     {}
func (AnchorLocated) event()         {}
func (AnchorUpdated) event()         {}
func (AnchorDeleted) event()         {}
func (StatusMessage) event()         {}

type subscription struct {
	id int
	fn func(Event)
}

// Dispatcher fans events out to subscribers. Every subscriber receives every
// event exactly once, in emission order; Publish calls are serialised.
type Dispatcher struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription

	publishMu sync.Mutex
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers fn and returns a func that cancels the registration.
// Handlers run on the publishing goroutine and must not block.
func (d *Dispatcher) Subscribe(fn func(Event)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs = append(d.subs, subscription{id: id, fn: fn})
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, sub := range d.subs {
			if sub.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to all current subscribers in registration order.
func (d *Dispatcher) Publish(ev Event) {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()
	d.mu.Lock()
	subs := make([]subscription, len(d.subs))
	copy(subs, d.subs)
	d.mu.Unlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}
