package provider

import "sync"

// TrackingSource reports whether the device AR subsystem is currently
// tracking. Platforms without a tracking precondition can use StaticTracking.
type TrackingSource interface {
	Tracking() bool
	// OnTrackingChanged registers a callback invoked whenever the tracking
	// state flips. The returned func cancels the registration.
	OnTrackingChanged(fn func(tracking bool)) (cancel func())
}

type staticTracking bool

// StaticTracking returns a source with a fixed tracking state that never
// changes. Hosts without an AR subsystem pass StaticTracking(true).
func StaticTracking(tracking bool) TrackingSource {
	return staticTracking(tracking)
}

func (s staticTracking) Tracking() bool { return bool(s) }

func (staticTracking) OnTrackingChanged(func(bool)) func() { return func() {} }

// ManualTracking is a TrackingSource whose state is driven by the host, for
// engines that surface tracking-state callbacks of their own.
type ManualTracking struct {
	mu        sync.Mutex
	tracking  bool
	nextID    int
	callbacks map[int]func(bool)
}

// NewManualTracking returns a manual source with the given initial state.
func NewManualTracking(tracking bool) *ManualTracking {
	return &ManualTracking{tracking: tracking, callbacks: make(map[int]func(bool))}
}

// Tracking reports the current state.
func (m *ManualTracking) Tracking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracking
}

// Set updates the state and notifies registered callbacks on a change.
func (m *ManualTracking) Set(tracking bool) {
	m.mu.Lock()
	if m.tracking == tracking {
		m.mu.Unlock()
		return
	}
	m.tracking = tracking
	fns := make([]func(bool), 0, len(m.callbacks))
	for _, fn := range m.callbacks {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(tracking)
	}
}

// OnTrackingChanged registers fn and returns its cancel func.
func (m *ManualTracking) OnTrackingChanged(fn func(bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.callbacks[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.callbacks, id)
		m.mu.Unlock()
	}
}
