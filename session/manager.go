package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/spatialkit/anchorsession/provider"
	"github.com/spatialkit/anchorsession/spatial"
	"github.com/spatialkit/anchorsession/telemetry"
)

// State describes the lifecycle state of the manager's cloud session.
type State int

const (
	// StateUninitialized is the state before the first Start.
	StateUninitialized State = iota
	// StateStarting indicates a start is in flight.
	StateStarting
	// StateRunning indicates the session accepts anchor operations.
	StateRunning
	// StateStopping indicates a stop is tearing the session down.
	StateStopping
	// StateStopped indicates the session ended and can be restarted.
	StateStopped
	// StateError indicates an unrecoverable provider failure. The manager
	// does not auto-recover; callers must Start again.
	StateError
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Target is a scene object whose placement the manager can update. BindAnchor
// receives the cached record for an authoritative move, or nil when the cloud
// binding is severed.
type Target interface {
	SetPose(pose spatial.Pose)
	BindAnchor(record *spatial.AnchorRecord)
}

const defaultReadinessInterval = 300 * time.Millisecond

// Option configures the manager during construction.
type Option func(*Manager) error

// WithReadinessInterval overrides the create-readiness poll interval.
func WithReadinessInterval(interval time.Duration) Option {
	return func(m *Manager) error {
		if interval <= 0 {
			return fmt.Errorf("readiness interval must be positive, got %s", interval)
		}
		m.readinessInterval = interval
		return nil
	}
}

// WithTelemetry configures the collector used for metrics emission.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(m *Manager) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		m.telemetry = collector
		return nil
	}
}

// WithLocateFilter installs a boolean expression evaluated against each
// located anchor before it is cached. Anchors failing the filter are dropped.
// Variables: id, placeholder, expires_in_seconds.
func WithLocateFilter(expression string) Option {
	return func(m *Manager) error {
		if strings.TrimSpace(expression) == "" {
			return nil
		}
		filter, err := newLocateFilter(expression)
		if err != nil {
			return err
		}
		m.filter = filter
		return nil
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now != nil {
			m.now = now
		}
		return nil
	}
}

// Manager owns the cloud anchoring session lifecycle, the locate watcher, the
// anchor cache and the event surface consumed by UI and scene layers.
//
// All operations are safe for concurrent use, but event handlers run inline
// with operations and must not call back into the Manager.
type Manager struct {
	prov     provider.Provider
	tracking provider.TrackingSource
	logger   zerolog.Logger

	telemetry         telemetry.Collector
	events            *Dispatcher
	filter            *locateFilter
	readinessInterval time.Duration
	now               func() time.Time

	mu           sync.Mutex
	state        State
	sess         provider.Session
	initialized  bool
	pendingStart bool
	cache        map[string]spatial.AnchorRecord
	watcher      provider.Watcher
	watchGen     uint64

	// createMu keeps CreateAnchor from running concurrently with itself.
	createMu sync.Mutex

	cancelTracking func()
}

// New constructs a manager bound to the given provider and tracking source.
// A nil tracking source is treated as a platform without a tracking
// precondition.
func New(prov provider.Provider, tracking provider.TrackingSource, logger zerolog.Logger, opts ...Option) (*Manager, error) {
	if prov == nil {
		return nil, fmt.Errorf("provider must not be nil")
	}
	if tracking == nil {
		tracking = provider.StaticTracking(true)
	}
	m := &Manager{
		prov:              prov,
		tracking:          tracking,
		logger:            logger.With().Str("component", "anchor_session").Logger(),
		telemetry:         telemetry.Noop(),
		events:            NewDispatcher(),
		readinessInterval: defaultReadinessInterval,
		now:               time.Now,
		state:             StateUninitialized,
		cache:             make(map[string]spatial.AnchorRecord),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.cancelTracking = tracking.OnTrackingChanged(m.onTrackingChanged)
	return m, nil
}

// Subscribe registers an event handler and returns its cancel func.
func (m *Manager) Subscribe(fn func(Event)) (cancel func()) {
	return m.events.Subscribe(fn)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CacheSize returns the number of cached anchor records.
func (m *Manager) CacheSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Anchor returns the cached record for id, if present.
func (m *Manager) Anchor(id string) (spatial.AnchorRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.cache[id]
	return rec, ok
}

// AnchorIDs returns the cached identifiers in sorted order.
func (m *Manager) AnchorIDs() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.cache))
	for id := range m.cache {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Start brings the session into the running state. It is idempotent while
// the session is running or already starting. When the device is not tracking
// yet, Start returns ErrNotReady and retains a pending start that resumes
// automatically once tracking begins.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateRunning, StateStarting:
		m.mu.Unlock()
		return nil
	case StateStopping:
		m.mu.Unlock()
		return ErrStopInProgress
	}
	if !m.tracking.Tracking() {
		m.pendingStart = true
		m.mu.Unlock()
		m.logger.Info().Msg("start deferred until device tracking begins")
		m.events.Publish(StatusMessage{Text: "waiting for device tracking"})
		return ErrNotReady
	}
	m.pendingStart = false
	m.state = StateStarting
	sess := m.sess
	first := !m.initialized
	m.mu.Unlock()

	if sess == nil {
		created, err := m.prov.CreateSession(ctx)
		if err != nil {
			return m.fail(fmt.Errorf("create session: %w", err))
		}
		m.mu.Lock()
		m.sess = created
		m.initialized = true
		m.mu.Unlock()
		sess = created
		if first {
			m.events.Publish(SessionInitialized{})
		}
	}
	if err := sess.Start(ctx); err != nil {
		return m.fail(fmt.Errorf("start session: %w", err))
	}

	m.mu.Lock()
	m.state = StateRunning
	m.mu.Unlock()
	m.logger.Info().Msg("session started")
	m.telemetry.IncSessionStarted()
	m.events.Publish(SessionStarted{})
	return nil
}

func (m *Manager) onTrackingChanged(tracking bool) {
	if !tracking {
		return
	}
	m.mu.Lock()
	pending := m.pendingStart
	m.mu.Unlock()
	if !pending {
		return
	}
	m.logger.Info().Msg("tracking began, resuming pending start")
	go func() {
		if err := m.Start(context.Background()); err != nil {
			m.logger.Error().Err(err).Msg("pending start failed")
		}
	}()
}

// Stop tears the session down. It is safe to call from any state and is a
// no-op when nothing was started. The active watcher is halted before
// SessionEnded fires, so no locate event follows it.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.pendingStart = false
	switch m.state {
	case StateUninitialized, StateStopped, StateStopping:
		m.mu.Unlock()
		return
	}
	m.state = StateStopping
	watcher := m.watcher
	m.watcher = nil
	m.watchGen++
	sess := m.sess
	m.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	if sess != nil {
		ctx := context.Background()
		if err := sess.Stop(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("session stop reported an error")
		}
		if err := sess.Reset(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("session reset reported an error")
		}
	}

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()
	m.logger.Info().Msg("session ended")
	m.events.Publish(SessionEnded{})
}

// Close stops the session, releases the tracking subscription and closes the
// provider session handle.
func (m *Manager) Close() error {
	if m.cancelTracking != nil {
		m.cancelTracking()
	}
	m.Stop()
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()
	if sess != nil {
		return sess.Close()
	}
	return nil
}

// fail moves the manager into the error state, discards the session handle
// and surfaces err to subscribers.
func (m *Manager) fail(err error) error {
	m.mu.Lock()
	m.state = StateError
	watcher := m.watcher
	m.watcher = nil
	m.watchGen++
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	if sess != nil {
		_ = sess.Close()
	}
	m.logger.Error().Err(err).Msg("session failed")
	m.events.Publish(SessionError{Err: err})
	return err
}

// CreateAnchor persists a cloud anchor at pose with the given expiration and
// returns its identifier. The call polls session readiness at the configured
// interval before committing, emitting StatusMessage progress per tick.
// Transient provider failures surface a CreateAnchorFailed event and leave
// session state untouched.
func (m *Manager) CreateAnchor(ctx context.Context, pose spatial.Pose, expiration time.Time) (string, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return "", ErrSessionNotRunning
	}
	sess := m.sess
	m.mu.Unlock()

	m.events.Publish(CreateAnchorStarted{Pose: pose})

	for {
		readiness, err := sess.CreateReadiness(ctx)
		if err != nil {
			err = fmt.Errorf("query create readiness: %w", err)
			m.telemetry.IncCreateFailed()
			m.events.Publish(CreateAnchorFailed{Err: err})
			return "", err
		}
		if readiness.Ready {
			break
		}
		m.events.Publish(StatusMessage{
			Text: fmt.Sprintf("gathering environment data: %.0f%%", readiness.Progress*100),
		})
		timer := time.NewTimer(m.readinessInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.telemetry.IncCreateFailed()
			m.events.Publish(CreateAnchorFailed{Err: ctx.Err()})
			return "", ctx.Err()
		case <-timer.C:
		}
		if m.State() != StateRunning {
			m.telemetry.IncCreateFailed()
			m.events.Publish(CreateAnchorFailed{Err: ErrSessionNotRunning})
			return "", ErrSessionNotRunning
		}
	}

	anchor, err := sess.CreateAnchor(ctx, pose, expiration)
	if err != nil {
		err = fmt.Errorf("create anchor: %w", err)
		m.telemetry.IncCreateFailed()
		m.events.Publish(CreateAnchorFailed{Err: err})
		return "", err
	}
	id := anchor.ID()
	if id == "" {
		err = fmt.Errorf("provider returned an anchor without identifier")
		m.telemetry.IncCreateFailed()
		m.events.Publish(CreateAnchorFailed{Err: err})
		return "", err
	}

	m.mu.Lock()
	if _, exists := m.cache[id]; exists {
		m.mu.Unlock()
		err = fmt.Errorf("provider returned duplicate anchor id %s", id)
		m.telemetry.IncCreateFailed()
		m.events.Publish(CreateAnchorFailed{Err: err})
		return "", err
	}
	record := spatial.AnchorRecord{
		ID:         id,
		Pose:       pose,
		Cloud:      anchor,
		Expiration: expiration,
	}
	m.cache[id] = record
	size := len(m.cache)
	m.mu.Unlock()

	m.logger.Info().Str("anchor", id).Msg("anchor created")
	m.telemetry.IncAnchorCreated()
	m.telemetry.SetCachedAnchors(size)
	m.events.Publish(CreateAnchorSucceeded{ID: id, Pose: pose})
	return id, nil
}

// FindAnchors replaces the active locate query with a watcher scoped to
// exactly the given identifiers. It reports false without side effects when
// the session is not running or the set is empty. Each located anchor yields
// one AnchorLocated event and one cache insertion; the first-seen record for
// an identifier wins.
func (m *Manager) FindAnchors(ids []string) bool {
	requested := dedupIDs(ids)
	m.mu.Lock()
	if m.state != StateRunning || len(requested) == 0 {
		m.mu.Unlock()
		return false
	}
	previous := m.watcher
	m.watcher = nil
	m.watchGen++
	gen := m.watchGen
	sess := m.sess
	m.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	watcher, err := sess.Watch(requested, func(id string, anchor provider.Anchor) {
		m.handleLocate(gen, id, anchor)
	})
	if err != nil {
		err = fmt.Errorf("start locate watcher: %w", err)
		m.logger.Error().Err(err).Msg("find anchors failed")
		m.events.Publish(SessionError{Err: err})
		return false
	}

	m.mu.Lock()
	if m.watchGen != gen || m.state != StateRunning {
		// The session was stopped or a newer query raced us.
		m.mu.Unlock()
		watcher.Stop()
		return false
	}
	m.watcher = watcher
	m.mu.Unlock()

	m.logger.Debug().Strs("ids", requested).Msg("locate watcher started")
	m.events.Publish(FindAnchorStarted{IDs: requested})
	return true
}

func (m *Manager) handleLocate(gen uint64, id string, anchor provider.Anchor) {
	if malformedID(id) {
		m.logger.Warn().Str("anchor", id).Msg("dropping locate event with malformed identifier")
		return
	}
	record := spatial.AnchorRecord{ID: id, Pose: spatial.IdentityPose(), Placeholder: true}
	if anchor != nil {
		record = spatial.AnchorRecord{
			ID:         id,
			Pose:       anchor.Pose(),
			Cloud:      anchor,
			Expiration: anchor.Expiration(),
		}
	}
	if m.filter != nil {
		accepted, err := m.filter.accept(record, m.now())
		if err != nil {
			// A broken filter must not eat anchors; accept and log.
			m.logger.Warn().Err(err).Str("anchor", id).Msg("locate filter error, accepting anchor")
		} else if !accepted {
			m.logger.Debug().Str("anchor", id).Msg("locate filter rejected anchor")
			return
		}
	}

	m.mu.Lock()
	if gen != m.watchGen || m.state != StateRunning {
		m.mu.Unlock()
		return
	}
	if _, seen := m.cache[id]; seen {
		m.mu.Unlock()
		return
	}
	m.cache[id] = record
	size := len(m.cache)
	m.mu.Unlock()

	if record.Placeholder {
		m.logger.Warn().Str("anchor", id).Msg("anchor located without payload, cached as placeholder")
	} else {
		m.logger.Info().Str("anchor", id).Msg("anchor located")
	}
	m.telemetry.IncAnchorLocated()
	m.telemetry.SetCachedAnchors(size)
	m.events.Publish(AnchorLocated{Record: record})
}

// DeleteAnchors deletes each cached anchor from the set at the provider and
// removes it from the cache, emitting AnchorDeleted per identifier.
// Identifiers absent from the cache are silently skipped. Provider failures
// surface a SessionError event and keep the record cached.
func (m *Manager) DeleteAnchors(ctx context.Context, ids []string) error {
	requested := dedupIDs(ids)
	if len(requested) == 0 {
		return nil
	}
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		return ErrSessionNotRunning
	}
	sess := m.sess
	m.mu.Unlock()

	for _, id := range requested {
		m.mu.Lock()
		record, cached := m.cache[id]
		m.mu.Unlock()
		if !cached {
			continue
		}
		if anchor, ok := record.Cloud.(provider.Anchor); ok && anchor != nil {
			if err := sess.DeleteAnchor(ctx, anchor); err != nil {
				err = fmt.Errorf("delete anchor %s: %w", id, err)
				m.logger.Error().Err(err).Msg("anchor deletion failed")
				m.events.Publish(SessionError{Err: err})
				continue
			}
		}
		m.mu.Lock()
		delete(m.cache, id)
		size := len(m.cache)
		m.mu.Unlock()

		m.logger.Info().Str("anchor", id).Msg("anchor deleted")
		m.telemetry.IncAnchorDeleted()
		m.telemetry.SetCachedAnchors(size)
		m.events.Publish(AnchorDeleted{ID: id})
	}
	return nil
}

// MoveAnchor repositions target. When cloudID names a cached anchor the
// target is rebound to it (authoritative move); otherwise pose is applied
// directly, severing any existing cloud binding.
func (m *Manager) MoveAnchor(target Target, pose spatial.Pose, cloudID string) {
	if target == nil {
		return
	}
	if cloudID != "" {
		m.mu.Lock()
		record, cached := m.cache[cloudID]
		m.mu.Unlock()
		if cached {
			target.BindAnchor(&record)
			m.events.Publish(AnchorUpdated{ID: cloudID, Target: target})
			return
		}
	}
	target.BindAnchor(nil)
	target.SetPose(pose)
	m.events.Publish(AnchorUpdated{ID: "", Target: target})
}

// ClearCache discards all cached anchor records. Idempotent.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	m.cache = make(map[string]spatial.AnchorRecord)
	m.mu.Unlock()
	m.telemetry.SetCachedAnchors(0)
}

func dedupIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func malformedID(id string) bool {
	if id == "" {
		return true
	}
	return strings.ContainsFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}
