package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/core/ports"
	"kwikcast/internal/events"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	defaultReconnectCeiling = 5
	defaultReconnectBase    = 5 * time.Second
	defaultMetricsInterval  = 1 * time.Second
	bitrateAdjustThreshold  = 500 // kbps
)

// networkErrorMarkers classify backend error text that should be routed
// into the reconnection policy instead of being surfaced as fatal.
var networkErrorMarkers = []string{
	"network",
	"connection",
	"timeout",
	"broken pipe",
	"reset by peer",
	"unreachable",
}

// StreamManager owns the session state machine, drives exactly one
// transport backend at a time, consumes network monitor output to adapt
// bitrate and runs the bounded reconnection policy on transport failure.
type StreamManager struct {
	bus        *events.Bus
	monitor    *NetworkMonitor
	hardware   ports.HardwareProvider
	newBackend ports.BackendFactory
	scenes     ports.SceneManager
	audio      ports.AudioMixer
	logger     *zap.SugaredLogger

	reconnectCeiling int
	reconnectBase    time.Duration
	metricsInterval  time.Duration

	// opMu serializes public lifecycle operations; mu guards the session
	// fields and is never held across a blocking backend call.
	opMu sync.Mutex
	mu   sync.Mutex

	// newTimer is swappable in tests to observe the backoff schedule.
	newTimer func(d time.Duration, f func()) *time.Timer

	session          *domain.Session
	backend          ports.TransportBackend
	monitoringOn     bool
	reconnectTimer   *time.Timer
	reconnectPending bool
	stopMetrics      chan struct{}
	eventLoopDone    chan struct{}
	firstConnect     chan struct{}

	unsubBus    func()
	destroyOnce sync.Once
}

func NewStreamManager(
	bus *events.Bus,
	monitor *NetworkMonitor,
	hardware ports.HardwareProvider,
	factory ports.BackendFactory,
	scenes ports.SceneManager,
	audio ports.AudioMixer,
	logger *zap.SugaredLogger,
) *StreamManager {
	m := &StreamManager{
		bus:              bus,
		monitor:          monitor,
		hardware:         hardware,
		newBackend:       factory,
		scenes:           scenes,
		audio:            audio,
		logger:           logger,
		reconnectCeiling: defaultReconnectCeiling,
		reconnectBase:    defaultReconnectBase,
		metricsInterval:  defaultMetricsInterval,
		newTimer:         time.AfterFunc,
	}

	m.unsubBus = bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.EventNetworkStats {
			m.onNetworkSample(ev.Sample)
		}
	})

	return m
}

// SetReconnectPolicy overrides the retry ceiling and base delay.
func (m *StreamManager) SetReconnectPolicy(ceiling int, base time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectCeiling = ceiling
	m.reconnectBase = base
}

// StartRTMP starts an RTMP-push session. Any pre-existing session is
// fully stopped first. RTMP sessions also run network monitoring and
// the adaptive-bitrate loop.
func (m *StreamManager) StartRTMP(ctx context.Context, cfg domain.StreamConfig, settings domain.StreamSettings) error {
	return m.start(ctx, domain.ProtocolRTMP, cfg, settings)
}

// StartWebRTC starts a WebRTC-push session. Network stats for WebRTC
// sessions come from RTCP, so the probe-based monitor stays off.
func (m *StreamManager) StartWebRTC(ctx context.Context, cfg domain.StreamConfig, settings domain.StreamSettings) error {
	return m.start(ctx, domain.ProtocolWebRTC, cfg, settings)
}

func (m *StreamManager) start(ctx context.Context, proto domain.StreamProtocol, cfg domain.StreamConfig, settings domain.StreamSettings) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := otel.Tracer("kwikcast/stream").Start(ctx, "stream.start")
	span.SetAttributes(attribute.String("protocol", string(proto)))
	defer span.End()

	if cfg.IngestURL == "" && cfg.SignalingURL == "" {
		return domain.ErrInvalidConfig
	}

	// Stop-before-start: never allow two live backends.
	if err := m.stopLocked(ctx); err != nil {
		return fmt.Errorf("failed to stop previous session: %w", err)
	}

	settings = m.optimizeSettings(settings)

	backend, err := m.newBackend(proto)
	if err != nil {
		return fmt.Errorf("failed to construct %s backend: %w", proto, err)
	}

	session := &domain.Session{
		ID:        domain.SessionID(uuid.NewString()),
		Protocol:  proto,
		State:     domain.StateConnecting,
		Config:    cfg,
		Settings:  settings,
		StartedAt: time.Now(),
	}

	firstConnect := make(chan struct{})
	eventLoopDone := make(chan struct{})

	m.mu.Lock()
	m.session = session
	m.backend = backend
	m.monitoringOn = proto == domain.ProtocolRTMP
	m.firstConnect = firstConnect
	m.eventLoopDone = eventLoopDone
	m.mu.Unlock()

	m.setState(domain.StateConnecting)

	// Consume backend events before Start so a fast Connected is not lost.
	go m.consumeBackendEvents(backend, eventLoopDone)

	m.logger.Infow("starting stream",
		"session_id", session.ID,
		"protocol", proto,
		"platform", cfg.Platform,
		"video_bitrate_kbps", settings.VideoBitrateKbps,
	)

	if err := backend.Start(ctx, cfg, settings); err != nil {
		m.teardownSession(ctx)
		m.bus.Publish(events.Event{Type: events.EventError, SessionID: session.ID, Message: err.Error()})
		return fmt.Errorf("failed to start %s stream: %w", proto, err)
	}

	select {
	case <-firstConnect:
	case <-ctx.Done():
		m.teardownSession(context.Background())
		return fmt.Errorf("stream start cancelled: %w", ctx.Err())
	}

	return nil
}

// optimizeSettings applies hardware and network optimization once, before
// backend construction. Optimization only tightens the requested bitrate
// ceiling, never loosens it.
func (m *StreamManager) optimizeSettings(s domain.StreamSettings) domain.StreamSettings {
	if s.HardwareAccel && m.hardware != nil {
		rec := m.hardware.RecommendedSettings()
		s.Encoder = rec.Encoder
		s.Preset = rec.Preset
		s.Profile = rec.Profile
		s.Level = rec.Level
	}

	if s.AdaptiveBitrate {
		if rec := m.monitor.RecommendedBitrate(); s.VideoBitrateKbps > rec {
			m.logger.Infow("clamping requested bitrate to network recommendation",
				"requested_kbps", s.VideoBitrateKbps,
				"recommended_kbps", rec,
			)
			s.VideoBitrateKbps = rec
		}
	}

	return s
}

// Stop tears down the active session: cancels the reconnect and metrics
// timers, stops monitoring and releases the backend. Stopping an idle
// manager is a no-op.
func (m *StreamManager) Stop(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.stopLocked(ctx)
}

func (m *StreamManager) stopLocked(ctx context.Context) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return nil
	}

	ctx, span := otel.Tracer("kwikcast/stream").Start(ctx, "stream.stop")
	defer span.End()

	m.setState(domain.StateStopping)
	m.teardownSession(ctx)
	m.logger.Infow("stream stopped", "session_id", session.ID)
	return nil
}

// teardownSession releases every session resource. Safe to call on an
// already-clean manager.
func (m *StreamManager) teardownSession(ctx context.Context) {
	m.mu.Lock()
	backend := m.backend
	timer := m.reconnectTimer
	stopMetrics := m.stopMetrics
	eventLoopDone := m.eventLoopDone
	monitoringOn := m.monitoringOn

	m.session = nil
	m.backend = nil
	m.reconnectTimer = nil
	m.reconnectPending = false
	m.stopMetrics = nil
	m.eventLoopDone = nil
	m.firstConnect = nil
	m.monitoringOn = false
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if stopMetrics != nil {
		close(stopMetrics)
	}
	if monitoringOn {
		m.monitor.Stop()
	}
	if backend != nil {
		if err := backend.Stop(ctx); err != nil {
			m.logger.Warnw("backend stop failed", "error", err)
		}
	}
	if eventLoopDone != nil {
		<-eventLoopDone
	}

	m.setState(domain.StateIdle)
}

// Pause forwards to the active backend. A no-op without one.
func (m *StreamManager) Pause() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	backend := m.backend
	streaming := m.session != nil && m.session.State == domain.StateStreaming
	m.mu.Unlock()

	if backend == nil || !streaming {
		return nil
	}
	if err := backend.Pause(); err != nil {
		return fmt.Errorf("failed to pause stream: %w", err)
	}
	m.setState(domain.StatePaused)
	return nil
}

// Resume forwards to the active backend. A no-op without one.
func (m *StreamManager) Resume() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	backend := m.backend
	paused := m.session != nil && m.session.State == domain.StatePaused
	m.mu.Unlock()

	if backend == nil || !paused {
		return nil
	}
	if err := backend.Resume(); err != nil {
		return fmt.Errorf("failed to resume stream: %w", err)
	}
	m.setState(domain.StateStreaming)
	return nil
}

// Metrics never blocks and never fails: without an active backend it
// returns a zeroed, poor-quality default.
func (m *StreamManager) Metrics() domain.StreamMetrics {
	m.mu.Lock()
	backend := m.backend
	m.mu.Unlock()

	if backend == nil {
		return domain.StreamMetrics{Quality: domain.QualityPoor, Timestamp: time.Now()}
	}
	return backend.Metrics()
}

// IsStreaming reports whether a backend exists and reports itself active.
func (m *StreamManager) IsStreaming() bool {
	m.mu.Lock()
	backend := m.backend
	m.mu.Unlock()
	return backend != nil && backend.IsActive()
}

// State returns the current session state, Idle when no session exists.
func (m *StreamManager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.StateIdle
	}
	return m.session.State
}

// Session returns a copy of the current session, if any.
func (m *StreamManager) Session() (domain.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return domain.Session{}, false
	}
	return *m.session, true
}

// Scenes is the pass-through accessor for the scene collaborator.
func (m *StreamManager) Scenes() ports.SceneManager { return m.scenes }

// Audio is the pass-through accessor for the mixer collaborator.
func (m *StreamManager) Audio() ports.AudioMixer { return m.audio }

// Destroy stops the stream and releases all subscriptions. Terminal and
// idempotent; safe even if no session was ever started.
func (m *StreamManager) Destroy() {
	m.destroyOnce.Do(func() {
		if err := m.Stop(context.Background()); err != nil {
			m.logger.Warnw("stop during destroy failed", "error", err)
		}
		if m.unsubBus != nil {
			m.unsubBus()
		}
	})
}

// consumeBackendEvents processes backend lifecycle events strictly in
// arrival order. Exits when the backend closes its channel on teardown.
func (m *StreamManager) consumeBackendEvents(backend ports.TransportBackend, done chan struct{}) {
	defer close(done)

	for ev := range backend.Events() {
		switch ev.Type {
		case ports.BackendConnected:
			m.handleConnected(backend)
		case ports.BackendDisconnected:
			m.handleDisconnected(backend)
		case ports.BackendError:
			m.handleBackendError(backend, ev.Err)
		}
	}
}

func (m *StreamManager) handleConnected(backend ports.TransportBackend) {
	m.mu.Lock()
	if m.backend != backend || m.session == nil {
		m.mu.Unlock()
		return
	}
	wasReconnect := m.session.ReconnectAttempts > 0
	m.session.ReconnectAttempts = 0
	m.reconnectPending = false
	session := m.session

	firstConnect := m.firstConnect
	m.firstConnect = nil

	startLoops := m.stopMetrics == nil
	var stopMetrics chan struct{}
	if startLoops {
		stopMetrics = make(chan struct{})
		m.stopMetrics = stopMetrics
	}
	monitoringOn := m.monitoringOn
	m.mu.Unlock()

	m.setState(domain.StateStreaming)

	if wasReconnect {
		m.logger.Infow("stream reconnected", "session_id", session.ID)
		m.bus.Publish(events.Event{Type: events.EventReconnected, SessionID: session.ID})
	}

	if startLoops {
		go m.metricsLoop(stopMetrics)
		if monitoringOn {
			m.monitor.Start(context.Background())
		}
	}

	if firstConnect != nil {
		close(firstConnect)
	}
}

func (m *StreamManager) handleDisconnected(backend ports.TransportBackend) {
	m.mu.Lock()
	if m.backend != backend || m.session == nil {
		m.mu.Unlock()
		return
	}
	state := m.session.State
	m.mu.Unlock()

	if state == domain.StateStopping || state == domain.StateIdle || state == domain.StateFailed {
		return
	}

	m.logger.Warnw("stream disconnected", "state", state)
	m.scheduleReconnect(backend)
}

func (m *StreamManager) handleBackendError(backend ports.TransportBackend, err error) {
	if err == nil {
		return
	}

	m.mu.Lock()
	var sessionID domain.SessionID
	if m.session != nil {
		sessionID = m.session.ID
	}
	m.mu.Unlock()

	m.logger.Errorw("backend error", "session_id", sessionID, "error", err)
	m.bus.Publish(events.Event{Type: events.EventError, SessionID: sessionID, Message: err.Error()})

	if isNetworkError(err) {
		m.handleDisconnected(backend)
	}
}

func isNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range networkErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// scheduleReconnect runs the bounded reconnection policy: linear backoff
// of base*attempt, at most one outstanding timer, terminal Failed state
// once the ceiling is exhausted.
func (m *StreamManager) scheduleReconnect(backend ports.TransportBackend) {
	m.mu.Lock()
	if m.backend != backend || m.session == nil || m.reconnectPending {
		m.mu.Unlock()
		return
	}

	if m.session.ReconnectAttempts >= m.reconnectCeiling {
		sessionID := m.session.ID
		m.session.State = domain.StateFailed
		timer := m.reconnectTimer
		stopMetrics := m.stopMetrics
		monitoringOn := m.monitoringOn
		m.backend = nil
		m.reconnectTimer = nil
		m.stopMetrics = nil
		m.monitoringOn = false
		m.mu.Unlock()

		// Failed releases every session resource; only the session record
		// stays behind so status reads report Failed until Stop.
		if timer != nil {
			timer.Stop()
		}
		if stopMetrics != nil {
			close(stopMetrics)
		}
		if monitoringOn {
			m.monitor.Stop()
		}
		if err := backend.Stop(context.Background()); err != nil {
			m.logger.Warnw("backend stop failed", "error", err)
		}

		m.logger.Errorw("max reconnect attempts reached", "session_id", sessionID, "attempts", m.reconnectCeiling)
		m.bus.Publish(events.Event{Type: events.EventMaxReconnectAttempts, SessionID: sessionID})
		m.bus.Publish(events.Event{Type: events.EventStatusChange, SessionID: sessionID, State: domain.StateFailed})
		return
	}

	m.session.ReconnectAttempts++
	attempt := m.session.ReconnectAttempts
	sessionID := m.session.ID
	delay := time.Duration(attempt) * m.reconnectBase
	m.reconnectPending = true
	m.session.State = domain.StateDisconnected

	m.reconnectTimer = m.newTimer(delay, func() {
		m.attemptReconnect(backend)
	})
	m.mu.Unlock()

	m.logger.Infow("reconnect scheduled",
		"session_id", sessionID,
		"attempt", attempt,
		"delay", delay,
	)
	m.bus.Publish(events.Event{Type: events.EventStatusChange, SessionID: sessionID, State: domain.StateDisconnected})
	m.bus.Publish(events.Event{Type: events.EventReconnectAttempt, SessionID: sessionID, Attempt: attempt})
}

func (m *StreamManager) attemptReconnect(backend ports.TransportBackend) {
	m.mu.Lock()
	if m.backend != backend || m.session == nil {
		m.mu.Unlock()
		return
	}
	m.reconnectPending = false
	m.session.State = domain.StateConnecting
	cfg := m.session.Config
	settings := m.session.Settings
	sessionID := m.session.ID
	m.mu.Unlock()

	m.bus.Publish(events.Event{Type: events.EventStatusChange, SessionID: sessionID, State: domain.StateConnecting})

	if err := backend.Start(context.Background(), cfg, settings); err != nil {
		m.logger.Warnw("reconnect attempt failed", "session_id", sessionID, "error", err)
		m.bus.Publish(events.Event{Type: events.EventReconnectFailed, SessionID: sessionID, Message: err.Error()})
		m.scheduleReconnect(backend)
	}
}

// metricsLoop republishes consolidated metrics once a second. It keeps
// running while the session is Paused so paused sessions still report.
func (m *StreamManager) metricsLoop(stop chan struct{}) {
	ticker := time.NewTicker(m.metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			var sessionID domain.SessionID
			if m.session != nil {
				sessionID = m.session.ID
			}
			m.mu.Unlock()

			m.bus.Publish(events.Event{
				Type:      events.EventMetricsUpdate,
				SessionID: sessionID,
				Metrics:   m.Metrics(),
			})
		}
	}
}

// onNetworkSample is the adaptive-bitrate step: compare the recommended
// bitrate against the encoder's current one and only adjust when the
// difference is perceptible.
func (m *StreamManager) onNetworkSample(sample domain.NetworkSample) {
	m.mu.Lock()
	backend := m.backend
	active := m.monitoringOn && m.session != nil &&
		m.session.State == domain.StateStreaming && m.session.Settings.AdaptiveBitrate
	var sessionID domain.SessionID
	if m.session != nil {
		sessionID = m.session.ID
	}
	m.mu.Unlock()

	if !active || backend == nil {
		return
	}

	current := backend.Metrics().BitrateKbps
	recommended := RecommendedBitrate(sample)

	diff := current - recommended
	if diff < 0 {
		diff = -diff
	}
	if diff <= bitrateAdjustThreshold {
		return
	}

	reason := "network capacity increased"
	if recommended < current {
		reason = "network capacity degraded"
	}

	m.logger.Infow("adjusting bitrate",
		"session_id", sessionID,
		"from_kbps", current,
		"to_kbps", recommended,
		"reason", reason,
	)

	if err := backend.SetBitrate(recommended); err != nil {
		m.logger.Warnw("bitrate adjustment failed", "error", err)
		return
	}

	m.mu.Lock()
	if m.session != nil {
		m.session.Settings.VideoBitrateKbps = recommended
	}
	m.mu.Unlock()

	m.bus.Publish(events.Event{
		Type:      events.EventBitrateAdjustment,
		SessionID: sessionID,
		FromKbps:  current,
		ToKbps:    recommended,
		Reason:    reason,
	})
}

func (m *StreamManager) setState(state domain.SessionState) {
	m.mu.Lock()
	var sessionID domain.SessionID
	if m.session != nil {
		m.session.State = state
		sessionID = m.session.ID
	}
	m.mu.Unlock()

	m.bus.Publish(events.Event{Type: events.EventStatusChange, SessionID: sessionID, State: state})
}
