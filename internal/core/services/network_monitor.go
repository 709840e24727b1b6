package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/core/ports"
	"kwikcast/internal/events"

	"go.uber.org/zap"
)

const (
	defaultSampleInterval = 5 * time.Second

	// Warning thresholds
	minUploadMbps  = 1.0
	maxLatency     = 100 * time.Millisecond
	maxLossPercent = 2.0

	// Recommended bitrate bounds (kbps)
	minBitrateKbps     = 500
	maxBitrateKbps     = 8000
	neutralBitrateKbps = 2500
)

// qualityTier bounds must all hold simultaneously for the tier to apply.
type qualityTier struct {
	quality     domain.ConnectionQuality
	minUpload   float64
	maxLatency  time.Duration
	maxLossPerc float64
}

var qualityTiers = []qualityTier{
	{domain.QualityExcellent, 5.0, 30 * time.Millisecond, 0.5},
	{domain.QualityGood, 3.0, 50 * time.Millisecond, 1.0},
	{domain.QualityFair, 1.5, 100 * time.Millisecond, 2.0},
}

// NetworkMonitor maintains a rolling best-effort estimate of outbound
// network health and translates it into encoding guidance. Only the most
// recent sample is retained and it is replaced atomically.
type NetworkMonitor struct {
	prober   ports.NetworkProber
	bus      *events.Bus
	logger   *zap.SugaredLogger
	interval time.Duration

	sample atomic.Pointer[domain.NetworkSample]

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewNetworkMonitor(prober ports.NetworkProber, bus *events.Bus, logger *zap.SugaredLogger) *NetworkMonitor {
	return &NetworkMonitor{
		prober:   prober,
		bus:      bus,
		logger:   logger,
		interval: defaultSampleInterval,
	}
}

// SetInterval overrides the sampling period. Takes effect on the next Start.
func (m *NetworkMonitor) SetInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = d
}

// Start begins the fixed-period sampling loop. Starting an already
// running monitor is a no-op; only one loop runs at a time.
func (m *NetworkMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(loopCtx, m.done, m.interval)
	m.logger.Infow("network monitoring started", "interval", m.interval)
}

// Stop halts the sampling loop and waits for it to exit. Idempotent.
func (m *NetworkMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	m.logger.Infow("network monitoring stopped")
}

// IsRunning reports whether the sampling loop is active.
func (m *NetworkMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancel != nil
}

func (m *NetworkMonitor) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Sample once immediately so consumers are not blind for a full period.
	m.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick runs all sub-probes in fixed order. Each one is best-effort: a
// failure degrades that field to zero rather than aborting the tick.
func (m *NetworkMonitor) tick(ctx context.Context) {
	sample := domain.NetworkSample{SampledAt: time.Now()}

	down, up, err := m.prober.MeasureBandwidth(ctx)
	if err != nil {
		m.logger.Warnw("bandwidth probe failed", "error", err)
	} else {
		sample.DownloadMbps = down
		sample.UploadMbps = up
	}

	latency, err := m.prober.MeasureLatency(ctx)
	if err != nil {
		m.logger.Warnw("latency probe failed", "error", err)
	} else {
		sample.Latency = latency
	}

	jitter, loss, err := m.prober.MeasureJitterLoss(ctx)
	if err != nil {
		m.logger.Warnw("jitter/loss probe failed", "error", err)
	} else {
		sample.Jitter = jitter
		sample.PacketLossPercent = loss
	}

	if ctx.Err() != nil {
		return
	}

	m.sample.Store(&sample)
	m.bus.Publish(events.Event{Type: events.EventNetworkStats, Sample: sample})
	m.warnOnThresholds(sample)
}

func (m *NetworkMonitor) warnOnThresholds(s domain.NetworkSample) {
	if s.UploadMbps < minUploadMbps {
		m.publishWarning(fmt.Sprintf("upload speed low: %.2f Mbps", s.UploadMbps))
	}
	if s.Latency > maxLatency {
		m.publishWarning(fmt.Sprintf("latency high: %d ms", s.Latency.Milliseconds()))
	}
	if s.PacketLossPercent > maxLossPercent {
		m.publishWarning(fmt.Sprintf("packet loss high: %.1f%%", s.PacketLossPercent))
	}
}

func (m *NetworkMonitor) publishWarning(msg string) {
	m.logger.Warnw("network warning", "warning", msg)
	m.bus.Publish(events.Event{Type: events.EventNetworkWarning, Message: msg})
}

// Sample returns the latest sample, if one has been taken.
func (m *NetworkMonitor) Sample() (domain.NetworkSample, bool) {
	s := m.sample.Load()
	if s == nil {
		return domain.NetworkSample{}, false
	}
	return *s, true
}

// RecommendedBitrate derives a target video bitrate in kbps from the
// latest sample. Deterministic in the sample alone; returns a neutral
// default when no sample exists yet.
func (m *NetworkMonitor) RecommendedBitrate() int {
	s := m.sample.Load()
	if s == nil {
		return neutralBitrateKbps
	}
	return RecommendedBitrate(*s)
}

// RecommendedBitrate computes the adaptive target for a sample: 70% of
// measured upload capacity, penalized for latency and packet loss,
// clamped to [500, 8000] kbps.
func RecommendedBitrate(s domain.NetworkSample) int {
	bitrate := s.UploadMbps * 0.7 * 1000

	switch {
	case s.Latency > 100*time.Millisecond:
		bitrate *= 0.8
	case s.Latency > 50*time.Millisecond:
		bitrate *= 0.9
	}

	switch {
	case s.PacketLossPercent > 2.0:
		bitrate *= 0.7
	case s.PacketLossPercent > 1.0:
		bitrate *= 0.85
	}

	if bitrate < minBitrateKbps {
		return minBitrateKbps
	}
	if bitrate > maxBitrateKbps {
		return maxBitrateKbps
	}
	return int(bitrate)
}

// Quality classifies the latest sample into an ordinal tier. An unknown
// network is treated as mediocre, not optimistic or pessimistic.
func (m *NetworkMonitor) Quality() domain.ConnectionQuality {
	s := m.sample.Load()
	if s == nil {
		return domain.QualityFair
	}
	return ClassifyQuality(*s)
}

// ClassifyQuality maps a sample to the highest tier whose upload, latency
// and loss bounds all hold.
func ClassifyQuality(s domain.NetworkSample) domain.ConnectionQuality {
	for _, tier := range qualityTiers {
		if s.UploadMbps >= tier.minUpload &&
			s.Latency <= tier.maxLatency &&
			s.PacketLossPercent <= tier.maxLossPerc {
			return tier.quality
		}
	}
	return domain.QualityPoor
}
