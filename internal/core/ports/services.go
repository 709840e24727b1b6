package ports

import (
	"context"
	"time"

	"kwikcast/internal/core/domain"
)

// NetworkProber is the replaceable probing strategy behind the network
// monitor. Every method is best-effort: a failure degrades that one
// measurement, it never stops monitoring.
type NetworkProber interface {
	// MeasureBandwidth performs a timed download then upload of a small
	// fixed-size payload and reports both rates in Mbps.
	MeasureBandwidth(ctx context.Context) (downMbps, upMbps float64, err error)

	// MeasureLatency reports the average round-trip time over a small
	// fixed count of probes.
	MeasureLatency(ctx context.Context) (time.Duration, error)

	// MeasureJitterLoss reports the standard deviation of round-trip
	// times over a slightly larger probe count, plus the percentage of
	// probes that failed outright.
	MeasureJitterLoss(ctx context.Context) (jitter time.Duration, lossPercent float64, err error)
}

// HardwareProvider reports the best locally available encoder.
type HardwareProvider interface {
	BestEncoder() string
	RecommendedSettings() domain.EncoderSettings
}

// SceneManager is the scene composition collaborator. The stream manager
// only passes it through; it never inspects scene internals.
type SceneManager interface {
	AddScene(name string) (string, error)
	UpdateScene(id, name string) error
	RemoveScene(id string) error
	SetActive(id string) error
	Scenes() []domain.Scene
}

// AudioMixer is the audio mixing collaborator.
type AudioMixer interface {
	AddChannel(name string) (string, error)
	SetVolume(id string, volume float64) error
	SetMuted(id string, muted bool) error
	RemoveChannel(id string) error
	Channels() []domain.AudioChannel
}
