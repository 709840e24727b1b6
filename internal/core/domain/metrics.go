package domain

import "time"

// NetworkSample is an immutable snapshot of measured network health.
// Only the most recent sample is retained; callers needing trend data
// must subscribe to the update stream.
type NetworkSample struct {
	DownloadMbps      float64
	UploadMbps        float64
	Latency           time.Duration
	Jitter            time.Duration
	PacketLossPercent float64
	SampledAt         time.Time
}

// ConnectionQuality is a coarse ordinal classification of network health.
type ConnectionQuality int

const (
	QualityPoor ConnectionQuality = iota
	QualityFair
	QualityGood
	QualityExcellent
)

func (q ConnectionQuality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	default:
		return "poor"
	}
}

// StreamMetrics is a read-only view of the active transport backend,
// recomputed on demand.
type StreamMetrics struct {
	BitrateKbps   int
	FPS           int
	DroppedFrames int
	Quality       ConnectionQuality
	Uptime        time.Duration
	Timestamp     time.Time
}
