package ports

import (
	"context"

	"kwikcast/internal/core/domain"
)

// BackendEventType identifies an asynchronous transport notification.
type BackendEventType int

const (
	BackendConnected BackendEventType = iota
	BackendDisconnected
	BackendError
)

func (t BackendEventType) String() string {
	switch t {
	case BackendConnected:
		return "connected"
	case BackendDisconnected:
		return "disconnected"
	case BackendError:
		return "error"
	default:
		return "unknown"
	}
}

// BackendEvent is an asynchronous notification from a transport backend.
type BackendEvent struct {
	Type BackendEventType
	Err  error
}

// TransportBackend pushes encoded media over a wire protocol. Exactly one
// backend is active per session and it is exclusively owned by the stream
// manager for its lifetime. Implementations close the Events channel on
// final teardown.
type TransportBackend interface {
	Start(ctx context.Context, cfg domain.StreamConfig, settings domain.StreamSettings) error
	Stop(ctx context.Context) error
	Pause() error
	Resume() error

	// SetBitrate pushes a new target video bitrate to the running encoder.
	SetBitrate(kbps int) error

	Metrics() domain.StreamMetrics
	IsActive() bool
	Events() <-chan BackendEvent
}

// BackendFactory constructs the backend variant for a protocol.
type BackendFactory func(proto domain.StreamProtocol) (TransportBackend, error)
