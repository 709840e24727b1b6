package domain

import (
	"time"
)

type SessionID string

// SessionState is the lifecycle state of a streaming session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateStreaming
	StatePaused
	StateStopping
	StateDisconnected
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamProtocol selects the transport backend variant.
type StreamProtocol string

const (
	ProtocolRTMP   StreamProtocol = "rtmp"
	ProtocolWebRTC StreamProtocol = "webrtc"
)

// StreamConfig identifies the destination a session pushes to.
type StreamConfig struct {
	Platform     string
	IngestURL    string
	StreamKey    string
	SignalingURL string // WebRTC only
}

// Session is a single run of streaming, from start request to explicit
// stop or terminal failure. Owned exclusively by the stream manager.
type Session struct {
	ID                SessionID
	Protocol          StreamProtocol
	State             SessionState
	Config            StreamConfig
	Settings          StreamSettings
	ReconnectAttempts int
	StartedAt         time.Time
}
