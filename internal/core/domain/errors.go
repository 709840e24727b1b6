package domain

import "errors"

var (
	ErrNoActiveSession      = errors.New("no active session")
	ErrSessionActive        = errors.New("session already active")
	ErrBackendClosed        = errors.New("transport backend closed")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
	ErrInvalidConfig        = errors.New("invalid stream config")
	ErrMonitorRunning       = errors.New("network monitor already running")
)
