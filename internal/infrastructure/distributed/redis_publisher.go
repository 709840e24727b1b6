package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/events"
	"kwikcast/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const eventChannel = "kwikcast:events"

// wireEvent is the JSON shape mirrored onto Redis pub/sub.
type wireEvent struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	SessionID domain.SessionID `json:"session_id,omitempty"`
	State     string           `json:"state,omitempty"`
	Message   string           `json:"message,omitempty"`
	Attempt   int              `json:"attempt,omitempty"`
	FromKbps  int              `json:"from_kbps,omitempty"`
	ToKbps    int              `json:"to_kbps,omitempty"`
}

// RedisPublisher mirrors orchestrator events onto Redis pub/sub so
// external dashboards can observe the session without a direct
// connection to the process.
type RedisPublisher struct {
	client *redis.Client
	logger *zap.SugaredLogger
	unsub  func()
}

func NewRedisPublisher(client *redis.Client, logger *zap.SugaredLogger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Attach subscribes to the in-process bus and starts mirroring.
func (p *RedisPublisher) Attach(bus *events.Bus) {
	p.unsub = bus.Subscribe(func(ev events.Event) {
		// Metrics updates fire every second; mirroring them would flood
		// the channel for little value.
		if ev.Type == events.EventMetricsUpdate {
			return
		}
		p.publish(ev)
	})
}

// Detach stops mirroring. The Redis client is owned by the caller.
func (p *RedisPublisher) Detach() {
	if p.unsub != nil {
		p.unsub()
		p.unsub = nil
	}
}

func (p *RedisPublisher) publish(ev events.Event) {
	wire := wireEvent{
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		SessionID: ev.SessionID,
		Message:   ev.Message,
		Attempt:   ev.Attempt,
		FromKbps:  ev.FromKbps,
		ToKbps:    ev.ToKbps,
	}
	if ev.Type == events.EventStatusChange {
		wire.State = ev.State.String()
	}

	data, err := json.Marshal(wire)
	if err != nil {
		p.logger.Warnw("failed to marshal event for redis", "type", ev.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cfg := retry.Config{MaxAttempts: 2, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2.0}
	err = retry.Do(ctx, cfg, func() error {
		if err := p.client.Publish(ctx, eventChannel, data).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
		return nil
	})
	if err != nil {
		p.logger.Warnw("failed to mirror event to redis", "type", ev.Type, "error", err)
	}
}
