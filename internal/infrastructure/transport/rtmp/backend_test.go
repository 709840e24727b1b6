package rtmp

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/core/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// startIngest runs a throwaway TCP listener standing in for an ingest
// server. Accepted connections are drained until closed.
func startIngest(t *testing.T) (addr string, closeFn func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 64)
				for {
					if _, err := c.Read(buf); err != nil {
						c.Close()
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String(), func() {
		ln.Close()
		<-done
	}
}

func testConfig(addr string) domain.StreamConfig {
	return domain.StreamConfig{
		Platform:  "twitch",
		IngestURL: fmt.Sprintf("rtmp://%s/app", addr),
		StreamKey: "key",
	}
}

func awaitBackendEvent(t *testing.T, b *Backend, want ports.BackendEventType) ports.BackendEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestBackend_StartConnectsAndEmits(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr, closeIngest := startIngest(t)
	defer closeIngest()

	b := NewBackend(zap.NewNop().Sugar())
	require.NoError(t, b.Start(context.Background(), testConfig(addr), domain.DefaultStreamSettings()))

	ev := awaitBackendEvent(t, b, ports.BackendConnected)
	assert.Equal(t, ports.BackendConnected, ev.Type)
	assert.True(t, b.IsActive())

	m := b.Metrics()
	assert.Equal(t, 4500, m.BitrateKbps)
	assert.Equal(t, 30, m.FPS)
	assert.Equal(t, domain.QualityExcellent, m.Quality)

	require.NoError(t, b.Stop(context.Background()))
	assert.False(t, b.IsActive())
}

func TestBackend_StartFailsWithoutServer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewBackend(zap.NewNop().Sugar())
	b.retryCfg.MaxAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Port 1 on loopback refuses immediately
	err := b.Start(ctx, testConfig("127.0.0.1:1"), domain.DefaultStreamSettings())
	require.Error(t, err)
	assert.False(t, b.IsActive())

	require.NoError(t, b.Stop(context.Background()))
}

func TestBackend_RejectsInvalidIngestURL(t *testing.T) {
	b := NewBackend(zap.NewNop().Sugar())
	defer b.Stop(context.Background())

	cases := []string{
		"http://live.example.com/app",
		"rtmp://",
		"not a url at all\x7f",
	}
	for _, ingest := range cases {
		cfg := domain.StreamConfig{Platform: "custom", IngestURL: ingest}
		err := b.Start(context.Background(), cfg, domain.DefaultStreamSettings())
		assert.Error(t, err, "ingest url %q", ingest)
	}
}

func TestBackend_DoubleStartRejected(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr, closeIngest := startIngest(t)
	defer closeIngest()

	b := NewBackend(zap.NewNop().Sugar())
	require.NoError(t, b.Start(context.Background(), testConfig(addr), domain.DefaultStreamSettings()))
	assert.Error(t, b.Start(context.Background(), testConfig(addr), domain.DefaultStreamSettings()))

	require.NoError(t, b.Stop(context.Background()))
}

func TestBackend_StartAfterStopReturnsClosed(t *testing.T) {
	b := NewBackend(zap.NewNop().Sugar())
	require.NoError(t, b.Stop(context.Background()))

	err := b.Start(context.Background(), testConfig("127.0.0.1:1935"), domain.DefaultStreamSettings())
	assert.ErrorIs(t, err, domain.ErrBackendClosed)
}

func TestBackend_StopIsIdempotentAndClosesEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr, closeIngest := startIngest(t)
	defer closeIngest()

	b := NewBackend(zap.NewNop().Sugar())
	require.NoError(t, b.Start(context.Background(), testConfig(addr), domain.DefaultStreamSettings()))

	require.NoError(t, b.Stop(context.Background()))
	require.NoError(t, b.Stop(context.Background()))

	// Drain until the channel closes
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-b.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel was not closed by Stop")
		}
	}
}

func TestBackend_PauseResume(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr, closeIngest := startIngest(t)
	defer closeIngest()

	b := NewBackend(zap.NewNop().Sugar())

	assert.ErrorIs(t, b.Pause(), domain.ErrNoActiveSession)
	assert.ErrorIs(t, b.Resume(), domain.ErrNoActiveSession)

	require.NoError(t, b.Start(context.Background(), testConfig(addr), domain.DefaultStreamSettings()))
	assert.NoError(t, b.Pause())
	assert.NoError(t, b.Resume())

	require.NoError(t, b.Stop(context.Background()))
}

func TestBackend_SetBitrate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr, closeIngest := startIngest(t)
	defer closeIngest()

	b := NewBackend(zap.NewNop().Sugar())
	require.NoError(t, b.Start(context.Background(), testConfig(addr), domain.DefaultStreamSettings()))

	assert.Error(t, b.SetBitrate(0))
	assert.Error(t, b.SetBitrate(-100))

	require.NoError(t, b.SetBitrate(3000))
	assert.Equal(t, 3000, b.Metrics().BitrateKbps)

	require.NoError(t, b.Stop(context.Background()))
}

func TestIngestAddr(t *testing.T) {
	tests := []struct {
		in      string
		out     string
		wantErr bool
	}{
		{in: "rtmp://live.example.com/app", out: "live.example.com:1935"},
		{in: "rtmp://live.example.com:1936/app", out: "live.example.com:1936"},
		{in: "rtmps://live.example.com/app", out: "live.example.com:1935"},
		{in: "http://live.example.com/app", wantErr: true},
		{in: "rtmp://", wantErr: true},
	}

	for _, tt := range tests {
		addr, err := ingestAddr(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "url %q", tt.in)
			continue
		}
		require.NoError(t, err, "url %q", tt.in)
		assert.Equal(t, tt.out, addr)
	}
}
