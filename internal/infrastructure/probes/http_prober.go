package probes

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"kwikcast/pkg/circuitbreaker"

	"go.uber.org/zap"
)

const (
	latencyProbeCount = 4
	jitterProbeCount  = 8
	probeTimeout      = 10 * time.Second
)

// Config for the HTTP prober.
type Config struct {
	// BandwidthEndpoint serves the timed download; upload is a POST of
	// the same payload size to it.
	BandwidthEndpoint string
	// LatencyHost is a host:port dialed for round-trip measurements.
	LatencyHost string
	// PayloadBytes is the fixed transfer size for bandwidth probes.
	PayloadBytes int
}

// HTTPProber measures network health with timed HTTP transfers and TCP
// round trips. It deliberately avoids shelling out to external tools so
// the probing strategy stays replaceable and portable.
type HTTPProber struct {
	cfg     Config
	client  *http.Client
	dialer  *net.Dialer
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewHTTPProber(cfg Config, logger *zap.SugaredLogger) *HTTPProber {
	if cfg.PayloadBytes <= 0 {
		cfg.PayloadBytes = 256 * 1024
	}
	return &HTTPProber{
		cfg:     cfg,
		client:  &http.Client{Timeout: probeTimeout},
		dialer:  &net.Dialer{Timeout: 2 * time.Second},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// MeasureBandwidth performs a timed download then upload against the
// configured endpoint. The circuit breaker keeps a dead endpoint from
// being hammered every tick.
func (p *HTTPProber) MeasureBandwidth(ctx context.Context) (float64, float64, error) {
	var down, up float64

	err := p.breaker.Execute(func() error {
		var err error
		if down, err = p.timedDownload(ctx); err != nil {
			return err
		}
		up, err = p.timedUpload(ctx)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("bandwidth probe: %w", err)
	}
	return down, up, nil
}

func (p *HTTPProber) timedDownload(ctx context.Context) (float64, error) {
	url := fmt.Sprintf("%s?bytes=%d", p.cfg.BandwidthEndpoint, p.cfg.PayloadBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	return mbps(n, time.Since(start)), nil
}

func (p *HTTPProber) timedUpload(ctx context.Context) (float64, error) {
	payload := make([]byte, p.cfg.PayloadBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BandwidthEndpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	return mbps(int64(p.cfg.PayloadBytes), time.Since(start)), nil
}

// MeasureLatency reports the average of a small fixed count of TCP round
// trips to the configured host.
func (p *HTTPProber) MeasureLatency(ctx context.Context) (time.Duration, error) {
	rtts, failed := p.roundTrips(ctx, latencyProbeCount)
	if len(rtts) == 0 {
		return 0, fmt.Errorf("latency probe: all %d round trips failed", failed)
	}

	var total time.Duration
	for _, rtt := range rtts {
		total += rtt
	}
	return total / time.Duration(len(rtts)), nil
}

// MeasureJitterLoss reports the standard deviation of round-trip times
// over a larger probe count and the fraction of probes that failed.
func (p *HTTPProber) MeasureJitterLoss(ctx context.Context) (time.Duration, float64, error) {
	rtts, failed := p.roundTrips(ctx, jitterProbeCount)
	loss := float64(failed) / float64(jitterProbeCount) * 100

	if len(rtts) < 2 {
		if len(rtts) == 0 {
			return 0, loss, fmt.Errorf("jitter probe: all round trips failed")
		}
		return 0, loss, nil
	}

	var sum time.Duration
	for _, rtt := range rtts {
		sum += rtt
	}
	mean := float64(sum) / float64(len(rtts))

	var variance float64
	for _, rtt := range rtts {
		d := float64(rtt) - mean
		variance += d * d
	}
	variance /= float64(len(rtts))

	return time.Duration(math.Sqrt(variance)), loss, nil
}

func (p *HTTPProber) roundTrips(ctx context.Context, count int) ([]time.Duration, int) {
	rtts := make([]time.Duration, 0, count)
	failed := 0

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			failed += count - i
			break
		}

		start := time.Now()
		conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.LatencyHost)
		if err != nil {
			failed++
			continue
		}
		rtts = append(rtts, time.Since(start))
		conn.Close()
	}
	return rtts, failed
}

func mbps(bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) * 8 / elapsed.Seconds() / 1e6
}
