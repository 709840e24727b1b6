package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const eventBuffer = 32

// Config holds the WebRTC transport configuration.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// Backend is the WebRTC-push transport: a pion PeerConnection publishing
// one audio and one video track, with offer/answer exchanged over a
// WebSocket signaling channel. Remote receiver reports feed the metrics.
type Backend struct {
	config Config
	logger *zap.SugaredLogger

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	signaling   *signalingClient
	audioTrack  *webrtc.TrackLocalStaticRTP
	videoTrack  *webrtc.TrackLocalStaticRTP
	settings    domain.StreamSettings
	connectedAt time.Time
	active      bool
	paused      bool
	closed      bool

	// From RTCP receiver reports
	fractionLost  float64
	jitterMs      float64
	packetsLost   int
	droppedFrames int

	events chan ports.BackendEvent
}

func NewBackend(config Config, logger *zap.SugaredLogger) *Backend {
	return &Backend{
		config: config,
		logger: logger,
		events: make(chan ports.BackendEvent, eventBuffer),
	}
}

// Start dials signaling, publishes an offer for one Opus and one H264
// track and waits for the answer. Connection state changes surface as
// backend events; Start may be called again after a disconnection.
func (b *Backend) Start(ctx context.Context, cfg domain.StreamConfig, settings domain.StreamSettings) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrBackendClosed
	}
	if b.active {
		b.mu.Unlock()
		return fmt.Errorf("webrtc backend already started")
	}
	b.mu.Unlock()

	if cfg.SignalingURL == "" {
		return domain.ErrInvalidConfig
	}

	signaling, err := dialSignaling(ctx, cfg.SignalingURL)
	if err != nil {
		return err
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: b.config.ICEServers})
	if err != nil {
		signaling.close() //nolint:errcheck
		return fmt.Errorf("failed to create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "kwikcast-audio")
	if err != nil {
		return b.abortStart(pc, signaling, err)
	}
	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}, "video", "kwikcast-video")
	if err != nil {
		return b.abortStart(pc, signaling, err)
	}

	if _, err := pc.AddTrack(audioTrack); err != nil {
		return b.abortStart(pc, signaling, err)
	}
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		return b.abortStart(pc, signaling, err)
	}

	go b.readReceiverReports(videoSender)

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateConnected:
			b.mu.Lock()
			alreadyActive := b.active
			if !alreadyActive {
				b.active = true
				b.connectedAt = time.Now()
			}
			b.mu.Unlock()
			if !alreadyActive {
				b.emit(ports.BackendEvent{Type: ports.BackendConnected})
			}
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
			b.mu.Lock()
			wasActive := b.active
			b.active = false
			b.mu.Unlock()
			if wasActive {
				b.emit(ports.BackendEvent{Type: ports.BackendDisconnected})
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return b.abortStart(pc, signaling, fmt.Errorf("failed to create offer: %w", err))
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return b.abortStart(pc, signaling, fmt.Errorf("failed to set local description: %w", err))
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return b.abortStart(pc, signaling, ctx.Err())
	}

	local := pc.LocalDescription()
	if err := signaling.send(signalMessage{Type: "offer", SDP: local.SDP, StreamKey: cfg.StreamKey}); err != nil {
		return b.abortStart(pc, signaling, fmt.Errorf("failed to send offer: %w", err))
	}

	answerSDP, err := signaling.awaitAnswer(ctx)
	if err != nil {
		return b.abortStart(pc, signaling, err)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return b.abortStart(pc, signaling, fmt.Errorf("failed to set remote description: %w", err))
	}

	if err := b.install(pc, signaling, audioTrack, videoTrack, settings); err != nil {
		return err
	}

	b.logger.Infow("webrtc transport negotiating", "signaling_url", cfg.SignalingURL)
	return nil
}

// install publishes the freshly negotiated connection and releases the
// one a previous Start left behind after an ICE disconnection. Closing
// the stale peer connection also unblocks its receiver-report reader.
func (b *Backend) install(pc *webrtc.PeerConnection, signaling *signalingClient, audioTrack, videoTrack *webrtc.TrackLocalStaticRTP, settings domain.StreamSettings) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		pc.Close()        //nolint:errcheck
		signaling.close() //nolint:errcheck
		return domain.ErrBackendClosed
	}
	stalePC := b.pc
	staleSignaling := b.signaling
	b.pc = pc
	b.signaling = signaling
	b.audioTrack = audioTrack
	b.videoTrack = videoTrack
	b.settings = settings
	b.paused = false
	b.mu.Unlock()

	if stalePC != nil {
		if err := stalePC.Close(); err != nil {
			b.logger.Warnw("stale peer connection close failed", "error", err)
		}
	}
	if staleSignaling != nil {
		staleSignaling.close() //nolint:errcheck
	}
	return nil
}

func (b *Backend) abortStart(pc *webrtc.PeerConnection, signaling *signalingClient, err error) error {
	pc.Close()        //nolint:errcheck
	signaling.close() //nolint:errcheck
	return err
}

// readReceiverReports drains the sender's RTCP stream and folds remote
// receiver reports into the metrics snapshot.
func (b *Backend) readReceiverReports(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			b.logger.Debugw("malformed rtcp packet", "error", err)
			continue
		}

		for _, pkt := range packets {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, report := range rr.Reports {
				b.mu.Lock()
				b.fractionLost = float64(report.FractionLost) / 256 * 100
				b.packetsLost = int(report.TotalLost)
				// RFC 3550 jitter is in timestamp units; 90 kHz video clock.
				b.jitterMs = float64(report.Jitter) / 90
				b.mu.Unlock()
			}
		}
	}
}

// WriteVideoRTP forwards an encoded video packet to the published track.
// Packets written while paused are dropped and counted.
func (b *Backend) WriteVideoRTP(pkt *rtp.Packet) error {
	b.mu.Lock()
	track := b.videoTrack
	paused := b.paused
	b.mu.Unlock()

	if track == nil {
		return domain.ErrNoActiveSession
	}
	if paused {
		b.mu.Lock()
		b.droppedFrames++
		b.mu.Unlock()
		return nil
	}
	return track.WriteRTP(pkt)
}

// WriteAudioRTP forwards an encoded audio packet to the published track.
func (b *Backend) WriteAudioRTP(pkt *rtp.Packet) error {
	b.mu.Lock()
	track := b.audioTrack
	paused := b.paused
	b.mu.Unlock()

	if track == nil {
		return domain.ErrNoActiveSession
	}
	if paused {
		return nil
	}
	return track.WriteRTP(pkt)
}

// Stop closes the peer connection, the signaling channel and the event
// stream. Idempotent.
func (b *Backend) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.active = false
	pc := b.pc
	signaling := b.signaling
	b.pc = nil
	b.signaling = nil
	b.audioTrack = nil
	b.videoTrack = nil
	b.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			b.logger.Warnw("peer connection close failed", "error", err)
		}
	}
	if signaling != nil {
		signaling.close() //nolint:errcheck
	}
	close(b.events)
	return nil
}

func (b *Backend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return domain.ErrNoActiveSession
	}
	b.paused = true
	return nil
}

func (b *Backend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return domain.ErrNoActiveSession
	}
	b.paused = false
	return nil
}

// SetBitrate applies a live target change as an in-place encoder
// parameter update; the peer connection is not renegotiated.
func (b *Backend) SetBitrate(kbps int) error {
	if kbps <= 0 {
		return fmt.Errorf("bitrate must be > 0, got %d", kbps)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings.VideoBitrateKbps = kbps
	return nil
}

func (b *Backend) Metrics() domain.StreamMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := domain.StreamMetrics{
		DroppedFrames: b.droppedFrames + b.packetsLost,
		Quality:       domain.QualityPoor,
		Timestamp:     time.Now(),
	}
	if b.active {
		m.BitrateKbps = b.settings.VideoBitrateKbps
		m.FPS = b.settings.FrameRate
		m.Uptime = time.Since(b.connectedAt)
		m.Quality = qualityFromLoss(b.fractionLost)
	}
	return m
}

func qualityFromLoss(lossPercent float64) domain.ConnectionQuality {
	switch {
	case lossPercent <= 0.5:
		return domain.QualityExcellent
	case lossPercent <= 1.0:
		return domain.QualityGood
	case lossPercent <= 2.0:
		return domain.QualityFair
	default:
		return domain.QualityPoor
	}
}

func (b *Backend) IsActive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Backend) Events() <-chan ports.BackendEvent {
	return b.events
}

func (b *Backend) emit(ev ports.BackendEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- ev:
	default:
		b.logger.Warnw("dropping backend event, consumer too slow", "type", ev.Type)
	}
}
