package http

import (
	"context"
	"net/http"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/core/services"

	"github.com/gin-gonic/gin"
)

const startTimeout = 30 * time.Second

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

// StreamHandler exposes the session orchestrator over HTTP for the
// application shell.
type StreamHandler struct {
	manager *services.StreamManager
	monitor *services.NetworkMonitor
}

func NewStreamHandler(manager *services.StreamManager, monitor *services.NetworkMonitor) *StreamHandler {
	return &StreamHandler{manager: manager, monitor: monitor}
}

func (h *StreamHandler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.POST("/stream/rtmp", h.StartRTMP)
		api.POST("/stream/webrtc", h.StartWebRTC)
		api.POST("/stream/stop", h.StopStream)
		api.POST("/stream/pause", h.PauseStream)
		api.POST("/stream/resume", h.ResumeStream)
		api.GET("/stream/status", h.Status)
		api.GET("/stream/metrics", h.Metrics)
		api.GET("/network", h.NetworkStats)

		api.POST("/scenes", h.AddScene)
		api.GET("/scenes", h.ListScenes)
		api.PUT("/scenes/:id", h.UpdateScene)
		api.POST("/scenes/:id/activate", h.ActivateScene)
		api.DELETE("/scenes/:id", h.RemoveScene)

		api.POST("/audio/channels", h.AddAudioChannel)
		api.GET("/audio/channels", h.ListAudioChannels)
		api.PUT("/audio/channels/:id", h.UpdateAudioChannel)
		api.DELETE("/audio/channels/:id", h.RemoveAudioChannel)
	}
}

type startRequest struct {
	Platform     string `json:"platform" binding:"required"`
	IngestURL    string `json:"ingest_url"`
	StreamKey    string `json:"stream_key"`
	SignalingURL string `json:"signaling_url"`

	Width            int    `json:"width"`
	Height           int    `json:"height"`
	FrameRate        int    `json:"frame_rate"`
	VideoBitrateKbps int    `json:"video_bitrate_kbps"`
	AudioBitrateKbps int    `json:"audio_bitrate_kbps"`
	Encoder          string `json:"encoder"`
	HardwareAccel    bool   `json:"hardware_accel"`
	AdaptiveBitrate  bool   `json:"adaptive_bitrate"`
}

func (r *startRequest) config() domain.StreamConfig {
	return domain.StreamConfig{
		Platform:     r.Platform,
		IngestURL:    r.IngestURL,
		StreamKey:    r.StreamKey,
		SignalingURL: r.SignalingURL,
	}
}

func (r *startRequest) settings() domain.StreamSettings {
	s := domain.DefaultStreamSettings()
	if r.Width > 0 {
		s.Width = r.Width
	}
	if r.Height > 0 {
		s.Height = r.Height
	}
	if r.FrameRate > 0 {
		s.FrameRate = r.FrameRate
	}
	if r.VideoBitrateKbps > 0 {
		s.VideoBitrateKbps = r.VideoBitrateKbps
	}
	if r.AudioBitrateKbps > 0 {
		s.AudioBitrateKbps = r.AudioBitrateKbps
	}
	if r.Encoder != "" {
		s.Encoder = r.Encoder
	}
	s.HardwareAccel = r.HardwareAccel
	s.AdaptiveBitrate = r.AdaptiveBitrate
	return s
}

func (h *StreamHandler) StartRTMP(c *gin.Context) {
	var req startRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := contextWithTimeout(c, startTimeout)
	defer cancel()

	if err := h.manager.StartRTMP(ctx, req.config(), req.settings()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	h.respondStatus(c, http.StatusCreated)
}

func (h *StreamHandler) StartWebRTC(c *gin.Context) {
	var req startRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := contextWithTimeout(c, startTimeout)
	defer cancel()

	if err := h.manager.StartWebRTC(ctx, req.config(), req.settings()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	h.respondStatus(c, http.StatusCreated)
}

func (h *StreamHandler) StopStream(c *gin.Context) {
	if err := h.manager.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.respondStatus(c, http.StatusOK)
}

func (h *StreamHandler) PauseStream(c *gin.Context) {
	if err := h.manager.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.respondStatus(c, http.StatusOK)
}

func (h *StreamHandler) ResumeStream(c *gin.Context) {
	if err := h.manager.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.respondStatus(c, http.StatusOK)
}

func (h *StreamHandler) Status(c *gin.Context) {
	h.respondStatus(c, http.StatusOK)
}

func (h *StreamHandler) respondStatus(c *gin.Context, code int) {
	body := gin.H{
		"state":     h.manager.State().String(),
		"streaming": h.manager.IsStreaming(),
	}
	if session, ok := h.manager.Session(); ok {
		body["session_id"] = session.ID
		body["protocol"] = session.Protocol
		body["platform"] = session.Config.Platform
		body["reconnect_attempts"] = session.ReconnectAttempts
	}
	c.JSON(code, body)
}

func (h *StreamHandler) Metrics(c *gin.Context) {
	m := h.manager.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"bitrate_kbps":   m.BitrateKbps,
		"fps":            m.FPS,
		"dropped_frames": m.DroppedFrames,
		"quality":        m.Quality.String(),
		"uptime_seconds": int(m.Uptime.Seconds()),
	})
}

func (h *StreamHandler) NetworkStats(c *gin.Context) {
	body := gin.H{
		"quality":             h.monitor.Quality().String(),
		"recommended_bitrate": h.monitor.RecommendedBitrate(),
		"monitoring":          h.monitor.IsRunning(),
	}
	if sample, ok := h.monitor.Sample(); ok {
		body["download_mbps"] = sample.DownloadMbps
		body["upload_mbps"] = sample.UploadMbps
		body["latency_ms"] = sample.Latency.Milliseconds()
		body["jitter_ms"] = sample.Jitter.Milliseconds()
		body["packet_loss_percent"] = sample.PacketLossPercent
		body["sampled_at"] = sample.SampledAt
	}
	c.JSON(http.StatusOK, body)
}

func (h *StreamHandler) AddScene(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required,min=1,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.manager.Scenes().AddScene(req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *StreamHandler) ListScenes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenes": h.manager.Scenes().Scenes()})
}

func (h *StreamHandler) UpdateScene(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required,min=1,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.manager.Scenes().UpdateScene(c.Param("id"), req.Name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) ActivateScene(c *gin.Context) {
	if err := h.manager.Scenes().SetActive(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) RemoveScene(c *gin.Context) {
	if err := h.manager.Scenes().RemoveScene(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) AddAudioChannel(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required,min=1,max=100"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.manager.Audio().AddChannel(req.Name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *StreamHandler) ListAudioChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.manager.Audio().Channels()})
}

func (h *StreamHandler) UpdateAudioChannel(c *gin.Context) {
	var req struct {
		Volume *float64 `json:"volume"`
		Muted  *bool    `json:"muted"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.Param("id")
	if req.Volume != nil {
		if err := h.manager.Audio().SetVolume(id, *req.Volume); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Muted != nil {
		if err := h.manager.Audio().SetMuted(id, *req.Muted); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *StreamHandler) RemoveAudioChannel(c *gin.Context) {
	if err := h.manager.Audio().RemoveChannel(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
