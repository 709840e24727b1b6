package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kwikcast/internal/core/domain"
	"kwikcast/internal/core/ports"
	"kwikcast/internal/core/services"
	"kwikcast/internal/events"
	httphandlers "kwikcast/internal/handlers/http"
	"kwikcast/internal/infrastructure/distributed"
	"kwikcast/internal/infrastructure/hardware"
	"kwikcast/internal/infrastructure/middleware"
	"kwikcast/internal/infrastructure/monitoring"
	"kwikcast/internal/infrastructure/probes"
	rtmptransport "kwikcast/internal/infrastructure/transport/rtmp"
	webrtctransport "kwikcast/internal/infrastructure/transport/webrtc"
	"kwikcast/pkg/config"
	"kwikcast/pkg/logger"
	"kwikcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	pionwebrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "kwikcast",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: os.Getenv("KWIKCAST_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// In-process event bus wiring the orchestrator to its observers
	bus := events.NewBus()

	// Network monitoring
	prober := probes.NewHTTPProber(probes.Config{
		BandwidthEndpoint: cfg.Network.BandwidthEndpoint,
		LatencyHost:       cfg.Network.LatencyHost,
		PayloadBytes:      cfg.Network.ProbePayloadBytes,
	}, log)
	monitor := services.NewNetworkMonitor(prober, bus, log)
	monitor.SetInterval(cfg.Network.ProbeInterval)

	// Hardware encoder detection
	hardwareProvider := hardware.NewProvider(log)

	// WebRTC configuration (including STUN/TURN from config)
	var iceServers []pionwebrtc.ICEServer
	if len(cfg.WebRTC.ICEServers) > 0 {
		for _, s := range cfg.WebRTC.ICEServers {
			iceServers = append(iceServers, pionwebrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	} else {
		// Fallback STUN server if not configured
		iceServers = []pionwebrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	factory := func(proto domain.StreamProtocol) (ports.TransportBackend, error) {
		switch proto {
		case domain.ProtocolRTMP:
			return rtmptransport.NewBackend(log), nil
		case domain.ProtocolWebRTC:
			return webrtctransport.NewBackend(webrtctransport.Config{ICEServers: iceServers}, log), nil
		default:
			return nil, fmt.Errorf("unsupported protocol %q: %w", proto, domain.ErrInvalidConfig)
		}
	}

	// Collaborators
	scenes := services.NewSceneManager()
	audio := services.NewAudioMixer()

	// Session orchestrator
	manager := services.NewStreamManager(bus, monitor, hardwareProvider, factory, scenes, audio, log)
	manager.SetReconnectPolicy(cfg.Stream.ReconnectAttempts, cfg.Stream.ReconnectBaseDelay)

	// Prometheus collector observes the bus
	collector := monitoring.NewPrometheusCollector()
	collector.Attach(bus)

	// Health checks for the process and its optional dependencies
	health := monitoring.NewHealthChecker()
	health.AddCheck("session", func(ctx context.Context) error {
		if manager.State() == domain.StateFailed {
			return fmt.Errorf("session failed after exhausting reconnect attempts")
		}
		return nil
	})

	// Optional Redis event mirroring for external dashboards
	var redisPublisher *distributed.RedisPublisher
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Warnw("redis unavailable, event mirroring disabled", "error", err)
			redisClient.Close()
		} else {
			redisPublisher = distributed.NewRedisPublisher(redisClient, log)
			redisPublisher.Attach(bus)
			health.AddCheck("redis", func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			})
			defer redisClient.Close()
		}
		pingCancel()
	}

	// HTTP handlers
	streamHandler := httphandlers.NewStreamHandler(manager, monitor)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	// Session control routes behind the shared API secret
	api := router.Group("/")
	api.Use(middleware.AuthMiddleware(cfg.Auth.APISecret))
	streamHandler.SetupRoutes(api)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := 200
		if status.Status != "healthy" {
			code = 503
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"timestamp": status.Timestamp,
			"uptime":    time.Since(startTime).String(),
			"state":     manager.State().String(),
			"checks":    status.Checks,
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting kwikcast server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down kwikcast server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown HTTP server gracefully
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	// Stop any live session and release the bus subscription
	manager.Destroy()
	collector.Detach()
	if redisPublisher != nil {
		redisPublisher.Detach()
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("kwikcast server stopped")
}
