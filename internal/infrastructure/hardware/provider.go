package hardware

import (
	"os"
	"runtime"
	"sync"

	"kwikcast/internal/core/domain"

	"go.uber.org/zap"
)

// encoderProfiles are the recommended settings per encoder, best first.
var encoderProfiles = map[string]domain.EncoderSettings{
	"nvenc": {Encoder: "nvenc", Preset: "p5", Profile: "high", Level: "4.2"},
	"qsv":   {Encoder: "qsv", Preset: "balanced", Profile: "high", Level: "4.2"},
	"vaapi": {Encoder: "vaapi", Preset: "medium", Profile: "main", Level: "4.1"},
	"videotoolbox": {
		Encoder: "videotoolbox", Preset: "default", Profile: "high", Level: "4.2",
	},
	"x264": {Encoder: "x264", Preset: "veryfast", Profile: "high", Level: "4.1"},
}

// Provider detects the best locally available hardware encoder once and
// caches the result. It is constructed and injected explicitly; there is
// no package-level singleton.
type Provider struct {
	logger *zap.SugaredLogger

	once sync.Once
	best string
}

func NewProvider(logger *zap.SugaredLogger) *Provider {
	return &Provider{logger: logger}
}

// BestEncoder returns the best available encoder identifier.
func (p *Provider) BestEncoder() string {
	p.once.Do(p.detect)
	return p.best
}

// RecommendedSettings returns the preset/profile/level recommendation
// for the best available encoder.
func (p *Provider) RecommendedSettings() domain.EncoderSettings {
	p.once.Do(p.detect)
	return encoderProfiles[p.best]
}

func (p *Provider) detect() {
	p.best = detectEncoder()
	p.logger.Infow("hardware encoder detected", "encoder", p.best, "os", runtime.GOOS)
}

// detectEncoder probes for device nodes and driver hints. Detection is
// cheap and conservative: anything ambiguous falls back to software x264.
func detectEncoder() string {
	switch runtime.GOOS {
	case "darwin":
		return "videotoolbox"
	case "linux":
		if fileExists("/dev/nvidia0") || fileExists("/dev/nvidiactl") {
			return "nvenc"
		}
		if fileExists("/dev/dri/renderD128") {
			if os.Getenv("LIBVA_DRIVER_NAME") == "iHD" {
				return "qsv"
			}
			return "vaapi"
		}
	case "windows":
		if os.Getenv("CUDA_PATH") != "" {
			return "nvenc"
		}
	}
	return "x264"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
