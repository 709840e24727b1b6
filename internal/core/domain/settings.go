package domain

// StreamSettings are the effective encoding settings for a session.
// Derived once at start from the requested settings plus hardware and
// network optimization; mutated in place only by the adaptive-bitrate step.
type StreamSettings struct {
	Width            int
	Height           int
	FrameRate        int
	VideoBitrateKbps int
	AudioBitrateKbps int
	Encoder          string
	Preset           string
	Profile          string
	Level            string
	HardwareAccel    bool
	AdaptiveBitrate  bool
}

// EncoderSettings is the recommendation returned by the hardware
// capability provider for its best available encoder.
type EncoderSettings struct {
	Encoder string
	Preset  string
	Profile string
	Level   string
}

// DefaultStreamSettings returns 1080p30 software-encoder settings.
func DefaultStreamSettings() StreamSettings {
	return StreamSettings{
		Width:            1920,
		Height:           1080,
		FrameRate:        30,
		VideoBitrateKbps: 4500,
		AudioBitrateKbps: 160,
		Encoder:          "x264",
		Preset:           "veryfast",
		Profile:          "high",
		Level:            "4.1",
	}
}
