package config

import "time"

const (
	defaultCachePath  = "~/.cache/marquee/index.db"
	defaultLogLevel   = "info"
	defaultLogFormat  = "auto"
	defaultUserAgent  = "marquee/dev"
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 3
	defaultMaxAgeDays = 14
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine: Engine{
			LowWater:               Duration(500 * time.Millisecond),
			HighWater:              Duration(1500 * time.Millisecond),
			PrimeThreshold:         Duration(200 * time.Millisecond),
			VideoBufferCapacity:    Duration(2 * time.Second),
			AudioBufferCapacity:    Duration(2 * time.Second),
			SubtitleBufferCapacity: Duration(30 * time.Second),
			VideoReorderDepth:      4,
			MaxConsecutiveErrors:   10,
			StallRetryInitial:      Duration(100 * time.Millisecond),
			StallRetryMax:          Duration(5 * time.Second),
			MaxReadRetries:         8,
			RenderInterval:         Duration(5 * time.Millisecond),
			PositionInterval:       Duration(250 * time.Millisecond),
			AudioDriftSamples:      1024,
			LoadedBehavior:         BehaviorPause,
			LoopingBehavior:        BehaviorPause,
		},
		Decoder: Decoder{
			CaptionChannel: 1,
			CueDuration:    Duration(4 * time.Second),
		},
		Network: Network{
			Timeout:      Duration(10 * time.Second),
			StallTimeout: Duration(5 * time.Second),
			UserAgent:    defaultUserAgent,
			SRTLatency:   Duration(120 * time.Millisecond),
		},
		Cache: Cache{
			Enabled: true,
			Path:    defaultCachePath,
		},
		Logging: Logging{
			Level:      defaultLogLevel,
			Format:     defaultLogFormat,
			MaxSizeMB:  defaultMaxSizeMB,
			MaxBackups: defaultMaxBackups,
			MaxAgeDays: defaultMaxAgeDays,
		},
	}
}
