package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateDecoder(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateEngine() error {
	e := c.Engine
	if e.LowWater <= 0 || e.HighWater <= 0 {
		return errors.New("engine.low_water and engine.high_water must be positive")
	}
	if e.HighWater < e.LowWater {
		return fmt.Errorf("engine.high_water (%s) must not be below engine.low_water (%s)", e.HighWater.D(), e.LowWater.D())
	}
	if e.PrimeThreshold < 0 {
		return errors.New("engine.prime_threshold must not be negative")
	}
	if e.VideoBufferCapacity.D() < e.HighWater.D() || e.AudioBufferCapacity.D() < e.HighWater.D() {
		return errors.New("engine buffer capacities must hold at least engine.high_water")
	}
	if e.MaxConsecutiveErrors < 1 {
		return errors.New("engine.max_consecutive_errors must be at least 1")
	}
	if e.MaxReadRetries < 0 {
		return errors.New("engine.max_read_retries must not be negative")
	}
	if e.StallRetryInitial <= 0 || e.StallRetryMax < e.StallRetryInitial {
		return errors.New("engine.stall_retry_initial must be positive and not exceed engine.stall_retry_max")
	}
	if e.RenderInterval <= 0 || e.PositionInterval <= 0 {
		return errors.New("engine.render_interval and engine.position_interval must be positive")
	}
	for name, v := range map[string]string{"loaded_behavior": e.LoadedBehavior, "looping_behavior": e.LoopingBehavior} {
		if v != BehaviorPlay && v != BehaviorPause {
			return fmt.Errorf("engine.%s must be %q or %q, got %q", name, BehaviorPlay, BehaviorPause, v)
		}
	}
	return nil
}

func (c *Config) validateDecoder() error {
	ch := c.Decoder.CaptionChannel
	if ch < 1 || ch > 12 || ch == 5 || ch == 6 {
		return fmt.Errorf("decoder.caption_channel must be 1-4 (CEA-608) or 7-12 (CEA-708), got %d", ch)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format must be auto, text or json, got %q", c.Logging.Format)
	}
	return nil
}
