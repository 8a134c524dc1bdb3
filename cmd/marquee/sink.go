package main

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// logSink counts rendered media and logs captions; it stands in for a
// real output device.
type logSink struct {
	log    *slog.Logger
	frames atomic.Int64
	blocks atomic.Int64
	bytes  atomic.Int64
	cues   atomic.Int64
}

func newLogSink(log *slog.Logger) *logSink {
	return &logSink{log: log.With("component", "sink")}
}

func (s *logSink) OnVideoFrame(buf []byte, width, height, _ int, pts time.Duration) {
	if n := s.frames.Add(1); n == 1 {
		s.log.Info("first video frame", "width", width, "height", height, "pts", pts)
	}
	s.bytes.Add(int64(len(buf)))
}

func (s *logSink) OnAudioBlock(_ []byte, byteLength int, pts time.Duration) {
	if n := s.blocks.Add(1); n == 1 {
		s.log.Info("first audio block", "pts", pts)
	}
	s.bytes.Add(int64(byteLength))
}

func (s *logSink) OnSubtitleCue(text string, pts, duration time.Duration) {
	s.cues.Add(1)
	s.log.Info("caption", "text", text, "pts", pts, "duration", duration)
}

func (s *logSink) OnVolume(volume, balance float64, muted bool) {
	s.log.Debug("volume", "volume", volume, "balance", balance, "muted", muted)
}
