package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/marquee/internal/clock"
	"github.com/zsiec/marquee/internal/component"
	"github.com/zsiec/marquee/internal/config"
	"github.com/zsiec/marquee/internal/container"
	"github.com/zsiec/marquee/internal/decoder"
	"github.com/zsiec/marquee/internal/media"
)

const noCursor = time.Duration(math.MinInt64)

type noticeKind int

const (
	noticeBufferingStart noticeKind = iota
	noticeBufferingEnd
)

// notice is sent by the loops to the command goroutine, which owns state
// transitions.
type notice struct {
	run  *run
	kind noticeKind
}

type counters struct {
	packetsRead    atomic.Int64
	blocksRendered atomic.Int64
	blocksDropped  atomic.Int64
	readRetries    atomic.Int64
	seeks          atomic.Int64
}

// run is one start-to-stop cycle of a session's loops. Seek and
// ChangeMedia stop the current run and start a new one.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	primed    chan struct{}
	ended     chan struct{}
	failed    chan struct{}
	primeOnce sync.Once
	endOnce   sync.Once
	failOnce  sync.Once
	err       error

	eof     atomic.Bool
	drained []atomic.Bool

	// endHandled is only touched by the command goroutine.
	endHandled bool
}

func (r *run) fail(err error) {
	r.failOnce.Do(func() {
		r.err = err
		close(r.failed)
	})
}

func (r *run) guard(err error) error {
	if err != nil {
		r.fail(err)
	}
	return err
}

// session is one open source with its components and clock.
type session struct {
	id       string
	source   string
	log      *slog.Logger
	cfg      config.Engine
	decCfg   config.Decoder
	opts     container.Options
	cont     *container.Container
	clock    *clock.Clock
	registry *decoder.Registry
	sink     RenderSink
	stats    *counters
	now      func() time.Time

	comps     []*component.Component
	tolerance []time.Duration
	master    *component.Component

	// state reads the engine snapshot; onPosition and setProgress write
	// to it from the render loop.
	state       func() *State
	onPosition  func(pos time.Duration, download float64)
	setProgress func(p float64)
	notices     chan<- notice

	indexKey    string
	indexLoaded bool

	cur     *run
	readPos atomic.Int64
	resync  atomic.Bool
	scrub   atomic.Bool
}

func (s *session) newComponent(desc media.StreamDescriptor) (*component.Component, error) {
	captionChannel := s.opts.CaptionChannel
	if captionChannel == 0 {
		captionChannel = s.decCfg.CaptionChannel
	}
	dec, err := s.registry.New(desc, decoder.Options{
		PreferHardware: s.opts.PreferHardware || s.decCfg.PreferHardware,
		CaptionChannel: captionChannel,
		CueDuration:    s.decCfg.CueDuration.D(),
		Log:            s.log,
	})
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", desc, err)
	}
	cfg := component.DefaultConfig(desc.Type)
	switch desc.Type {
	case media.Video:
		cfg.BufferCapacity = s.cfg.VideoBufferCapacity.D()
		cfg.ReorderDepth = s.cfg.VideoReorderDepth
	case media.Audio:
		cfg.BufferCapacity = s.cfg.AudioBufferCapacity.D()
	case media.Subtitle:
		cfg.BufferCapacity = s.cfg.SubtitleBufferCapacity.D()
	}
	cfg.MaxConsecutiveErrors = s.cfg.MaxConsecutiveErrors
	cfg.Log = s.log
	return component.New(desc, dec, cfg), nil
}

// setComponents installs comps, ordered by stream index, and picks the
// master.
func (s *session) setComponents(comps []*component.Component) {
	s.comps = comps
	s.tolerance = make([]time.Duration, len(comps))
	descs := make([]media.StreamDescriptor, len(comps))
	for i, c := range comps {
		descs[i] = c.Descriptor()
		s.tolerance[i] = clock.Tolerance(descs[i], s.cfg.AudioDriftSamples)
	}
	s.master = nil
	if t := clock.SelectMaster(descs); t != media.None {
		for _, c := range comps {
			if c.Type() == t {
				s.master = c
				break
			}
		}
	}
}

func (s *session) componentFor(streamIndex int) *component.Component {
	for _, c := range s.comps {
		if c.Descriptor().Index == streamIndex {
			return c
		}
	}
	return nil
}

func (s *session) componentOf(t media.Type) *component.Component {
	for _, c := range s.comps {
		if c.Type() == t {
			return c
		}
	}
	return nil
}

// frameDuration is the step size: one master video frame, else 40ms.
func (s *session) frameDuration() time.Duration {
	if v := s.componentOf(media.Video); v != nil {
		if d := v.Descriptor().FrameDuration(); d > 0 {
			return d
		}
	}
	return 40 * time.Millisecond
}

func (s *session) tick() time.Duration {
	return max(s.cfg.RenderInterval.D(), time.Millisecond)
}

// fillLimit is how far ahead of the clock a decode loop fills its buffer.
// It stays below the capacity so eviction only drops rendered blocks.
func fillLimit(c *component.Component) time.Duration {
	return c.Buffer().Capacity() * 3 / 4
}

// start launches the read, decode and render loops.
func (s *session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	r := &run{
		ctx:     gctx,
		cancel:  cancel,
		g:       g,
		primed:  make(chan struct{}),
		ended:   make(chan struct{}),
		failed:  make(chan struct{}),
		drained: make([]atomic.Bool, len(s.comps)),
	}
	s.cur = r
	g.Go(func() error { return r.guard(s.readLoop(r)) })
	for i, c := range s.comps {
		g.Go(func() error { return r.guard(s.decodeLoop(r, i, c)) })
	}
	g.Go(func() error { return r.guard(s.renderLoop(r)) })
}

// stop cancels the loops and waits for all of them to exit. The returned
// error is the first loop failure, if any.
func (s *session) stop() error {
	r := s.cur
	if r == nil {
		return nil
	}
	s.cur = nil
	r.cancel()
	return r.g.Wait()
}

// flush empties every queue, decoder and buffer.
func (s *session) flush() {
	for _, c := range s.comps {
		c.Flush()
		c.Buffer().Clear()
	}
	s.resync.Store(true)
}

// awaitPrimed waits until the render loop reports the master buffer primed.
func (s *session) awaitPrimed(ctx context.Context) error {
	r := s.cur
	select {
	case <-r.primed:
		return nil
	case <-r.failed:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *session) close() error {
	err := s.stop()
	for _, c := range s.comps {
		c.Buffer().Clear()
		_ = c.Close()
	}
	if cerr := s.cont.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *session) snapshotStats() Stats {
	st := Stats{
		PacketsRead:    s.stats.packetsRead.Load(),
		BlocksRendered: s.stats.blocksRendered.Load(),
		BlocksDropped:  s.stats.blocksDropped.Load(),
		ReadRetries:    s.stats.readRetries.Load(),
		Seeks:          s.stats.seeks.Load(),
	}
	for _, c := range s.comps {
		cs := c.Stats()
		st.BlocksDecoded += cs.BlocksDecoded
		st.DecodeErrors += cs.DecodeErrors
	}
	return st
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *session) readLoop(r *run) error {
	backoff := s.cfg.StallRetryInitial.D()
	retries := 0
	for {
		if r.ctx.Err() != nil {
			return nil
		}
		p, err := s.cont.Read(r.ctx)
		if r.ctx.Err() != nil {
			return nil
		}
		switch {
		case errors.Is(err, io.EOF):
			r.eof.Store(true)
			for _, c := range s.comps {
				c.EndOfStream()
			}
			s.log.Debug("end of stream")
			return nil
		case container.IsTransient(err):
			retries++
			s.stats.readRetries.Add(1)
			if retries > s.cfg.MaxReadRetries {
				return fmt.Errorf("read: giving up after %d attempts: %w", retries, err)
			}
			s.log.Warn("read failed, retrying", "attempt", retries, "backoff", backoff, "error", err)
			if !sleepCtx(r.ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, s.cfg.StallRetryMax.D())
			continue
		case err != nil:
			return fmt.Errorf("read: %w", err)
		}
		retries, backoff = 0, s.cfg.StallRetryInitial.D()

		c := s.componentFor(p.StreamIndex)
		if c == nil {
			continue
		}
		if p.Pos >= 0 {
			s.readPos.Store(p.Pos)
		}
		if err := c.EnqueuePacket(r.ctx, p); err != nil {
			return nil
		}
		s.stats.packetsRead.Add(1)
	}
}

func (s *session) decodeLoop(r *run, i int, c *component.Component) error {
	for {
		if r.ctx.Err() != nil {
			return nil
		}
		if c.Buffer().Ahead(s.clock.Position()) >= fillLimit(c) {
			if !sleepCtx(r.ctx, s.tick()) {
				return nil
			}
			continue
		}
		_, err := c.DecodeNext(r.ctx)
		if r.ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, io.EOF) {
			r.drained[i].Store(true)
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", c.Descriptor(), err)
		}
	}
}

// renderState is owned by the render loop.
type renderState struct {
	cursors      []time.Duration
	starved      []time.Time
	lastEmit     time.Time
	lastPos      time.Duration
	startAsked   bool
	endAsked     bool
	lastProgress float64
}

func (s *session) renderLoop(r *run) error {
	rs := &renderState{
		cursors:  make([]time.Duration, len(s.comps)),
		starved:  make([]time.Time, len(s.comps)),
		lastPos:  s.clock.Position(),
		lastEmit: s.now(),
	}
	for i := range rs.cursors {
		rs.cursors[i] = noCursor
	}
	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return nil
		case <-ticker.C:
		}
		s.renderTick(r, rs)
	}
}

func (s *session) renderTick(r *run, rs *renderState) {
	if s.resync.CompareAndSwap(true, false) {
		for i := range rs.cursors {
			rs.cursors[i] = noCursor
		}
		rs.lastPos = s.clock.Position()
	}
	pos := s.clock.Position()
	if s.primedAt(r, pos) {
		r.primeOnce.Do(func() { close(r.primed) })
	}

	if !s.clock.Running() {
		if s.scrub.Load() && s.scrubFrame(rs, pos) {
			s.scrub.Store(false)
		}
		rs.startAsked = false
		s.checkBufferingEnd(r, rs, pos)
		return
	}
	rs.endAsked = false
	for i, c := range s.comps {
		s.renderComponent(i, c, rs, pos)
	}
	s.checkStarvation(r, rs, s.clock.Position())
	s.emitPosition(rs)
	s.checkEnded(r, rs, s.clock.Position())
}

func (s *session) renderComponent(i int, c *component.Component, rs *renderState, pos time.Duration) {
	tol := s.tolerance[i]
	for {
		blk, ok := c.Buffer().Next(rs.cursors[i])
		if !ok {
			return
		}
		action := s.clock.Decide(blk, tol)
		if c == s.master && action == clock.Render && blk.Start > pos {
			action = clock.Wait
		}
		switch action {
		case clock.Wait:
			return
		case clock.Skip:
			rs.cursors[i] = blk.Start
			s.stats.blocksDropped.Add(1)
			continue
		}
		rs.cursors[i] = blk.Start
		s.render(blk)
		if c == s.master {
			s.clock.Sync(blk.Start, tol)
		}
		if c.Type() == media.Video {
			return
		}
	}
}

func (s *session) render(blk *media.Block) {
	switch blk.Type {
	case media.Video:
		s.sink.OnVideoFrame(blk.Data, blk.Width, blk.Height, blk.Stride, blk.Start)
	case media.Audio:
		s.sink.OnAudioBlock(blk.Data, len(blk.Data), blk.Start)
	case media.Subtitle:
		s.sink.OnSubtitleCue(blk.Text, blk.Start, blk.Duration)
	}
	s.stats.blocksRendered.Add(1)
}

// scrubFrame renders the video frame at pos while paused. It reports false
// when the frame is not decoded yet.
func (s *session) scrubFrame(rs *renderState, pos time.Duration) bool {
	for i, c := range s.comps {
		if c.Type() != media.Video {
			continue
		}
		blk, ok := c.Buffer().At(pos)
		if !ok {
			return false
		}
		rs.cursors[i] = blk.Start
		s.render(blk)
		return true
	}
	return true
}

// primedAt reports whether the master has PrimeThreshold of media decoded
// past pos, or has nothing more to decode.
func (s *session) primedAt(r *run, pos time.Duration) bool {
	for i, c := range s.comps {
		if s.master != nil && c != s.master {
			continue
		}
		if c.Type() == media.Subtitle || r.drained[i].Load() {
			continue
		}
		if c.Buffer().Ahead(pos) < min(s.cfg.PrimeThreshold.D(), fillLimit(c)) {
			return false
		}
	}
	return true
}

// checkStarvation asks for Buffering when the master runs low with nothing
// queued, or any component has had nothing to play for LowWater.
func (s *session) checkStarvation(r *run, rs *renderState, pos time.Duration) {
	if r.eof.Load() || s.state().Playback != media.StatePlaying {
		rs.startAsked = false
		return
	}
	low := s.cfg.LowWater.D()
	now := s.now()
	starving := false
	for i, c := range s.comps {
		if c.Type() == media.Subtitle || r.drained[i].Load() {
			rs.starved[i] = time.Time{}
			continue
		}
		ahead := c.Buffer().Ahead(pos)
		if ahead > 0 {
			rs.starved[i] = time.Time{}
		} else {
			if rs.starved[i].IsZero() {
				rs.starved[i] = now
			}
			if now.Sub(rs.starved[i]) >= low {
				starving = true
			}
		}
		if c == s.master && ahead < low && c.Queued() == 0 {
			starving = true
		}
	}
	if starving && !rs.startAsked {
		rs.startAsked = true
		s.notify(r, noticeBufferingStart)
	}
}

func (s *session) checkBufferingEnd(r *run, rs *renderState, pos time.Duration) {
	if s.state().Playback != media.StateBuffering {
		rs.endAsked = false
		return
	}
	high := s.cfg.HighWater.D()
	ready := true
	progress := 1.0
	if !r.eof.Load() {
		for i, c := range s.comps {
			if c.Type() == media.Subtitle || r.drained[i].Load() {
				continue
			}
			want := min(high, fillLimit(c))
			ahead := c.Buffer().Ahead(pos)
			if ahead < want {
				ready = false
			}
			if want > 0 {
				progress = min(progress, float64(ahead)/float64(want))
			}
		}
	}
	if progress-rs.lastProgress >= 0.05 || progress < rs.lastProgress {
		rs.lastProgress = progress
		s.setProgress(progress)
	}
	if ready && !rs.endAsked {
		rs.endAsked = true
		s.notify(r, noticeBufferingEnd)
	}
}

func (s *session) notify(r *run, kind noticeKind) {
	select {
	case s.notices <- notice{run: r, kind: kind}:
	case <-r.ctx.Done():
	}
}

func (s *session) emitPosition(rs *renderState) {
	now := s.now()
	if now.Sub(rs.lastEmit) < s.cfg.PositionInterval.D() {
		return
	}
	pos := s.clampPosition(s.clock.Position())
	if pos <= rs.lastPos {
		return
	}
	rs.lastEmit, rs.lastPos = now, pos
	s.onPosition(pos, s.downloadProgress())
}

func (s *session) clampPosition(pos time.Duration) time.Duration {
	if d := s.cont.Info().Duration; d > 0 {
		pos = min(pos, d)
	}
	return max(pos, 0)
}

func (s *session) downloadProgress() float64 {
	size := s.cont.Info().Size
	if size <= 0 {
		return 0
	}
	return min(float64(s.readPos.Load())/float64(size), 1)
}

// checkEnded reports the end of media once every packet was decoded and
// rendered and the clock reached the last block's end.
func (s *session) checkEnded(r *run, rs *renderState, pos time.Duration) {
	if !r.eof.Load() {
		return
	}
	var end time.Duration
	for i, c := range s.comps {
		if !r.drained[i].Load() {
			return
		}
		if c.Type() == media.Subtitle {
			continue
		}
		if _, ok := c.Buffer().Next(rs.cursors[i]); ok {
			return
		}
		if e, ok := c.Buffer().RangeEnd(); ok {
			end = max(end, e)
		}
	}
	if pos < end {
		return
	}
	r.endOnce.Do(func() { close(r.ended) })
}
