// Package engine is the playback state machine. Commands are serialized on
// one goroutine; each open source runs a read loop, a decode loop per
// component and a render loop that feeds a RenderSink as the clock
// advances.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/zsiec/marquee/internal/clock"
	"github.com/zsiec/marquee/internal/component"
	"github.com/zsiec/marquee/internal/config"
	"github.com/zsiec/marquee/internal/container"
	"github.com/zsiec/marquee/internal/decoder"
	"github.com/zsiec/marquee/internal/events"
	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/seekindex"
)

type command struct {
	name  string
	ctx   context.Context
	fn    func(ctx context.Context) error
	reply chan error
}

// Engine plays one source at a time.
type Engine struct {
	log            *slog.Logger
	opts           options
	sink           RenderSink
	dispatcher     *events.Dispatcher
	ownsDispatcher bool

	cmds         chan command
	notices      chan notice
	quit         chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once

	// mu serializes snapshot writers; readers load state directly.
	mu      sync.Mutex
	state   atomic.Pointer[State]
	current atomic.Pointer[session]

	opMu     sync.Mutex
	opCancel context.CancelFunc

	// Owned by the command goroutine.
	sess *session
	mode media.PlaybackState
}

// New creates an engine rendering to sink and starts its command
// goroutine. A nil sink discards output.
func New(sink RenderSink, opts ...Option) *Engine {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.registry == nil {
		o.registry = decoder.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if sink == nil {
		sink = Discard{}
	}
	e := &Engine{
		log:        o.log.With("component", "engine"),
		opts:       o,
		sink:       sink,
		dispatcher: o.dispatcher,
		cmds:       make(chan command),
		notices:    make(chan notice),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		mode:       media.StateClose,
	}
	if e.dispatcher == nil {
		e.dispatcher = events.NewDispatcher(o.log)
		e.ownsDispatcher = true
	}
	e.state.Store(initialState())
	go e.loop()
	return e
}

// State returns the current snapshot.
func (e *Engine) State() State { return *e.state.Load() }

// Subscribe registers an event handler.
func (e *Engine) Subscribe(h events.Handler, opts ...events.SubscribeOption) *events.Subscription {
	return e.dispatcher.Subscribe(h, opts...)
}

// Events returns a channel subscription for the given kinds, or all kinds.
func (e *Engine) Events(size int, kinds ...events.Kind) (<-chan events.Event, *events.Subscription) {
	return e.dispatcher.Channel(size, kinds...)
}

// Stats returns counters for the open session, or zero.
func (e *Engine) Stats() Stats {
	if s := e.current.Load(); s != nil {
		return s.snapshotStats()
	}
	return Stats{}
}

// Shutdown closes any open source and stops the engine. Later commands
// return ErrShutdown.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.interrupt()
		close(e.quit)
	})
	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.ownsDispatcher {
		e.dispatcher.Close()
	}
	return nil
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		var failed, ended <-chan struct{}
		if s := e.sess; s != nil && s.cur != nil {
			failed = s.cur.failed
			if !s.cur.endHandled {
				ended = s.cur.ended
			}
		}
		select {
		case c := <-e.cmds:
			c.reply <- c.fn(c.ctx)
		case n := <-e.notices:
			e.handleNotice(n)
		case <-failed:
			e.fail(e.sess.cur.err)
		case <-ended:
			e.sess.cur.endHandled = true
			e.handleEnded()
		case <-e.quit:
			if e.sess != nil {
				e.closeSession()
			}
			return
		}
	}
}

// do runs fn on the command goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	c := command{name: name, ctx: ctx, fn: fn, reply: make(chan error, 1)}
	select {
	case e.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.quit:
		return ErrShutdown
	}
	select {
	case err := <-c.reply:
		return err
	case <-e.done:
		return ErrShutdown
	}
}

// longOp makes ctx cancelable by a concurrent Close.
func (e *Engine) longOp(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	e.opMu.Lock()
	e.opCancel = cancel
	e.opMu.Unlock()
	return ctx, func() {
		e.opMu.Lock()
		e.opCancel = nil
		e.opMu.Unlock()
		cancel()
	}
}

func (e *Engine) interrupt() {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.opCancel != nil {
		e.opCancel()
	}
}

func (e *Engine) invalid(name string) error {
	return &InvalidStateError{Command: name, State: e.state.Load().Playback}
}

func (e *Engine) update(fn func(*State)) *State {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state.Load().clone()
	fn(s)
	e.state.Store(s)
	return s
}

// emit stamps ev with the session and source of st, or of the current
// snapshot.
func (e *Engine) emit(ev events.Event, st ...*State) {
	snap := e.state.Load()
	if len(st) > 0 {
		snap = st[0]
	}
	if ev.Session == "" {
		ev.Session = snap.Session
	}
	if ev.Source == "" {
		ev.Source = snap.Source
	}
	e.dispatcher.Emit(ev)
}

// transition moves to state to, applying fn to the new snapshot, and emits
// StateChanged.
func (e *Engine) transition(to media.PlaybackState, fn func(*State)) {
	prev := e.state.Load()
	next := e.update(func(s *State) {
		if fn != nil {
			fn(s)
		}
		s.Playback = to
		s.IsBuffering = to == media.StateBuffering
		s.IsSeeking = to == media.StateSeeking
	})
	if prev.Playback != to {
		e.log.Debug("state changed", "from", prev.Playback, "to", to)
		e.emit(events.Event{Kind: events.StateChanged, State: to, Previous: prev.Playback, Position: next.Position}, prev)
	}
}

func (e *Engine) setSession(s *session) {
	e.sess = s
	e.current.Store(s)
}

// Open opens source and primes playback. The engine must be closed.
func (e *Engine) Open(ctx context.Context, source string, opts container.Options) error {
	return e.do(ctx, "open", func(ctx context.Context) error {
		return e.open(ctx, source, opts)
	})
}

func (e *Engine) open(ctx context.Context, source string, opts container.Options) error {
	if !e.state.Load().Is(media.StateClose) {
		return e.invalid("open")
	}
	ctx, done := e.longOp(ctx)
	defer done()

	id := uuid.NewString()
	log := e.opts.log.With("session", id)
	e.update(func(s *State) {
		s.Source = source
		s.Session = id
	})
	e.emit(events.Event{Kind: events.Opening})
	e.transition(media.StateOpening, nil)

	if opts.Log == nil {
		opts.Log = log
	}
	key := e.loadIndex(ctx, source, &opts, log)
	cont, err := container.Open(ctx, source, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.closeSession()
		} else {
			e.failOpen(err)
		}
		return err
	}

	s := &session{
		id:          id,
		source:      source,
		log:         log,
		cfg:         e.opts.cfg,
		decCfg:      e.opts.decoder,
		opts:        opts,
		cont:        cont,
		clock:       clock.New(e.opts.now),
		registry:    e.opts.registry,
		sink:        e.sink,
		stats:       &counters{},
		now:         e.opts.now,
		state:       e.state.Load,
		onPosition:  e.onPosition,
		setProgress: e.setBufferingProgress,
		notices:     e.notices,
		indexKey:    key,
		indexLoaded: opts.Index != nil && cont.Index() == opts.Index,
	}
	s.clock.SetSpeed(e.state.Load().SpeedRatio)

	var comps []*component.Component
	for _, desc := range cont.Streams() {
		c, err := s.newComponent(desc)
		if err != nil {
			for _, c := range comps {
				_ = c.Close()
			}
			_ = cont.Close()
			e.failOpen(err)
			return err
		}
		comps = append(comps, c)
	}
	s.setComponents(comps)
	s.scrub.Store(e.opts.cfg.ScrubbingEnabled)
	e.setSession(s)
	s.start()

	if err := s.awaitPrimed(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("open interrupted")
			e.closeSession()
		} else {
			e.fail(err)
		}
		return err
	}

	info := cont.Info()
	e.update(func(st *State) { e.fillMedia(st, s) })
	e.emit(events.Event{Kind: events.MediaOpened, Info: &info})
	e.mode = media.StateOpen
	e.transition(media.StateOpen, nil)
	log.Info("media opened",
		"source", source,
		"format", info.Format,
		"duration", info.Duration,
		"master", masterType(s))

	if e.opts.cfg.LoadedBehavior == config.BehaviorPlay {
		return e.play(ctx)
	}
	return nil
}

func masterType(s *session) media.Type {
	if s.master == nil {
		return media.None
	}
	return s.master.Type()
}

func (e *Engine) fillMedia(st *State, s *session) {
	info := s.cont.Info()
	st.Info = &info
	st.NaturalDuration = info.Duration
	st.PlaybackStart = info.StartTime
	st.PlaybackEnd = info.StartTime + info.Duration
	st.Seekable = s.cont.IsSeekable()
	st.Selected = make(map[media.Type]int)
	st.HasAudio, st.HasVideo, st.HasSubtitles = false, false, false
	for _, c := range s.comps {
		st.Selected[c.Type()] = c.Descriptor().Index
		switch c.Type() {
		case media.Audio:
			st.HasAudio = true
		case media.Video:
			st.HasVideo = true
		case media.Subtitle:
			st.HasSubtitles = true
		}
	}
}

// loadIndex fills opts.Index from the store and returns the source key.
func (e *Engine) loadIndex(ctx context.Context, source string, opts *container.Options, log *slog.Logger) string {
	if e.opts.store == nil || opts.Index != nil {
		return ""
	}
	fs := opts.Fs
	if fs == nil {
		fs = e.opts.fs
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	key, err := seekindex.Identity(fs, source)
	if err != nil {
		log.Debug("no source identity for seek index", "error", err)
		return ""
	}
	idx, err := e.opts.store.Load(ctx, key)
	switch {
	case errors.Is(err, seekindex.ErrNotFound):
		return key
	case err != nil:
		log.Warn("loading seek index failed", "error", err)
		return key
	}
	log.Debug("loaded seek index", "entries", idx.Len())
	opts.Index = idx
	return key
}

func (e *Engine) saveIndex(s *session) {
	if e.opts.store == nil || s.indexKey == "" || s.indexLoaded {
		return
	}
	idx := s.cont.Index()
	if idx == nil || !idx.Complete() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.opts.store.Save(ctx, s.indexKey, s.source, idx); err != nil {
		s.log.Warn("saving seek index failed", "error", err)
		return
	}
	s.log.Info("saved seek index", "entries", idx.Len())
}

func (e *Engine) failOpen(err error) {
	e.log.Warn("open failed", "error", err)
	e.emit(events.Event{Kind: events.MediaFailed, Err: err})
	e.transition(media.StateClose, func(s *State) { *s = *s.closed() })
	e.mode = media.StateClose
}

// fail handles a fatal error: MediaFailed, then the close sequence.
func (e *Engine) fail(err error) {
	e.log.Error("playback failed", "error", err)
	e.emit(events.Event{Kind: events.MediaFailed, Err: err})
	e.closeSession()
}

func (e *Engine) closeSession() {
	s := e.sess
	prev := e.state.Load()
	e.transition(media.StateClosing, nil)
	if s != nil {
		s.clock.Pause()
		if err := s.close(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Debug("session closed with error", "error", err)
		}
		e.saveIndex(s)
		e.setSession(nil)
	}
	e.mode = media.StateClose
	e.transition(media.StateClose, func(st *State) { *st = *st.closed() })
	e.emit(events.Event{Kind: events.MediaClosed}, prev)
}

// Close stops playback and releases the source. It is valid in every
// state and interrupts a pending Open or Seek.
func (e *Engine) Close(ctx context.Context) error {
	e.interrupt()
	return e.do(ctx, "close", func(context.Context) error {
		if e.state.Load().Is(media.StateClose) && e.sess == nil {
			return nil
		}
		e.closeSession()
		return nil
	})
}

// Play starts or resumes playback. Playing from the end restarts at the
// beginning.
func (e *Engine) Play(ctx context.Context) error {
	return e.do(ctx, "play", e.play)
}

func (e *Engine) play(ctx context.Context) error {
	st := e.state.Load()
	switch st.Playback {
	case media.StatePlaying, media.StateBuffering:
		return nil
	case media.StateOpen, media.StatePaused:
	default:
		return e.invalid("play")
	}
	s := e.sess
	if st.HasEnded && s.cont.IsSeekable() {
		if err := e.repositionOrFail(ctx, 0); err != nil {
			return err
		}
		e.update(func(st *State) { st.Position = 0 })
		e.emit(events.Event{Kind: events.PositionChanged, Position: 0})
	}
	e.mode = media.StatePlaying
	e.transition(media.StatePlaying, func(st *State) { st.HasEnded = false })
	s.clock.Play()
	return nil
}

// Pause halts the clock; decoding continues to keep buffers warm.
func (e *Engine) Pause(ctx context.Context) error {
	return e.do(ctx, "pause", func(context.Context) error {
		switch e.state.Load().Playback {
		case media.StatePaused:
			return nil
		case media.StatePlaying, media.StateBuffering:
			e.pause()
			return nil
		}
		return e.invalid("pause")
	})
}

func (e *Engine) pause() {
	s := e.sess
	s.clock.Pause()
	pos := s.clampPosition(s.clock.Position())
	e.mode = media.StatePaused
	e.transition(media.StatePaused, func(st *State) { st.Position = pos })
}

// Stop pauses and rewinds to the start, leaving the source open.
func (e *Engine) Stop(ctx context.Context) error {
	return e.do(ctx, "stop", func(ctx context.Context) error {
		if !e.state.Load().Is(media.StateOpen, media.StatePlaying, media.StatePaused, media.StateBuffering) {
			return e.invalid("stop")
		}
		s := e.sess
		s.clock.Pause()
		if s.cont.IsSeekable() {
			if err := e.repositionOrFail(ctx, 0); err != nil {
				return err
			}
		}
		e.mode = media.StateOpen
		e.transition(media.StateOpen, func(st *State) {
			st.Position = 0
			st.HasEnded = false
		})
		e.emit(events.Event{Kind: events.PositionChanged, Position: 0})
		return nil
	})
}

// Seek moves playback to t, clamped to the media, and restores the prior
// mode once the master buffer is primed.
func (e *Engine) Seek(ctx context.Context, t time.Duration) error {
	return e.do(ctx, "seek", func(ctx context.Context) error {
		return e.seek(ctx, t)
	})
}

func (e *Engine) seek(ctx context.Context, t time.Duration) error {
	if !e.state.Load().Is(media.StateOpen, media.StatePlaying, media.StatePaused, media.StateBuffering) {
		return e.invalid("seek")
	}
	s := e.sess
	if !s.cont.IsSeekable() {
		return &container.SeekError{Target: t, Err: container.ErrNotSeekable}
	}
	ctx, done := e.longOp(ctx)
	defer done()

	prior := e.mode
	t = s.clampPosition(t)
	e.emit(events.Event{Kind: events.SeekingStarted, Position: t})
	e.transition(media.StateSeeking, nil)
	s.clock.Pause()

	fatal, err := e.reposition(ctx, t)
	if fatal {
		e.fail(err)
		return err
	}
	pos := s.clampPosition(s.clock.Position())
	if err == nil {
		s.stats.seeks.Add(1)
	}
	e.emit(events.Event{Kind: events.SeekingEnded, Position: pos, Err: err})
	e.emit(events.Event{Kind: events.PositionChanged, Position: pos})
	e.transition(prior, func(st *State) {
		st.Position = pos
		if err == nil {
			st.HasEnded = false
		}
	})
	if prior == media.StatePlaying {
		s.clock.Play()
	}
	return err
}

// reposition restarts the loops at t: stop, flush, container seek, prime.
// It reports fatal when the session cannot continue.
func (e *Engine) reposition(ctx context.Context, t time.Duration) (fatal bool, err error) {
	s := e.sess
	prev := s.clock.Position()
	if err := s.stop(); err != nil {
		return true, err
	}
	s.flush()
	_, serr := s.cont.SeekTo(ctx, t)
	if serr != nil {
		s.log.Warn("seek failed, restoring position", "target", t, "error", serr)
		t = prev
		if _, err := s.cont.SeekTo(context.WithoutCancel(ctx), prev); err != nil {
			return true, fmt.Errorf("restore position after failed seek: %w", err)
		}
	}
	s.clock.Reset(t)
	s.scrub.Store(e.opts.cfg.ScrubbingEnabled)
	s.start()
	if err := s.awaitPrimed(ctx); err != nil {
		select {
		case <-s.cur.failed:
			return true, err
		default:
		}
		return false, err
	}
	return false, serr
}

func (e *Engine) repositionOrFail(ctx context.Context, t time.Duration) error {
	fatal, err := e.reposition(ctx, t)
	if fatal {
		e.fail(err)
	}
	return err
}

// StepForward pauses and advances one frame.
func (e *Engine) StepForward(ctx context.Context) error {
	return e.do(ctx, "step forward", func(ctx context.Context) error { return e.step(ctx, 1) })
}

// StepBackward pauses and moves back one frame.
func (e *Engine) StepBackward(ctx context.Context) error {
	return e.do(ctx, "step backward", func(ctx context.Context) error { return e.step(ctx, -1) })
}

func (e *Engine) step(ctx context.Context, dir int) error {
	switch e.state.Load().Playback {
	case media.StatePlaying, media.StateBuffering:
		e.pause()
	case media.StateOpen, media.StatePaused:
	default:
		return e.invalid("step")
	}
	s := e.sess
	pos := s.clampPosition(s.clock.Position() + time.Duration(dir)*s.frameDuration())
	if v := s.componentOf(media.Video); v != nil && s.cont.IsSeekable() {
		if start, ok := v.Buffer().RangeStart(); !ok || pos < start {
			if err := e.repositionOrFail(ctx, pos); err != nil {
				return err
			}
		}
	}
	s.clock.Reset(pos)
	s.resync.Store(true)
	s.scrub.Store(true)
	e.update(func(st *State) { st.Position = pos })
	e.emit(events.Event{Kind: events.PositionChanged, Position: pos})
	return nil
}

// ChangeMedia re-runs stream selection with opts on the open source. Only
// components whose stream changed are rebuilt.
func (e *Engine) ChangeMedia(ctx context.Context, opts container.Options) error {
	return e.do(ctx, "change media", func(ctx context.Context) error {
		return e.changeMedia(ctx, opts)
	})
}

func (e *Engine) changeMedia(ctx context.Context, opts container.Options) error {
	if !e.state.Load().Is(media.StateOpen, media.StatePlaying, media.StatePaused, media.StateBuffering) {
		return e.invalid("change media")
	}
	ctx, done := e.longOp(ctx)
	defer done()

	s := e.sess
	prior := e.mode
	e.transition(media.StateChanging, nil)
	s.clock.Pause()
	if err := s.stop(); err != nil {
		e.fail(err)
		return err
	}

	changed := s.cont.Select(opts)
	if len(changed) > 0 {
		comps, err := e.rebuild(s, changed)
		if err != nil {
			e.fail(err)
			return err
		}
		s.setComponents(comps)
		s.flush()
		if s.cont.IsSeekable() {
			if _, err := s.cont.SeekTo(ctx, s.clock.Position()); err != nil {
				s.log.Warn("re-seek after stream change failed", "error", err)
			}
		}
	}
	s.opts.DisableVideo, s.opts.DisableAudio, s.opts.DisableSubtitles = opts.DisableVideo, opts.DisableAudio, opts.DisableSubtitles
	s.opts.Preferred, s.opts.Select = opts.Preferred, opts.Select

	s.start()
	if err := s.awaitPrimed(ctx); err != nil {
		select {
		case <-s.cur.failed:
			e.fail(err)
			return err
		default:
		}
	}
	e.update(func(st *State) { e.fillMedia(st, s) })
	e.emit(events.Event{Kind: events.MediaChanged, Changed: changed})
	e.transition(prior, nil)
	if prior == media.StatePlaying {
		s.clock.Play()
	}
	return nil
}

// rebuild returns components for the selected streams, reusing those whose
// type did not change and closing the replaced ones.
func (e *Engine) rebuild(s *session, changed []media.Type) ([]*component.Component, error) {
	isChanged := make(map[media.Type]bool, len(changed))
	for _, t := range changed {
		isChanged[t] = true
	}
	var comps []*component.Component
	for _, desc := range s.cont.Streams() {
		if old := s.componentOf(desc.Type); old != nil && !isChanged[desc.Type] {
			comps = append(comps, old)
			continue
		}
		c, err := s.newComponent(desc)
		if err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	for _, c := range s.comps {
		if isChanged[c.Type()] {
			c.Buffer().Clear()
			_ = c.Close()
		}
	}
	return comps, nil
}

// SetVolume sets the output volume, clamped to [0, 1].
func (e *Engine) SetVolume(ctx context.Context, v float64) error {
	return e.do(ctx, "set volume", func(context.Context) error {
		e.setVolume(func(st *State) { st.Volume = min(max(v, 0), 1) })
		return nil
	})
}

// SetBalance sets the stereo balance, clamped to [-1, 1].
func (e *Engine) SetBalance(ctx context.Context, b float64) error {
	return e.do(ctx, "set balance", func(context.Context) error {
		e.setVolume(func(st *State) { st.Balance = min(max(b, -1), 1) })
		return nil
	})
}

// SetMuted mutes or unmutes the output.
func (e *Engine) SetMuted(ctx context.Context, muted bool) error {
	return e.do(ctx, "set muted", func(context.Context) error {
		e.setVolume(func(st *State) { st.Muted = muted })
		return nil
	})
}

func (e *Engine) setVolume(fn func(*State)) {
	st := e.update(fn)
	if vs, ok := e.sink.(VolumeSink); ok {
		vs.OnVolume(st.Volume, st.Balance, st.Muted)
	}
}

// SetSpeedRatio changes the playback speed. It applies immediately and
// persists across sources.
func (e *Engine) SetSpeedRatio(ctx context.Context, r float64) error {
	if r <= 0 {
		return fmt.Errorf("engine: speed ratio %v must be positive", r)
	}
	return e.do(ctx, "set speed", func(context.Context) error {
		if e.sess != nil {
			e.sess.clock.SetSpeed(r)
		}
		e.update(func(st *State) { st.SpeedRatio = r })
		return nil
	})
}

func (e *Engine) handleNotice(n notice) {
	s := e.sess
	if s == nil || s.cur != n.run {
		return
	}
	switch n.kind {
	case noticeBufferingStart:
		if !e.state.Load().Is(media.StatePlaying) {
			return
		}
		s.clock.Pause()
		s.log.Debug("buffering started")
		e.emit(events.Event{Kind: events.BufferingStarted, Position: s.clock.Position()})
		e.transition(media.StateBuffering, func(st *State) { st.BufferingProgress = 0 })
	case noticeBufferingEnd:
		if !e.state.Load().Is(media.StateBuffering) {
			return
		}
		s.log.Debug("buffering ended")
		e.emit(events.Event{Kind: events.BufferingEnded, Position: s.clock.Position()})
		e.transition(media.StatePlaying, func(st *State) { st.BufferingProgress = 1 })
		s.clock.Play()
	}
}

func (e *Engine) handleEnded() {
	s := e.sess
	if !e.state.Load().Is(media.StatePlaying) {
		return
	}
	pos := s.clampPosition(s.clock.Position())
	s.log.Info("media ended", "position", pos)
	e.emit(events.Event{Kind: events.MediaEnded, Position: pos})

	if e.opts.cfg.LoopingBehavior == config.BehaviorPlay && s.cont.IsSeekable() {
		s.clock.Pause()
		if err := e.repositionOrFail(context.Background(), 0); err != nil {
			if e.sess != nil {
				e.pause()
			}
			return
		}
		e.update(func(st *State) { st.Position = 0 })
		e.emit(events.Event{Kind: events.PositionChanged, Position: 0})
		s.clock.Play()
		return
	}

	s.clock.Pause()
	s.clock.Reset(pos)
	e.mode = media.StatePaused
	e.transition(media.StatePaused, func(st *State) {
		st.HasEnded = true
		st.Position = pos
	})
}

func (e *Engine) onPosition(pos time.Duration, download float64) {
	st := e.update(func(s *State) {
		s.Position = pos
		s.DownloadProgress = download
	})
	e.emit(events.Event{Kind: events.PositionChanged, Position: pos}, st)
}

func (e *Engine) setBufferingProgress(p float64) {
	e.update(func(s *State) { s.BufferingProgress = p })
}
