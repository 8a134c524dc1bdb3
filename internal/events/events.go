// Package events delivers engine notifications to subscribers. Each
// subscriber has its own unbounded FIFO and delivery goroutine, so a slow
// consumer never blocks the engine or other subscribers, and every
// subscriber observes events in emission order.
package events

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/marquee/internal/media"
)

// Kind identifies an event.
type Kind int

// Event kinds.
const (
	Opening Kind = iota + 1
	MediaOpened
	MediaChanged
	BufferingStarted
	BufferingEnded
	SeekingStarted
	SeekingEnded
	PositionChanged
	StateChanged
	MediaEnded
	MediaFailed
	MediaClosed
)

var kindNames = map[Kind]string{
	Opening:          "Opening",
	MediaOpened:      "MediaOpened",
	MediaChanged:     "MediaChanged",
	BufferingStarted: "BufferingStarted",
	BufferingEnded:   "BufferingEnded",
	SeekingStarted:   "SeekingStarted",
	SeekingEnded:     "SeekingEnded",
	PositionChanged:  "PositionChanged",
	StateChanged:     "StateChanged",
	MediaEnded:       "MediaEnded",
	MediaFailed:      "MediaFailed",
	MediaClosed:      "MediaClosed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Event is one notification. Fields not relevant to a kind are zero.
type Event struct {
	Kind    Kind
	Seq     uint64
	Time    time.Time
	Session string
	Source  string

	Position time.Duration
	State    media.PlaybackState
	Previous media.PlaybackState
	Info     *media.Info
	// Changed lists the media types whose stream changed (MediaChanged).
	Changed []media.Type
	Err     error
}

func (e Event) String() string {
	switch e.Kind {
	case StateChanged:
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.Previous, e.State)
	case MediaFailed:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case PositionChanged, SeekingEnded, MediaEnded:
		return fmt.Sprintf("%s @ %s", e.Kind, e.Position)
	default:
		return e.Kind.String()
	}
}

// Handler consumes events.
type Handler func(Event)

// Executor runs handler invocations in the consumer's execution context,
// for example by posting them to a UI loop. It must run the functions it
// is given in the order it receives them.
type Executor func(func())

// Inline runs each handler on the subscriber's delivery goroutine.
func Inline(f func()) { f() }

type subscribeConfig struct {
	kinds  []Kind
	exec   Executor
	onStop func()
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

// WithKinds restricts delivery to the given kinds.
func WithKinds(kinds ...Kind) SubscribeOption {
	return func(c *subscribeConfig) { c.kinds = append(c.kinds, kinds...) }
}

// WithExecutor sets the executor handler calls are run on.
func WithExecutor(e Executor) SubscribeOption {
	return func(c *subscribeConfig) { c.exec = e }
}

type subscriber struct {
	id      string
	handler Handler
	cfg     subscribeConfig

	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	stopped bool
	drain   bool
	done    chan struct{}
}

func (s *subscriber) wants(k Kind) bool {
	return len(s.cfg.kinds) == 0 || slices.Contains(s.cfg.kinds, k)
}

func (s *subscriber) push(e Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer close(s.done)
	if s.cfg.onStop != nil {
		defer s.cfg.onStop()
	}
	for {
		s.mu.Lock()
		if s.stopped && (!s.drain || len(s.queue) == 0) {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.cfg.exec(func() { s.handler(e) })
	}
}

func (s *subscriber) stop(drain bool) {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.drain = drain
		if !drain {
			s.queue = nil
		}
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	d   *Dispatcher
	sub *subscriber
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() string { return s.sub.id }

// Unsubscribe stops delivery and discards pending events. Done is closed
// once an in-flight handler has returned.
func (s *Subscription) Unsubscribe() {
	s.d.remove(s.sub.id)
	s.sub.stop(false)
}

// Done is closed when the subscriber's delivery goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.sub.done }

// Dispatcher fans events out to subscribers.
type Dispatcher struct {
	log *slog.Logger
	// emitMu orders stamping and queueing, so every subscriber sees Seq
	// increasing.
	emitMu sync.Mutex
	seq    uint64
	mu     sync.RWMutex
	subs   map[string]*subscriber
	// closed rejects new subscriptions once Close ran.
	closed bool
}

// NewDispatcher creates a dispatcher. If log is nil, slog.Default() is used.
func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:  log.With("component", "events"),
		subs: make(map[string]*subscriber),
	}
}

// Subscribe registers h. Events emitted after Subscribe returns are
// delivered to h in order.
func (d *Dispatcher) Subscribe(h Handler, opts ...SubscribeOption) *Subscription {
	cfg := subscribeConfig{exec: Inline}
	for _, o := range opts {
		o(&cfg)
	}
	s := &subscriber{
		id:      uuid.NewString(),
		handler: h,
		cfg:     cfg,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		s.stopped = true
		close(s.done)
		if cfg.onStop != nil {
			cfg.onStop()
		}
		return &Subscription{d: d, sub: s}
	}
	d.subs[s.id] = s
	n := len(d.subs)
	d.mu.Unlock()

	go s.run()
	d.log.Debug("subscriber added", "id", s.id, "subscribers", n)
	return &Subscription{d: d, sub: s}
}

// Channel subscribes a buffered channel that receives events and is closed
// when the subscription ends. A full channel stalls only this subscriber.
func (d *Dispatcher) Channel(size int, kinds ...Kind) (<-chan Event, *Subscription) {
	ch := make(chan Event, size)
	sub := d.Subscribe(func(e Event) { ch <- e },
		WithKinds(kinds...),
		func(c *subscribeConfig) { c.onStop = func() { close(ch) } },
	)
	return ch, sub
}

func (d *Dispatcher) remove(id string) {
	d.mu.Lock()
	delete(d.subs, id)
	d.mu.Unlock()
}

// Emit stamps e with a sequence number and time and queues it for every
// interested subscriber. It never blocks on a consumer.
func (d *Dispatcher) Emit(e Event) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.seq++
	e.Seq = d.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, s := range d.subs {
		if s.wants(e.Kind) {
			s.push(e)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Close delivers every queued event, then ends all subscriptions.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	subs := d.subs
	d.subs = make(map[string]*subscriber)
	d.mu.Unlock()

	for _, s := range subs {
		s.stop(true)
	}
	for _, s := range subs {
		<-s.done
	}
}
