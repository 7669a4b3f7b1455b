// Package sampler turns wall-clock time into a coarse integer tick and fires a
// handler at most once per distinct tick.
package sampler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 100 * time.Millisecond

// Handler is invoked with each newly observed tick.
type Handler func(ctx context.Context, tick int64) error

// TickAt converts t to a tick: wall-clock milliseconds divided by 1000, rounded.
func TickAt(t time.Time) int64 {
	return int64(math.Round(float64(t.UnixMilli()) / 1000))
}

// SampleTimeMatches reports whether a service with the given sample time is
// due at tick. A non-positive sample time never matches.
func SampleTimeMatches(tick, sampleTime int64) bool {
	if sampleTime <= 0 {
		return false
	}
	return tick%sampleTime == 0
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithClock sets the clock used for polling and tick computation.
func WithClock(c clockwork.Clock) Option {
	return func(s *Sampler) { s.clock = c }
}

// WithInterval sets the poll period.
func WithInterval(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sampler polls a clock and emits each new tick to its handler.
//
// The tick is recorded as emitted before the handler runs; handlers run in
// their own goroutine and are not awaited by the poll loop. Handler errors and
// panics are logged and otherwise ignored.
type Sampler struct {
	clock    clockwork.Clock
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	handler  Handler
	lastTick int64
	emitted  bool
	running  bool
	stop     chan struct{}
	loopDone chan struct{}
	baseCtx  context.Context
	// inflight tracks the handlers of the current run. Start replaces it.
	inflight *sync.WaitGroup
}

// New creates a stopped Sampler.
func New(opts ...Option) *Sampler {
	s := &Sampler{
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		logger:   slog.Default(),
		baseCtx:  context.Background(),
		inflight: &sync.WaitGroup{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHandler registers h as the tick handler, replacing any previous one.
// A nil handler disables emission.
func (s *Sampler) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Now returns the current tick according to the sampler's clock.
func (s *Sampler) Now() int64 {
	return TickAt(s.clock.Now())
}

// LastTick returns the last emitted tick and whether any tick was emitted.
func (s *Sampler) LastTick() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick, s.emitted
}

// Running reports whether the poll loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start polls once and launches the poll loop. It is a no-op if already running.
// Handlers receive a context carrying ctx's values but never its cancellation.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.baseCtx = context.WithoutCancel(ctx)
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.inflight = &sync.WaitGroup{}
	stop, done := s.stop, s.loopDone
	s.mu.Unlock()

	s.poll()
	go s.run(stop, done)
	s.logger.Debug("sampler started", "interval", s.interval)
}

// Stop halts the poll loop and waits for in-flight handlers to finish or for
// ctx to expire. Calling Stop on a stopped Sampler only waits for the handlers
// of the last run.
func (s *Sampler) Stop(ctx context.Context) error {
	s.mu.Lock()
	var done chan struct{}
	if s.running {
		s.running = false
		close(s.stop)
		done = s.loopDone
	}
	inflight := s.inflight
	s.mu.Unlock()

	if done != nil {
		<-done
		s.logger.Debug("sampler stopped")
	}

	idle := make(chan struct{})
	go func() {
		inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sampler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			s.poll()
		}
	}
}

// poll emits the current tick if it is newer than the last emitted one.
func (s *Sampler) poll() {
	tick := TickAt(s.clock.Now())

	s.mu.Lock()
	h := s.handler
	if h == nil || (s.emitted && tick <= s.lastTick) {
		s.mu.Unlock()
		return
	}
	s.lastTick = tick
	s.emitted = true
	ctx := s.baseCtx
	wg := s.inflight
	wg.Add(1)
	s.mu.Unlock()

	go s.invoke(ctx, wg, h, tick)
}

func (s *Sampler) invoke(ctx context.Context, wg *sync.WaitGroup, h Handler, tick int64) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("tick handler panicked", "tick", tick, "panic", r)
		}
	}()

	if err := h(ctx, tick); err != nil {
		s.logger.Debug("tick handler failed", "tick", tick, "error", err)
	}
}
