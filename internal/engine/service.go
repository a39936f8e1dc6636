// Package engine is the serialization boundary of the regime engine.
//
// One goroutine (Run) owns the impulse detector and the mode controller and
// is the only place their state changes. It selects over inbound ticks, the
// liveness poll, the periodic refresh, operator commands and the results of
// asynchronous candle jobs. Candle jobs run on their own goroutines, never
// touch detector or mode state, and carry the instrument generation they were
// started for; results from an older generation are dropped.
package engine

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sync"
	"time"

	"regime-engine/internal/clock"
	"regime-engine/internal/impulse"
	"regime-engine/internal/logger"
	"regime-engine/internal/mode"
	"regime-engine/internal/model"
)

// ErrNotRunning is returned by commands issued while Run is not active.
var ErrNotRunning = errors.New("engine: not running")

// ErrEmptySymbol rejects an instrument switch without a symbol.
var ErrEmptySymbol = errors.New("engine: switch: empty symbol")

// CandleSource retrieves ordered candles (binance.Client or candlecache.Cache).
type CandleSource interface {
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
}

type command struct {
	fn   func(ctx context.Context) error
	done chan error
}

// Service runs the realtime regime loop for one instrument at a time.
type Service struct {
	cfg   Config
	src   CandleSource
	clock clock.Clock
	log   *slog.Logger

	detector *impulse.Detector
	mode     *mode.Controller

	cmds    chan command
	results chan result
	events  chan model.Event
	running chan struct{}
	stopped chan struct{}

	// Loop-owned; never read outside Run.
	symbol    string
	interval  string
	gen       uint64
	genCtx    context.Context
	genCancel context.CancelFunc
	jobs      sync.WaitGroup

	snapMu sync.RWMutex
	snap   Snapshot

	// Optional hooks (metrics, stream supervision). Called from the loop
	// goroutine; must not block.
	OnTick        func()
	OnTrigger     func(model.Trigger)
	OnModeChange  func(model.ModeState)
	OnDecision    func(model.Decision)
	OnFetchError  func(error)
	OnEventDrop   func(model.Event)
	OnStaleResult func()
	OnSuppressed  func()
	// OnInstrumentChange fires on every switch, including interval-only ones.
	OnInstrumentChange func(symbol, interval string)
}

// New creates a Service. A nil clock means wall time; a nil logger means slog.Default().
func New(cfg Config, src CandleSource, clk clock.Clock, lg *slog.Logger) *Service {
	cfg.defaults()
	if clk == nil {
		clk = clock.System{}
	}
	if lg == nil {
		lg = slog.Default()
	}
	s := &Service{
		cfg:      cfg,
		src:      src,
		clock:    clk,
		log:      lg.With(slog.String("component", "engine")),
		detector: impulse.New(cfg.Symbol, cfg.Detector),
		mode:     mode.NewController(cfg.Mode),
		cmds:     make(chan command),
		results:  make(chan result, 16),
		events:   make(chan model.Event, cfg.EventBuffer),
		running:  make(chan struct{}),
		stopped:  make(chan struct{}),
		symbol:   cfg.Symbol,
		interval: cfg.Interval,
	}
	s.detector.OnSuppressed = func() {
		s.log.Debug("impulse suppressed by cooldown", slog.String("symbol", s.symbol))
		if s.OnSuppressed != nil {
			s.OnSuppressed()
		}
	}
	s.snap = Snapshot{
		Symbol:       cfg.Symbol,
		Interval:     cfg.Interval,
		Mode:         s.mode.State(),
		Profile:      model.ProfileNormal,
		LastDecision: model.NoDecision,
		HigherTrend:  model.TrendUnknown.String(),
	}
	return s
}

// Events is the outbound event stream. It is closed when Run returns.
func (s *Service) Events() <-chan model.Event { return s.events }

// Run is the event loop. It blocks until ctx is cancelled; ticks may be nil
// or closed without stopping the loop. Run must be called once.
func (s *Service) Run(ctx context.Context, ticks <-chan model.Tick) error {
	s.genCtx, s.genCancel = context.WithCancel(ctx)
	close(s.running)

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()

	log.Printf("[engine] running %s %s (poll=%s refresh=%s hold=%s)",
		s.symbol, s.interval, s.cfg.PollInterval, s.cfg.RefreshInterval, s.mode.Hold())
	s.startRefresh()

	for {
		select {
		case <-ctx.Done():
			s.genCancel()
			s.jobs.Wait()
			close(s.events)
			close(s.stopped)
			log.Println("[engine] stopped")
			return ctx.Err()

		case tk, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			s.onTick(tk)

		case <-poll.C:
			s.pollMode()

		case <-refresh.C:
			s.pollMode()
			s.startRefresh()

		case cmd := <-s.cmds:
			cmd.done <- cmd.fn(ctx)

		case res := <-s.results:
			s.applyResult(res)
		}
	}
}

func (s *Service) onTick(tk model.Tick) {
	if tk.Symbol != "" && tk.Symbol != s.symbol {
		return
	}
	if s.OnTick != nil {
		s.OnTick()
	}
	trg, fired := s.detector.Observe(tk)
	s.pollMode()
	if live := s.detector.LastPrice(); live != 0 {
		s.updateSnap(func(sn *Snapshot) { sn.LivePrice = live })
	}
	if fired {
		s.acceptTrigger(trg)
	}
}

// acceptTrigger records the trigger and mode transition immediately and
// leaves the decision to an async job.
func (s *Service) acceptTrigger(trg model.Trigger) model.Trigger {
	now := s.clock.Now()
	if trg.At.IsZero() {
		trg.At = now
	}
	trg.Symbol = s.symbol
	trg.ID = logger.GenerateTriggerID(s.symbol, trg.At)
	reason := trg.Reason()

	tr := s.mode.Enter(now, reason)
	st := s.mode.State()

	ctx := logger.WithTriggerID(s.genCtx, trg.ID)
	s.log.Info("impulse accepted", append(logger.LogWithTrigger(ctx),
		slog.String("symbol", trg.Symbol),
		slog.String("direction", string(trg.Direction)),
		slog.Float64("pct", trg.PercentChange),
		slog.Float64("vol_ratio", trg.VolumeRatio),
		slog.Bool("manual", trg.Manual),
		slog.String("transition", tr.String()),
		slog.Time("expiry", st.EventExpiry),
	)...)

	s.updateSnap(func(sn *Snapshot) {
		sn.Mode = st
		sn.Profile = st.Current.Profile()
		sn.LastTrigger = &trg
		sn.LastDecision = lastDecision(st, sn.Signals)
	})
	t := trg
	s.emit(model.Event{Kind: model.EventTrigger, Trigger: &t, Mode: st})
	if tr == mode.Entered {
		s.emit(model.Event{Kind: model.EventMode, Mode: st, Profile: st.Current.Profile()})
		if s.OnModeChange != nil {
			s.OnModeChange(st)
		}
	}
	if s.OnTrigger != nil {
		s.OnTrigger(trg)
	}

	s.startDecision(ctx, trg, reason)
	return trg
}

// pollMode is the liveness check; reverting to NORMAL schedules a refresh
// under the NORMAL profile.
func (s *Service) pollMode() {
	if s.mode.Poll(s.clock.Now()) != mode.Reverted {
		return
	}
	st := s.mode.State()
	s.updateSnap(func(sn *Snapshot) {
		sn.Mode = st
		sn.Profile = st.Current.Profile()
		sn.LastDecision = lastDecision(st, sn.Signals)
	})
	s.emit(model.Event{Kind: model.EventMode, Mode: st, Profile: st.Current.Profile()})
	if s.OnModeChange != nil {
		s.OnModeChange(st)
	}
	s.startRefresh()
}

// emit publishes without blocking the loop.
func (s *Service) emit(ev model.Event) {
	ev.Symbol = s.symbol
	ev.Interval = s.interval
	if ev.At.IsZero() {
		ev.At = s.clock.Now()
	}
	select {
	case s.events <- ev:
	default:
		if s.OnEventDrop != nil {
			s.OnEventDrop(ev)
		} else {
			log.Printf("[engine] events channel full, dropping %s event", ev.Kind)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Service) do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-s.running:
	default:
		return ErrNotRunning
	}
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case s.cmds <- cmd:
	case <-s.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
