package engine

import (
	"context"
	"log"
	"log/slog"

	"regime-engine/internal/decision"
	"regime-engine/internal/logger"
	"regime-engine/internal/marketdata/binance"
	"regime-engine/internal/model"
	"regime-engine/internal/strategy"
)

type resultKind int

const (
	resultDecision resultKind = iota
	resultRefresh
)

// result is what an async candle job hands back to the loop.
type result struct {
	kind   resultKind
	gen    uint64
	symbol string
	err    error

	// resultDecision
	trigger  model.Trigger
	decision model.Decision

	// resultRefresh
	profile model.ProfileName
	signals []model.SignalEvent
	summary strategy.Summary
	higher  model.TrendReading
	bars    int
}

// startDecision fetches recent candles and synthesizes the instant decision
// for trg off the loop goroutine.
func (s *Service) startDecision(ctx context.Context, trg model.Trigger, reason string) {
	gen, symbol, interval := s.gen, s.symbol, s.interval
	emaPeriod, limit := s.cfg.Profiles.Event.EMATrendPeriod, s.cfg.DecisionLimit
	s.launch(func(jobCtx context.Context) result {
		res := result{kind: resultDecision, gen: gen, symbol: symbol, trigger: trg}
		candles, err := s.src.FetchCandles(jobCtx, symbol, interval, limit)
		if err != nil {
			res.err = err
			return res
		}
		d := decision.Decide(decision.Input{
			TriggerID: trg.ID,
			Symbol:    symbol,
			Direction: trg.Direction,
			LivePrice: trg.Price,
			Reason:    reason,
		}, candles, emaPeriod)
		d.At = s.clock.Now()
		s.log.Info("instant decision", append(logger.LogWithTrigger(ctx),
			slog.String("recommendation", d.Recommendation),
			slog.Bool("trend_ok", d.TrendOk),
			slog.Bool("trend_known", d.TrendKnown),
		)...)
		res.decision = d
		return res
	})
}

// startRefresh regenerates the signal log under the currently active profile.
func (s *Service) startRefresh() {
	gen, symbol, interval := s.gen, s.symbol, s.interval
	profile := s.cfg.Profiles.For(s.mode.ActiveProfile())
	limit, higherLimit := s.cfg.CandleLimit, s.cfg.HigherLimit
	s.launch(func(ctx context.Context) result {
		res := result{kind: resultRefresh, gen: gen, symbol: symbol, profile: profile.Name}
		candles, err := s.src.FetchCandles(ctx, symbol, interval, limit)
		if err != nil {
			res.err = err
			return res
		}
		res.higher = s.higherTrend(ctx, symbol, interval, profile, higherLimit)
		run := strategy.Run(candles, profile, res.higher)
		res.signals = run.Events
		res.summary = strategy.Summarize(candles, run, profile, res.higher)
		res.bars = len(candles)
		return res
	})
}

// higherTrend never fails: fetch errors and unmapped intervals read as unknown.
func (s *Service) higherTrend(ctx context.Context, symbol, interval string, profile model.StrategyProfile, limit int) model.TrendReading {
	if !profile.EnableMTF {
		return model.TrendUnknown
	}
	hi, ok := binance.HigherInterval(interval)
	if !ok {
		return model.TrendUnknown
	}
	candles, err := s.src.FetchCandles(ctx, symbol, hi, limit)
	if err != nil {
		log.Printf("[engine] higher-timeframe %s %s unavailable: %v", symbol, hi, err)
		return model.TrendUnknown
	}
	return strategy.TrendOf(candles, profile.EMATrendPeriod)
}

// launch runs job on its own goroutine bound to the current generation.
// A cancelled generation discards the result instead of blocking.
func (s *Service) launch(job func(ctx context.Context) result) {
	genCtx := s.genCtx
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		ctx, cancel := context.WithTimeout(genCtx, s.cfg.FetchTimeout)
		defer cancel()
		res := job(ctx)
		select {
		case s.results <- res:
		case <-genCtx.Done():
		}
	}()
}

// applyResult is the only place async output touches engine state.
func (s *Service) applyResult(res result) {
	if res.gen != s.gen || res.symbol != s.symbol {
		if s.OnStaleResult != nil {
			s.OnStaleResult()
		}
		log.Printf("[engine] dropping stale result for %s (gen %d, now %d)", res.symbol, res.gen, s.gen)
		return
	}
	if res.err != nil {
		s.fetchFailed(res)
		return
	}

	switch res.kind {
	case resultDecision:
		d := res.decision
		s.mode.RecordDecision(d.Recommendation)
		st := s.mode.State()
		s.updateSnap(func(sn *Snapshot) {
			sn.Mode = st
			sn.Recommendation = &d
			sn.LastDecision = lastDecision(st, sn.Signals)
		})
		s.emit(model.Event{Kind: model.EventDecision, Decision: &d, Mode: st, Profile: model.ProfileEvent})
		if s.OnDecision != nil {
			s.OnDecision(d)
		}
		s.startRefresh()

	case resultRefresh:
		st := s.mode.State()
		s.updateSnap(func(sn *Snapshot) {
			sn.Mode = st
			sn.Profile = res.profile
			sn.Signals = res.signals
			sn.TrendOk = res.summary.TrendOk
			sn.Detail = res.summary.Detail
			sn.LastPrice = res.summary.LastPrice
			sn.HigherTrend = res.higher.String()
			sn.Bars = res.bars
			sn.DataStale = false
			sn.Error = ""
			sn.LastDecision = lastDecision(st, res.signals)
			sn.RefreshedAt = s.clock.Now()
		})
		s.emit(model.Event{Kind: model.EventSignals, Signals: res.signals, Mode: st, Profile: res.profile})
	}
}

// fetchFailed surfaces a recoverable data error. Mode and detector state are
// left untouched; the next scheduled refresh retries.
func (s *Service) fetchFailed(res result) {
	what := "refresh"
	if res.kind == resultDecision {
		what = "decision"
	}
	ctx := context.Background()
	if res.trigger.ID != "" {
		ctx = logger.WithTriggerID(ctx, res.trigger.ID)
	}
	s.log.Warn(what+" fetch failed", append(logger.LogWithTrigger(ctx),
		slog.String("symbol", res.symbol), slog.String("error", res.err.Error()))...)

	msg := res.err.Error()
	s.updateSnap(func(sn *Snapshot) {
		sn.DataStale = true
		sn.Error = msg
	})
	s.emit(model.Event{Kind: model.EventError, Error: what + ": " + msg, Mode: s.mode.State()})
	if s.OnFetchError != nil {
		s.OnFetchError(res.err)
	}
}

// lastDecision is the headline shown to consumers: the instant recommendation
// while EVENT holds one, otherwise the newest signal label.
func lastDecision(st model.ModeState, signals []model.SignalEvent) string {
	if st.Current == model.ModeEvent && st.LastDecision != model.NoDecision && st.LastDecision != "" {
		return st.LastDecision
	}
	return model.LastDecision(signals)
}
