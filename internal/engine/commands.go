package engine

import (
	"context"
	"log"
	"strings"

	"regime-engine/internal/model"
)

// ManualTrigger forces EVENT as if an UP impulse had fired at the last live
// price (0 with no ticks yet). The cooldown does not apply.
func (s *Service) ManualTrigger(ctx context.Context) (model.Trigger, error) {
	var trg model.Trigger
	err := s.do(ctx, func(context.Context) error {
		trg = s.acceptTrigger(model.Trigger{
			Symbol:    s.symbol,
			Direction: model.DirectionUp,
			Price:     s.detector.LastPrice(),
			At:        s.clock.Now(),
			Manual:    true,
		})
		return nil
	})
	return trg, err
}

// SwitchInstrument moves the engine to another symbol and/or interval.
// In-flight candle jobs are cancelled and late results are ignored either
// way. Only a new symbol resets the detector buffers, the cooldown and the
// last decision; an interval change keeps the realtime state. An empty
// interval keeps the current one.
func (s *Service) SwitchInstrument(ctx context.Context, symbol, interval string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return ErrEmptySymbol
	}
	return s.do(ctx, func(runCtx context.Context) error {
		if interval == "" {
			interval = s.interval
		}
		if symbol == s.symbol && interval == s.interval {
			return nil
		}
		symbolChanged := symbol != s.symbol

		s.genCancel()
		s.genCtx, s.genCancel = context.WithCancel(runCtx)
		s.gen++
		s.symbol, s.interval = symbol, interval

		if symbolChanged {
			s.detector.Reset(symbol)
			s.mode.ClearDecision()
			st := s.mode.State()
			s.updateSnap(func(sn *Snapshot) {
				*sn = Snapshot{
					Symbol:       symbol,
					Interval:     interval,
					Mode:         st,
					Profile:      st.Current.Profile(),
					LastDecision: model.NoDecision,
					HigherTrend:  model.TrendUnknown.String(),
				}
			})
		} else {
			st := s.mode.State()
			s.updateSnap(func(sn *Snapshot) {
				sn.Interval = interval
				sn.LastDecision = lastDecision(st, nil)
				sn.Signals = nil
				sn.Bars = 0
				sn.LastPrice = 0
				sn.TrendOk = false
				sn.HigherTrend = model.TrendUnknown.String()
				sn.Detail = ""
			})
		}
		log.Printf("[engine] switched to %s %s (gen %d)", symbol, interval, s.gen)
		if s.OnInstrumentChange != nil {
			s.OnInstrumentChange(symbol, interval)
		}
		s.startRefresh()
		return nil
	})
}

// Refresh schedules an immediate signal regeneration.
func (s *Service) Refresh(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error {
		s.startRefresh()
		return nil
	})
}

// Clear drops the displayed signal log and the recorded instant decision.
func (s *Service) Clear(ctx context.Context) error {
	return s.do(ctx, func(context.Context) error {
		s.mode.ClearDecision()
		st := s.mode.State()
		s.updateSnap(func(sn *Snapshot) {
			sn.Mode = st
			sn.Signals = nil
			sn.Recommendation = nil
			sn.LastDecision = model.NoDecision
		})
		s.emit(model.Event{Kind: model.EventSignals, Mode: st, Profile: st.Current.Profile()})
		return nil
	})
}

// UpdateSettings applies new thresholds and profiles. Detector buffers and
// an active EVENT expiry are kept; the signal log is regenerated.
func (s *Service) UpdateSettings(ctx context.Context, st Settings) error {
	return s.do(ctx, func(context.Context) error {
		if st.Profiles != (model.Profiles{}) {
			s.cfg.Profiles = st.Profiles
		}
		if st.Detector.ThresholdPct > 0 {
			s.cfg.Detector = st.Detector
			s.detector.SetConfig(st.Detector)
		}
		if st.Hold > 0 {
			s.mode.SetHold(st.Hold)
		}
		log.Printf("[engine] settings updated: detector=%+v hold=%s", s.detector.Config(), s.mode.Hold())
		s.startRefresh()
		return nil
	})
}

// Settings returns the active tunables.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := s.do(ctx, func(context.Context) error {
		out = Settings{Profiles: s.cfg.Profiles, Detector: s.detector.Config(), Hold: s.mode.Hold()}
		return nil
	})
	return out, err
}
