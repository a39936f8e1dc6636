package engine

import (
	"time"

	"regime-engine/internal/model"
)

// Snapshot is the pull-able, read-only view of the engine for consumers.
type Snapshot struct {
	Symbol         string              `json:"symbol"`
	Interval       string              `json:"interval"`
	Mode           model.ModeState     `json:"mode"`
	Profile        model.ProfileName   `json:"profile"`
	Signals        []model.SignalEvent `json:"signals"`
	LastDecision   string              `json:"last_decision"`
	Recommendation *model.Decision     `json:"recommendation,omitempty"`
	LastTrigger    *model.Trigger      `json:"last_trigger,omitempty"`
	TrendOk        bool                `json:"trend_ok"`
	HigherTrend    string              `json:"higher_trend"`
	Detail         string              `json:"detail"`
	LastPrice      float64             `json:"last_price"` // last candle close
	LivePrice      float64             `json:"live_price"` // last traded price
	Bars           int                 `json:"bars"`
	DataStale      bool                `json:"data_stale"`
	Error          string              `json:"error,omitempty"`
	RefreshedAt    time.Time           `json:"refreshed_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Snapshot returns a copy of the current view. Safe from any goroutine.
func (s *Service) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	out := s.snap
	if s.snap.Signals != nil {
		out.Signals = make([]model.SignalEvent, len(s.snap.Signals))
		copy(out.Signals, s.snap.Signals)
	}
	if s.snap.Recommendation != nil {
		d := *s.snap.Recommendation
		out.Recommendation = &d
	}
	if s.snap.LastTrigger != nil {
		t := *s.snap.LastTrigger
		out.LastTrigger = &t
	}
	return out
}

// ModeState returns the current mode state.
func (s *Service) ModeState() model.ModeState { return s.mode.State() }

// updateSnap applies fn under the snapshot lock and stamps UpdatedAt.
func (s *Service) updateSnap(fn func(sn *Snapshot)) {
	s.snapMu.Lock()
	fn(&s.snap)
	s.snap.UpdatedAt = s.clock.Now()
	s.snapMu.Unlock()
}
