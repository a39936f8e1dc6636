package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"regime-engine/internal/model"
)

func newTestJournal(t *testing.T) (*Writer, *Reader) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "regime.db")
	w, err := New(WriterConfig{DBPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func triggerEvent(id string, at time.Time) model.Event {
	return model.Event{
		Kind:   model.EventTrigger,
		Symbol: "BTCUSDT",
		At:     at,
		Trigger: &model.Trigger{
			ID: id, Symbol: "BTCUSDT", Direction: model.DirectionUp,
			PercentChange: 1.2, VolumeRatio: 4.1, Price: 101, At: at,
		},
	}
}

func TestWriteBatch_TriggersWithDecisions(t *testing.T) {
	w, r := newTestJournal(t)
	base := time.UnixMilli(1700000000000).UTC()

	events := []model.Event{
		triggerEvent("BTCUSDT-1", base),
		triggerEvent("BTCUSDT-2", base.Add(time.Minute)),
		{
			Kind: model.EventDecision, Symbol: "BTCUSDT", At: base.Add(time.Second),
			Decision: &model.Decision{
				TriggerID: "BTCUSDT-1", Symbol: "BTCUSDT", Direction: model.DirectionUp,
				LivePrice: 101, TrendOk: true, TrendKnown: true,
				Recommendation: model.RecommendEventBuy, Detail: "x", At: base.Add(time.Second),
			},
		},
		{Kind: model.EventError, Symbol: "BTCUSDT", Error: "boom"},
	}
	if err := w.WriteBatch(events); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	recs, err := r.RecentTriggers("BTCUSDT", 10)
	if err != nil {
		t.Fatalf("RecentTriggers: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 triggers, got %d", len(recs))
	}
	if recs[0].Trigger.ID != "BTCUSDT-2" || recs[0].Decision != nil {
		t.Errorf("newest trigger should be undecided BTCUSDT-2, got %+v", recs[0])
	}
	if recs[1].Decision == nil || recs[1].Decision.Recommendation != model.RecommendEventBuy {
		t.Errorf("older trigger should carry its decision, got %+v", recs[1])
	}
	if recs[1].Reason != "Impulse UP | 20s 1.20% | Vol x4.10" {
		t.Errorf("unexpected reason %q", recs[1].Reason)
	}
	if !recs[1].Trigger.At.Equal(base) {
		t.Errorf("trigger time %v, want %v", recs[1].Trigger.At, base)
	}

	other, err := r.RecentTriggers("ETHUSDT", 10)
	if err != nil || len(other) != 0 {
		t.Errorf("expected no ETHUSDT triggers, got %d (%v)", len(other), err)
	}
}

func TestRun_FlushesOnClose(t *testing.T) {
	w, r := newTestJournal(t)
	ch := make(chan model.Event, 4)
	now := time.UnixMilli(1700000000000)

	ch <- model.Event{
		Kind: model.EventMode, Symbol: "BTCUSDT", At: now,
		Mode: model.ModeState{Current: model.ModeEvent, EventExpiry: now.Add(12 * time.Minute), LastTriggerReason: "Manual Trigger"},
	}
	ch <- model.Event{
		Kind: model.EventSignals, Symbol: "BTCUSDT", Interval: "1m", At: now, Profile: model.ProfileEvent,
		Signals: []model.SignalEvent{{Type: model.SignalBuy, Time: 60, Price: 100, Profile: model.ProfileEvent, Reason: model.ReasonMACross}},
	}
	close(ch)

	done := make(chan struct{})
	go func() {
		w.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after channel close")
	}

	n, err := r.ModeChangeCount("BTCUSDT")
	if err != nil || n != 1 {
		t.Errorf("mode changes: got %d (%v), want 1", n, err)
	}
	sigs, profile, err := r.LatestSignals("BTCUSDT")
	if err != nil {
		t.Fatalf("LatestSignals: %v", err)
	}
	if profile != model.ProfileEvent || len(sigs) != 1 || sigs[0].Type != model.SignalBuy {
		t.Errorf("unexpected signal log %v %+v", profile, sigs)
	}
}

func TestLatestSignals_Empty(t *testing.T) {
	_, r := newTestJournal(t)
	sigs, profile, err := r.LatestSignals("BTCUSDT")
	if err != nil || sigs != nil || profile != "" {
		t.Errorf("expected empty result, got %v %q %v", sigs, profile, err)
	}
}

func TestPrune_KeepsNewest(t *testing.T) {
	w, r := newTestJournal(t)
	var events []model.Event
	for i := 0; i < 5; i++ {
		events = append(events, model.Event{
			Kind: model.EventSignals, Symbol: "BTCUSDT", Profile: model.ProfileNormal,
			Signals: []model.SignalEvent{{Type: model.SignalBuy, Time: int64(i)}},
		})
	}
	if err := w.WriteBatch(events); err != nil {
		t.Fatal(err)
	}
	if err := w.Prune(2); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	var n int
	if err := w.DB().QueryRow(`SELECT COUNT(*) FROM signal_logs`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows after prune, got %d", n)
	}
	sigs, _, _ := r.LatestSignals("BTCUSDT")
	if len(sigs) != 1 || sigs[0].Time != 4 {
		t.Errorf("newest log should survive prune, got %+v", sigs)
	}
}
