package model

import (
	"testing"
	"time"
)

func TestLastDecision(t *testing.T) {
	if got := LastDecision(nil); got != NoDecision {
		t.Errorf("empty log: got %q, want %q", got, NoDecision)
	}

	events := []SignalEvent{
		{Type: SignalBuy, Profile: ProfileNormal, Reason: ReasonMACross},
		{Type: SignalStopLoss, Profile: ProfileNormal},
	}
	if got := LastDecision(events); got != "STOP_LOSS [NORMAL]" {
		t.Errorf("got %q, want %q", got, "STOP_LOSS [NORMAL]")
	}
}

func TestTrigger_Reason(t *testing.T) {
	tr := Trigger{Direction: DirectionUp, PercentChange: 1.234, VolumeRatio: 3.1}
	if got := tr.Reason(); got != "Impulse UP | 20s 1.23% | Vol x3.10" {
		t.Errorf("unexpected reason %q", got)
	}

	manual := Trigger{Manual: true, Direction: DirectionUp}
	if got := manual.Reason(); got != ManualReason {
		t.Errorf("manual reason: got %q", got)
	}
}

func TestTick_Valid(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	cases := []struct {
		name string
		tick Tick
		want bool
	}{
		{"ok", Tick{Price: 100, Qty: 1, TickTS: ts}, true},
		{"zero time", Tick{Price: 100, Qty: 1}, false},
	}
	for _, tc := range cases {
		if got := tc.tick.Valid(); got != tc.want {
			t.Errorf("%s: Valid()=%v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestProfiles_For(t *testing.T) {
	p := Profiles{
		Normal: StrategyProfile{Name: ProfileNormal},
		Event:  StrategyProfile{Name: ProfileEvent},
	}
	if p.For(ModeEvent.Profile()).Name != ProfileEvent {
		t.Error("EVENT mode should select EVENT profile")
	}
	if p.For(ModeNormal.Profile()).Name != ProfileNormal {
		t.Error("NORMAL mode should select NORMAL profile")
	}
	var lp StrategyProfile
	if lp.Lookback() != DefaultBreakoutLookback {
		t.Errorf("expected default lookback %d, got %d", DefaultBreakoutLookback, lp.Lookback())
	}
}
