package bus

import (
	"context"
	"testing"
	"time"

	"regime-engine/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe("redis")
	out2 := fo.Subscribe("sqlite")

	input := make(chan model.Event, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Event{Kind: model.EventTrigger, Symbol: "BTCUSDT"}

	for i, out := range []<-chan model.Event{out1, out2} {
		select {
		case ev := <-out:
			if ev.Kind != model.EventTrigger || ev.Symbol != "BTCUSDT" {
				t.Errorf("out%d: got %+v", i+1, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("out%d: timed out waiting for event", i+1)
		}
	}
}

func TestFanOut_DropsForSlowConsumer(t *testing.T) {
	fo := New(1)
	fast := fo.Subscribe("fast")
	_ = fo.Subscribe("slow")

	dropped := make(chan string, 4)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan model.Event)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Event{Kind: model.EventMode}
	<-fast
	input <- model.Event{Kind: model.EventDecision}

	select {
	case name := <-dropped:
		if name != "slow" {
			t.Fatalf("dropped for %s, want slow", name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drop for the slow consumer")
	}
	if ev := <-fast; ev.Kind != model.EventDecision {
		t.Fatalf("fast consumer got %s", ev.Kind)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New(1)
	out := fo.Subscribe("x")
	input := make(chan model.Event)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)
	<-done
	if _, ok := <-out; ok {
		t.Fatal("output should be closed")
	}
	if st := fo.ChannelStats(); len(st) != 1 || st[0].Name != "x" || st[0].Cap != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
