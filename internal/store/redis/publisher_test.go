package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"

	"regime-engine/internal/model"
)

var t0 = time.Unix(1700000000, 0).UTC()

func testEvent(kind model.EventKind, price float64) model.Event {
	return model.Event{
		Kind:     kind,
		Symbol:   "BTCUSDT",
		Interval: "1h",
		At:       t0,
		Mode:     model.ModeState{Current: model.ModeEvent, LastDecision: model.NoDecision},
		Trigger:  &model.Trigger{ID: "BTCUSDT-1", Direction: model.DirectionUp, Price: price},
	}
}

func expectWrite(mock redismock.ClientMock, ev model.Event, cfg Config) {
	data := string(ev.JSON())
	mock.ExpectSet(LatestKey(ev.Symbol, ev.Kind), data, cfg.LatestTTL).SetVal("OK")
	mock.ExpectXAdd(&goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).SetVal("1700000000000-0")
	mock.ExpectPublish(ev.PubSubChannel(), data).SetVal(1)
}

func TestPublisher_Publish(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewWithClient(db, Config{})

	ev := testEvent(model.EventTrigger, 101.2)
	expectWrite(mock, ev, p.cfg)

	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublisher_Keys(t *testing.T) {
	ev := testEvent(model.EventDecision, 1)
	if got := LatestKey(ev.Symbol, ev.Kind); got != "regime:last:BTCUSDT:DECISION" {
		t.Errorf("latest key = %s", got)
	}
	if ev.StreamKey() != "regime:events:BTCUSDT" || ev.PubSubChannel() != "pub:regime:BTCUSDT" {
		t.Errorf("stream/channel = %s / %s", ev.StreamKey(), ev.PubSubChannel())
	}
	if SnapshotKey("ETHUSDT") != "regime:snapshot:ETHUSDT" {
		t.Errorf("snapshot key = %s", SnapshotKey("ETHUSDT"))
	}
}

func TestPublisher_BuffersWhileOpenAndFlushes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewWithClient(db, Config{ConsecutiveFailures: 2, OpenTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	down := errors.New("connection refused")

	var errorsSeen, buffered, flushed int
	p.OnError = func() { errorsSeen++ }
	p.OnBuffer = func() { buffered++ }
	p.OnFlush = func(n int) { flushed = n }

	for i := 0; i < 2; i++ {
		ev := testEvent(model.EventTrigger, float64(i))
		mock.ExpectSet(LatestKey(ev.Symbol, ev.Kind), string(ev.JSON()), p.cfg.LatestTTL).SetErr(down)
		if err := p.Publish(ctx, ev); err == nil {
			t.Fatal("expected error while redis is down")
		}
	}
	if p.BreakerState() != "open" || errorsSeen != 2 {
		t.Fatalf("breaker=%s errors=%d", p.BreakerState(), errorsSeen)
	}

	held := testEvent(model.EventMode, 7)
	if err := p.Publish(ctx, held); err != nil {
		t.Fatalf("open breaker should buffer, got %v", err)
	}
	if p.PendingCount() != 1 || buffered != 1 {
		t.Fatalf("pending=%d buffered=%d", p.PendingCount(), buffered)
	}

	time.Sleep(30 * time.Millisecond)

	probe := testEvent(model.EventDecision, 8)
	expectWrite(mock, probe, p.cfg)
	expectWrite(mock, held, p.cfg)
	if err := p.Publish(ctx, probe); err != nil {
		t.Fatalf("probe publish: %v", err)
	}
	if p.BreakerState() != "closed" || p.PendingCount() != 0 || flushed != 1 {
		t.Fatalf("after recovery: breaker=%s pending=%d flushed=%d", p.BreakerState(), p.PendingCount(), flushed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublisher_BufferDropsOldest(t *testing.T) {
	db, _ := redismock.NewClientMock()
	p := NewWithClient(db, Config{MaxBuffered: 2})
	p.buffer(testEvent(model.EventTrigger, 1))
	p.buffer(testEvent(model.EventTrigger, 2))
	p.buffer(testEvent(model.EventTrigger, 3))
	if p.PendingCount() != 2 {
		t.Fatalf("pending = %d", p.PendingCount())
	}
	first, _ := p.pending.Front()
	if first.Trigger.Price != 2 {
		t.Fatalf("oldest kept = %v, want 2", first.Trigger.Price)
	}
}

func TestPublisher_PublishSnapshot(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewWithClient(db, Config{})
	snap := map[string]string{"symbol": "BTCUSDT", "mode": "NORMAL"}
	mock.ExpectSet(SnapshotKey("BTCUSDT"), `{"mode":"NORMAL","symbol":"BTCUSDT"}`, p.cfg.LatestTTL).SetVal("OK")

	if err := p.PublishSnapshot(context.Background(), "BTCUSDT", snap); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPublisher_Recent(t *testing.T) {
	db, mock := redismock.NewClientMock()
	p := NewWithClient(db, Config{})
	ev := testEvent(model.EventTrigger, 101.2)

	mock.ExpectXRevRangeN("regime:events:BTCUSDT", "+", "-", 10).SetVal([]goredis.XMessage{
		{ID: "2-0", Values: map[string]interface{}{"data": string(ev.JSON())}},
		{ID: "1-0", Values: map[string]interface{}{"data": "not json"}},
	})

	got, err := p.Recent(context.Background(), "BTCUSDT", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Trigger == nil || got[0].Trigger.Price != 101.2 {
		t.Fatalf("recent = %+v", got)
	}
}
