// cmd/replay feeds a recorded JSONL tick file through the impulse detector
// and mode controller on stream time, printing every trigger and mode change.
// Runs are deterministic: the same recording always yields the same output.
//
// Usage:
//
//	go run ./cmd/replay --file=data/ticks.jsonl --threshold=0.9 --volmult=2.2
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"regime-engine/config"
	"regime-engine/internal/impulse"
	"regime-engine/internal/logger"
	"regime-engine/internal/marketdata/replay"
	"regime-engine/internal/mode"
	"regime-engine/internal/model"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()

	file := flag.String("file", "data/ticks.jsonl", "JSONL tick recording")
	symbol := flag.String("symbol", "", "Symbol to replay (default: first tick's symbol)")
	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime)")
	threshold := flag.Float64("threshold", cfg.Tunables.ThresholdPct, "Impulse threshold, percent")
	volMult := flag.Float64("volmult", cfg.Tunables.VolumeMult, "Volume multiple over baseline")
	holdMin := flag.Float64("hold", cfg.Tunables.HoldMinutes, "EVENT hold, minutes")
	flag.Parse()

	ticks, err := replay.LoadFile(*file)
	if err != nil {
		log.Fatalf("[replay] %v", err)
	}
	if len(ticks) == 0 {
		log.Fatalf("[replay] %s has no ticks", *file)
	}
	sym := strings.ToUpper(*symbol)
	if sym == "" {
		sym = ticks[0].Symbol
	}

	t := cfg.Tunables
	t.ThresholdPct, t.VolumeMult, t.HoldMinutes = *threshold, *volMult, *holdMin
	t.DetectorEnabled = true
	t = t.Clamp()

	det := impulse.New(sym, t.DetectorConfig())
	ctrl := mode.NewController(mode.Config{Hold: t.Hold()})
	suppressed := 0
	det.OnSuppressed = func() { suppressed++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	tickCh := make(chan model.Tick, 1024)
	rp := replay.New(ticks)
	go func() {
		if err := rp.Run(ctx, *speed, tickCh); err != nil {
			log.Printf("[replay] stopped: %v", err)
		}
		close(tickCh)
	}()

	fmt.Printf("replaying %d ticks for %s (threshold %.2f%%, vol x%.2f, hold %s)\n",
		rp.Len(), sym, t.ThresholdPct, t.VolumeMult, t.Hold())

	var seen, triggers int
	for tk := range tickCh {
		if tk.Symbol != sym || !tk.Valid() {
			continue
		}
		seen++
		if ctrl.Poll(tk.TickTS) == mode.Reverted {
			fmt.Printf("%s  MODE     NORMAL\n", tk.TickTS.UTC().Format("15:04:05.000"))
		}
		trg, ok := det.Observe(tk)
		if !ok {
			continue
		}
		triggers++
		trg.ID = logger.GenerateTriggerID(sym, trg.At)
		tr := ctrl.Enter(trg.At, trg.Reason())
		st := ctrl.State()
		fmt.Printf("%s  TRIGGER  %s @ %.4f  [%s, until %s]  %s\n",
			trg.At.UTC().Format("15:04:05.000"), trg.Reason(), trg.Price, tr, st.EventExpiry.UTC().Format("15:04:05"), trg.ID)
	}

	st := ctrl.State()
	fmt.Printf("done: %d ticks, %d triggers, %d suppressed by cooldown, final mode %s\n",
		seen, triggers, suppressed, st.Current)
}
