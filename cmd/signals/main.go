// cmd/signals fetches candles once, runs the signal generator under one
// profile and prints the resulting log.
//
// Usage:
//
//	go run ./cmd/signals --symbol=BTCUSDT --interval=1h --profile=event
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"regime-engine/config"
	"regime-engine/internal/engine"
	"regime-engine/internal/marketdata/binance"
	"regime-engine/internal/model"
	"regime-engine/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()

	symbol := flag.String("symbol", cfg.Symbol, "Instrument symbol")
	interval := flag.String("interval", cfg.Interval, "Candle interval (1m, 5m, 15m, 1h, 4h, 1d)")
	limit := flag.Int("limit", cfg.CandleLimit, "Number of candles to fetch")
	profileName := flag.String("profile", "normal", "Strategy profile: normal or event")
	asJSON := flag.Bool("json", false, "Print the log as JSON")
	flag.Parse()

	profiles := cfg.Profiles()
	profile := profiles.Normal
	switch strings.ToLower(*profileName) {
	case "normal":
	case "event":
		profile = profiles.Event
	default:
		log.Fatalf("[signals] unknown profile %q", *profileName)
	}
	sym := strings.ToUpper(*symbol)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := binance.NewClient(binance.ClientConfig{BaseURL: cfg.BinanceRESTURL})
	candles, err := client.FetchCandles(ctx, sym, *interval, *limit)
	if err != nil {
		log.Fatalf("[signals] fetch failed: %v", err)
	}

	higher := model.TrendUnknown
	if profile.EnableMTF {
		if hi, ok := binance.HigherInterval(*interval); ok {
			htf, err := client.FetchCandles(ctx, sym, hi, engine.DefaultHigherLimit)
			if err != nil {
				log.Printf("[signals] higher-timeframe %s unavailable: %v", hi, err)
			} else {
				higher = strategy.TrendOf(htf, profile.EMATrendPeriod)
			}
		}
	}

	res := strategy.Run(candles, profile, higher)
	sum := strategy.Summarize(candles, res, profile, higher)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(map[string]interface{}{
			"symbol":        sym,
			"interval":      *interval,
			"profile":       profile.Name,
			"events":        res.Events,
			"summary":       sum,
			"last_decision": model.LastDecision(res.Events),
		})
		return
	}

	fmt.Printf("%s %s  profile=%s  bars=%d  HTF=%s\n", sym, *interval, profile.Name, len(candles), higher)
	for _, ev := range res.Events {
		reason := ""
		if ev.Reason != "" {
			reason = " (" + ev.Reason + ")"
		}
		fmt.Printf("  %s  %-13s %12.4f%s\n", time.Unix(ev.Time, 0).UTC().Format("2006-01-02 15:04"), ev.Type, ev.Price, reason)
	}
	fmt.Printf("last=%.4f  %s\n", sum.LastPrice, sum.Detail)
	fmt.Printf("last decision: %s\n", model.LastDecision(res.Events))
}
