// cmd/regimed runs the regime engine against the live Binance trade stream,
// publishing snapshots and events to Redis, journaling to SQLite and
// serving the operator API.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"regime-engine/config"
	"regime-engine/internal/api"
	"regime-engine/internal/clock"
	"regime-engine/internal/engine"
	"regime-engine/internal/logger"
	"regime-engine/internal/marketdata/binance"
	"regime-engine/internal/marketdata/bus"
	"regime-engine/internal/marketdata/candlecache"
	"regime-engine/internal/marketdata/replay"
	"regime-engine/internal/metrics"
	"regime-engine/internal/model"
	"regime-engine/internal/notification"
	redisstore "regime-engine/internal/store/redis"
	sqlitestore "regime-engine/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	cfg := config.Load()
	lg := logger.Init("regimed", logger.ParseLevel(cfg.LogLevel))
	lg.Info("starting", "symbol", cfg.Symbol, "interval", cfg.Interval)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus()
	health.SetInstrument(cfg.Symbol, cfg.Interval)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Candle source: REST client behind a TTL cache ----
	rest := binance.NewClient(binance.ClientConfig{
		BaseURL: cfg.BinanceRESTURL,
		OnStateChange: func(from, to string) {
			prom.SetBreakerState("binance", to)
		},
	})
	prom.SetBreakerState("binance", rest.BreakerState())
	cache := candlecache.New(rest, cfg.CacheTTL, clock.System{})
	cache.OnHit = prom.CacheHits.Inc
	cache.OnMiss = prom.CacheMisses.Inc

	// ---- Engine ----
	svc := engine.New(cfg.EngineConfig(), cache, clock.System{}, lg)
	svc.OnTick = prom.TicksTotal.Inc
	svc.OnTrigger = prom.ObserveTrigger
	svc.OnModeChange = prom.ObserveMode
	svc.OnDecision = func(d model.Decision) {
		prom.DecisionsTotal.WithLabelValues(d.Recommendation).Inc()
	}
	svc.OnFetchError = func(err error) {
		prom.FetchErrors.Inc()
		health.SetDataStale(true)
	}
	svc.OnEventDrop = func(model.Event) { prom.EventDrops.Inc() }
	svc.OnStaleResult = prom.StaleResults.Inc
	svc.OnSuppressed = prom.SuppressedTotal.Inc

	// ---- SQLite journal ----
	journal, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[regimed] sqlite init failed: %v", err)
	}
	defer journal.Close()
	journal.OnCommit = func(n int, took time.Duration) {
		prom.SQLiteCommitDur.Observe(took.Seconds())
	}
	journalReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[regimed] sqlite reader init failed: %v", err)
	}
	defer journalReader.Close()
	health.SetSQLiteOK(true)

	// ---- Redis publisher (optional) ----
	publisher, err := redisstore.New(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[regimed] WARNING: redis init failed: %v (continuing without redis)", err)
		publisher = nil
	} else {
		health.SetRedisConnected(true)
		publisher.OnError = prom.RedisPublishErrors.Inc
		publisher.OnBuffer = prom.RedisBufferedWrites.Inc
		publisher.OnStateChange = func(from, to string) {
			prom.SetBreakerState("redis", to)
		}
	}
	if publisher != nil {
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journal.DB(), 10*time.Second)
	}

	// ---- Alerts ----
	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL).WithSecret(cfg.WebhookSecret))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	dispatcher := notification.NewDispatcher(notifiers...)
	dispatcher.OnError = func(error) { prom.NotifyErrors.Inc() }

	// ---- Fan-out of engine events ----
	hub := api.NewHub()
	fanout := bus.New(1024)
	fanout.OnDrop = func(name string) {
		prom.FanoutDropsTotal.WithLabelValues(name).Inc()
	}
	journalCh := fanout.Subscribe("sqlite")
	alertCh := fanout.Subscribe("notify")
	hubCh := fanout.Subscribe("ws")
	var redisCh <-chan model.Event
	if publisher != nil {
		redisCh = fanout.Subscribe("redis")
	}

	go journal.Run(ctx, journalCh)
	go dispatcher.Run(ctx, alertCh)
	go hub.Run(ctx, hubCh)
	if redisCh != nil {
		go publisher.Run(ctx, redisCh)
	}
	go fanout.Run(ctx, svc.Events())
	go reportSaturation(ctx, fanout, prom)

	// ---- Live trade stream, restarted on instrument switch ----
	rawTicks := make(chan model.Tick, 4096)
	engineTicks := make(chan model.Tick, 4096)
	stream := binance.NewStream(binance.StreamConfig{BaseURL: cfg.BinanceWSURL})
	stream.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	stream.OnDrop = prom.DroppedTicks.Inc

	switchCh := make(chan string, 1)
	streamSymbol := cfg.Symbol
	svc.OnInstrumentChange = func(symbol, interval string) {
		health.SetInstrument(symbol, interval)
		if symbol == streamSymbol {
			return // interval-only change, the trade stream stays up
		}
		cache.Invalidate(streamSymbol)
		streamSymbol = symbol
		select {
		case <-switchCh:
		default:
		}
		switchCh <- symbol
	}
	go superviseStream(ctx, stream, cfg.Symbol, switchCh, rawTicks, health)

	var recorder *replay.Recorder
	if cfg.RecordPath != "" {
		recorder, err = replay.NewRecorder(cfg.RecordPath)
		if err != nil {
			log.Fatalf("[regimed] recorder init failed: %v", err)
		}
		log.Printf("[regimed] recording ticks to %s", cfg.RecordPath)
	}
	fwdDone := make(chan struct{})
	go func() {
		forwardTicks(ctx, rawTicks, engineTicks, recorder, health, prom)
		close(fwdDone)
	}()

	go watchSnapshots(ctx, svc, publisher, health)

	// ---- Operator API ----
	deps := api.Deps{
		Engine:     svc,
		Journal:    journalReader,
		Hub:        hub,
		TOTPSecret: cfg.AdminTOTPSecret,
	}
	if publisher != nil {
		deps.Events = publisher
	}
	if cfg.AdminTOTPSecret == "" {
		log.Println("[regimed] WARNING: ADMIN_TOTP_SECRET not set, manual trigger is unguarded")
	}
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.WithCORS(api.NewRouter(deps))}
	go func() {
		log.Printf("[regimed] api listening on %s", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[regimed] api server error: %v", err)
		}
	}()

	engineDone := make(chan error, 1)
	go func() { engineDone <- svc.Run(ctx, engineTicks) }()

	select {
	case <-sigCh:
		log.Println("[regimed] shutdown signal received, cleaning up...")
	case err := <-engineDone:
		log.Printf("[regimed] engine stopped: %v", err)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	apiSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)
	<-fwdDone

	if publisher != nil {
		publisher.Close()
	}
	log.Println("[regimed] shutdown complete.")
}

// superviseStream keeps exactly one trade stream running for the engine's
// current symbol, replacing it whenever a new symbol arrives on switchCh.
func superviseStream(ctx context.Context, stream *binance.Stream, symbol string, switchCh <-chan string, out chan<- model.Tick, health *metrics.HealthStatus) {
	for {
		streamCtx, stop := context.WithCancel(ctx)
		done := make(chan struct{})
		go func(sym string) {
			defer close(done)
			health.SetWSConnected(true)
			if err := stream.Start(streamCtx, sym, out); err != nil {
				log.Printf("[regimed] %s stream error: %v", sym, err)
			}
		}(symbol)

		select {
		case <-ctx.Done():
			stop()
			<-done
			return
		case symbol = <-switchCh:
			stop()
			<-done
			log.Printf("[regimed] stream switching to %s", symbol)
		}
	}
}

// forwardTicks hands stream ticks to the engine, optionally recording them.
// It owns rec and closes it on return.
func forwardTicks(ctx context.Context, in <-chan model.Tick, out chan<- model.Tick, rec *replay.Recorder, health *metrics.HealthStatus, prom *metrics.Metrics) {
	flush := time.NewTicker(time.Second)
	defer flush.Stop()
	for {
		select {
		case <-ctx.Done():
			if rec != nil {
				if err := rec.Close(); err != nil {
					log.Printf("[regimed] recorder close: %v", err)
				}
			}
			return
		case <-flush.C:
			if rec != nil {
				if err := rec.Flush(); err != nil {
					log.Printf("[regimed] recorder flush: %v", err)
				}
			}
		case t := <-in:
			health.SetLastTickTime(time.Now())
			health.SetWSConnected(true)
			if rec != nil {
				if err := rec.Write(t); err != nil {
					log.Printf("[regimed] recorder write: %v", err)
				}
			}
			select {
			case out <- t:
			default:
				prom.DroppedTicks.Inc()
			}
		}
	}
}

// watchSnapshots mirrors data staleness into /healthz and, with Redis
// configured, publishes each changed snapshot.
func watchSnapshots(ctx context.Context, svc *engine.Service, pub *redisstore.Publisher, health *metrics.HealthStatus) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := svc.Snapshot()
			health.SetDataStale(snap.DataStale)
			if pub == nil || snap.UpdatedAt.Equal(last) {
				continue
			}
			last = snap.UpdatedAt
			if err := pub.PublishSnapshot(ctx, snap.Symbol, snap); err != nil {
				log.Printf("[regimed] snapshot publish: %v", err)
			}
		}
	}
}

func reportSaturation(ctx context.Context, fanout *bus.FanOut, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					name := s.Name
					if name == "" {
						name = "fanout_" + strconv.Itoa(i)
					}
					prom.ChannelSaturationPct.WithLabelValues(name).Set(pct)
				}
			}
		}
	}
}
