package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regime-engine/internal/model"
)

// Metrics holds all Prometheus metrics for the regime engine.
type Metrics struct {
	TicksTotal   prometheus.Counter
	DroppedTicks prometheus.Counter
	WSReconnects prometheus.Counter

	// Detector + mode controller
	TriggersTotal   *prometheus.CounterVec // labels: direction, manual
	SuppressedTotal prometheus.Counter
	ModeState       prometheus.Gauge       // 0=NORMAL, 1=EVENT
	ModeChanges     *prometheus.CounterVec // labels: mode
	DecisionsTotal  *prometheus.CounterVec // labels: recommendation

	// Candle fetch path
	FetchErrors  prometheus.Counter
	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	StaleResults prometheus.Counter
	BreakerState *prometheus.GaugeVec // labels: name; 0=closed, 1=open, 2=half-open

	// Event fan-out
	EventDrops           prometheus.Counter
	FanoutDropsTotal     *prometheus.CounterVec // labels: subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Sinks
	RedisBufferedWrites prometheus.Counter
	RedisPublishErrors  prometheus.Counter
	SQLiteCommitDur     prometheus.Histogram
	NotifyErrors        prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics on reg
// (the default registerer when nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_ticks_total",
			Help: "Total trade ticks received from the live stream",
		}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_dropped_ticks_total",
			Help: "Ticks dropped because the engine channel was full",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_ws_reconnects_total",
			Help: "Total trade stream reconnection attempts",
		}),

		TriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regime_triggers_total",
			Help: "Accepted impulse triggers",
		}, []string{"direction", "manual"}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_triggers_suppressed_total",
			Help: "Impulses that met thresholds but fell inside the cooldown",
		}),
		ModeState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "regime_mode",
			Help: "Current regime (0=NORMAL, 1=EVENT)",
		}),
		ModeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regime_mode_changes_total",
			Help: "Mode transitions by resulting mode",
		}, []string{"mode"}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regime_decisions_total",
			Help: "Instant decisions by recommendation",
		}, []string{"recommendation"}),

		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_fetch_errors_total",
			Help: "Historical candle fetch failures",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_candle_cache_hits_total",
			Help: "Candle requests served from cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_candle_cache_misses_total",
			Help: "Candle requests that reached the provider",
		}),
		StaleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_stale_results_total",
			Help: "Async results discarded after an instrument switch",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regime_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),

		EventDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_event_drops_total",
			Help: "Engine events dropped because the outbound channel was full",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regime_fanout_drops_total",
			Help: "Events dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regime_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_redis_buffered_writes_total",
			Help: "Events buffered locally while the Redis breaker was open",
		}),
		RedisPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_redis_publish_errors_total",
			Help: "Redis publish failures",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regime_sqlite_commit_duration_seconds",
			Help:    "SQLite journal batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regime_notify_errors_total",
			Help: "Alert delivery failures",
		}),
	}

	reg.MustRegister(
		m.TicksTotal,
		m.DroppedTicks,
		m.WSReconnects,
		m.TriggersTotal,
		m.SuppressedTotal,
		m.ModeState,
		m.ModeChanges,
		m.DecisionsTotal,
		m.FetchErrors,
		m.CacheHits,
		m.CacheMisses,
		m.StaleResults,
		m.BreakerState,
		m.EventDrops,
		m.FanoutDropsTotal,
		m.ChannelSaturationPct,
		m.RedisBufferedWrites,
		m.RedisPublishErrors,
		m.SQLiteCommitDur,
		m.NotifyErrors,
	)

	return m
}

// ObserveTrigger counts an accepted trigger.
func (m *Metrics) ObserveTrigger(t model.Trigger) {
	manual := "false"
	if t.Manual {
		manual = "true"
	}
	m.TriggersTotal.WithLabelValues(string(t.Direction), manual).Inc()
}

// ObserveMode records a mode transition.
func (m *Metrics) ObserveMode(st model.ModeState) {
	if st.Current == model.ModeEvent {
		m.ModeState.Set(1)
	} else {
		m.ModeState.Set(0)
	}
	m.ModeChanges.WithLabelValues(string(st.Current)).Inc()
}

// SetBreakerState maps a gobreaker state name onto the gauge.
func (m *Metrics) SetBreakerState(name, state string) {
	var v float64
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 2
	}
	m.BreakerState.WithLabelValues(name).Set(v)
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol         string    `json:"symbol"`
	Interval       string    `json:"interval"`
	WSConnected    bool      `json:"ws_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	DataStale      bool      `json:"data_stale"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetInstrument(symbol, interval string) {
	h.mu.Lock()
	h.Symbol = symbol
	h.Interval = interval
	h.mu.Unlock()
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetDataStale(v bool) {
	h.mu.Lock()
	h.DataStale = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// The engine keeps deciding without sinks; only the stream and data matter.
	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.WSConnected || h.DataStale {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.WSConnected && h.DataStale {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		Symbol          string  `json:"symbol"`
		Interval        string  `json:"interval"`
		WSConnected     bool    `json:"ws_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		DataStale       bool    `json:"data_stale"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		Symbol:          h.Symbol,
		Interval:        h.Interval,
		WSConnected:     h.WSConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		DataStale:       h.DataStale,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
