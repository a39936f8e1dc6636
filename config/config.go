package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"regime-engine/internal/engine"
	"regime-engine/internal/impulse"
	"regime-engine/internal/mode"
	"regime-engine/internal/model"
	"regime-engine/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Symbol      string
	Interval    string
	CandleLimit int

	Tunables Tunables

	RefreshInterval time.Duration
	PollInterval    time.Duration
	CacheTTL        time.Duration

	// Market data provider
	BinanceRESTURL string
	BinanceWSURL   string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string

	// Guards POST /api/v1/trigger when set.
	AdminTOTPSecret string

	// Alerts
	WebhookURL       string
	WebhookSecret    string
	TelegramBotToken string
	TelegramChatID   string

	// Optional JSONL tick recording of the live stream.
	RecordPath string

	LogLevel string
}

// Tunables are the operator-facing thresholds. Percent fields are in percent
// units (0.9 == 0.9%), exactly as entered.
type Tunables struct {
	NormalStopLossPct float64 `json:"sl_normal_pct"`
	NormalTrailPct    float64 `json:"trail_normal_pct"`
	EventStopLossPct  float64 `json:"sl_event_pct"`
	EventTrailPct     float64 `json:"trail_event_pct"`
	ThresholdPct      float64 `json:"event_threshold_pct"`
	VolumeMult        float64 `json:"event_vol_mult"`
	HoldMinutes       float64 `json:"event_hold_min"`
	DetectorEnabled   bool    `json:"detector_enabled"`
}

// DefaultTunables returns the stock dashboard values.
func DefaultTunables() Tunables {
	return Tunables{
		NormalStopLossPct: 0.9,
		NormalTrailPct:    1.6,
		EventStopLossPct:  2.8,
		EventTrailPct:     6.5,
		ThresholdPct:      0.9,
		VolumeMult:        2.2,
		HoldMinutes:       12,
		DetectorEnabled:   true,
	}
}

// Clamp forces every value into its allowed range. Non-finite values fall
// back to the default for that field.
func (t Tunables) Clamp() Tunables {
	d := DefaultTunables()
	t.NormalStopLossPct = clamp(t.NormalStopLossPct, d.NormalStopLossPct, 0.1, 30)
	t.NormalTrailPct = clamp(t.NormalTrailPct, d.NormalTrailPct, 0.1, 50)
	t.EventStopLossPct = clamp(t.EventStopLossPct, d.EventStopLossPct, 0.2, 50)
	t.EventTrailPct = clamp(t.EventTrailPct, d.EventTrailPct, 0.2, 80)
	t.ThresholdPct = clamp(t.ThresholdPct, d.ThresholdPct, 0.2, 20)
	t.VolumeMult = clamp(t.VolumeMult, d.VolumeMult, 1, 20)
	t.HoldMinutes = clamp(t.HoldMinutes, d.HoldMinutes, 1, 120)
	return t
}

// Profiles converts the percent inputs into the two strategy profiles.
func (t Tunables) Profiles() model.Profiles {
	c := t.Clamp()
	return strategy.BuildProfiles(strategy.RiskParams{
		NormalStopLoss: c.NormalStopLossPct / 100,
		NormalTrail:    c.NormalTrailPct / 100,
		EventStopLoss:  c.EventStopLossPct / 100,
		EventTrail:     c.EventTrailPct / 100,
	})
}

// DetectorConfig builds the impulse detector settings.
func (t Tunables) DetectorConfig() impulse.Config {
	c := t.Clamp()
	cfg := impulse.DefaultConfig()
	cfg.Enabled = c.DetectorEnabled
	cfg.ThresholdPct = c.ThresholdPct
	cfg.VolumeMult = c.VolumeMult
	return cfg
}

// Hold returns the EVENT hold duration.
func (t Tunables) Hold() time.Duration {
	return time.Duration(t.Clamp().HoldMinutes * float64(time.Minute))
}

// Settings converts to the engine's live-update form.
func (t Tunables) Settings() engine.Settings {
	return engine.Settings{
		Profiles: t.Profiles(),
		Detector: t.DetectorConfig(),
		Hold:     t.Hold(),
	}
}

// TunablesFrom reads the engine's active settings back into percent units.
func TunablesFrom(s engine.Settings) Tunables {
	return Tunables{
		NormalStopLossPct: s.Profiles.Normal.StopLossPct * 100,
		NormalTrailPct:    s.Profiles.Normal.TrailDrawdownPct * 100,
		EventStopLossPct:  s.Profiles.Event.StopLossPct * 100,
		EventTrailPct:     s.Profiles.Event.TrailDrawdownPct * 100,
		ThresholdPct:      s.Detector.ThresholdPct,
		VolumeMult:        s.Detector.VolumeMult,
		HoldMinutes:       s.Hold.Minutes(),
		DetectorEnabled:   s.Detector.Enabled,
	}
}

// Load reads configuration from environment variables with sensible defaults.
// Numeric inputs are clamped, never rejected.
func Load() *Config {
	d := DefaultTunables()
	return &Config{
		Symbol:      strings.ToUpper(getEnv("SYMBOL", "BTCUSDT")),
		Interval:    getEnv("INTERVAL", "1h"),
		CandleLimit: int(clamp(getFloat("CANDLE_LIMIT", 900), 900, 50, 1000)),

		Tunables: Tunables{
			NormalStopLossPct: getFloat("SL_NORMAL_PCT", d.NormalStopLossPct),
			NormalTrailPct:    getFloat("TRAIL_NORMAL_PCT", d.NormalTrailPct),
			EventStopLossPct:  getFloat("SL_EVENT_PCT", d.EventStopLossPct),
			EventTrailPct:     getFloat("TRAIL_EVENT_PCT", d.EventTrailPct),
			ThresholdPct:      getFloat("EVENT_THRESHOLD_PCT", d.ThresholdPct),
			VolumeMult:        getFloat("EVENT_VOL_MULT", d.VolumeMult),
			HoldMinutes:       getFloat("EVENT_HOLD_MIN", d.HoldMinutes),
			DetectorEnabled:   getBool("DETECTOR_ENABLED", true),
		}.Clamp(),

		RefreshInterval: time.Duration(clamp(getFloat("REFRESH_INTERVAL_SEC", 60), 60, 5, 3600)) * time.Second,
		PollInterval:    time.Duration(clamp(getFloat("POLL_INTERVAL_MS", 1000), 1000, 100, 10000)) * time.Millisecond,
		CacheTTL:        time.Duration(clamp(getFloat("CACHE_TTL_SEC", 12), 12, 1, 300)) * time.Second,

		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443/ws"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/regime.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),

		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		RecordPath: getEnv("RECORD_PATH", ""),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}
}

// Profiles returns the NORMAL and EVENT strategy profiles.
func (c *Config) Profiles() model.Profiles { return c.Tunables.Profiles() }

// DetectorConfig returns the impulse detector settings.
func (c *Config) DetectorConfig() impulse.Config { return c.Tunables.DetectorConfig() }

// ModeConfig returns the mode controller settings.
func (c *Config) ModeConfig() mode.Config { return mode.Config{Hold: c.Tunables.Hold()} }

// EngineConfig assembles the engine settings.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Symbol = c.Symbol
	cfg.Interval = c.Interval
	cfg.CandleLimit = c.CandleLimit
	cfg.Profiles = c.Profiles()
	cfg.Detector = c.DetectorConfig()
	cfg.Mode = c.ModeConfig()
	cfg.PollInterval = c.PollInterval
	cfg.RefreshInterval = c.RefreshInterval
	return cfg
}

func clamp(v, fallback, lo, hi float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = fallback
	}
	return math.Min(hi, math.Max(lo, v))
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}
