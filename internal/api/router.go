// Package api exposes the regime engine over HTTP: snapshots, operator
// commands, tunables, history and a WebSocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"regime-engine/config"
	"regime-engine/internal/engine"
	"regime-engine/internal/model"
	"regime-engine/internal/store/sqlite"
)

// Engine is the subset of engine.Service the API drives.
type Engine interface {
	Snapshot() engine.Snapshot
	ManualTrigger(ctx context.Context) (model.Trigger, error)
	SwitchInstrument(ctx context.Context, symbol, interval string) error
	Refresh(ctx context.Context) error
	Clear(ctx context.Context) error
	UpdateSettings(ctx context.Context, st engine.Settings) error
	Settings(ctx context.Context) (engine.Settings, error)
}

// TriggerJournal reads journaled triggers.
type TriggerJournal interface {
	RecentTriggers(symbol string, limit int) ([]sqlite.TriggerRecord, error)
}

// EventLog reads the recent outbound event stream.
type EventLog interface {
	Recent(ctx context.Context, symbol string, n int64) ([]model.Event, error)
}

// Deps are the collaborators behind the routes. Journal, Events and Hub
// are optional; their routes answer 503 when unset.
type Deps struct {
	Engine     Engine
	Journal    TriggerJournal
	Events     EventLog
	Hub        *Hub
	TOTPSecret string // guards POST /api/v1/trigger when set
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-TOTP")
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Engine.Snapshot())
	})

	mux.HandleFunc("POST /api/v1/trigger", func(w http.ResponseWriter, r *http.Request) {
		if d.TOTPSecret != "" && !totp.Validate(strings.TrimSpace(r.Header.Get("X-TOTP")), d.TOTPSecret) {
			writeError(w, http.StatusUnauthorized, "invalid or missing TOTP code")
			return
		}
		trg, err := d.Engine.ManualTrigger(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		log.Printf("[api] manual trigger %s accepted", trg.ID)
		writeJSON(w, http.StatusOK, trg)
	})

	mux.HandleFunc("POST /api/v1/instrument", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Symbol   string `json:"symbol"`
			Interval string `json:"interval"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if err := d.Engine.SwitchInstrument(r.Context(), req.Symbol, req.Interval); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, d.Engine.Snapshot())
	})

	mux.HandleFunc("POST /api/v1/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Engine.Refresh(r.Context()); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
	})

	mux.HandleFunc("POST /api/v1/clear", func(w http.ResponseWriter, r *http.Request) {
		if err := d.Engine.Clear(r.Context()); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Engine.Settings(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, config.TunablesFrom(st))
	})

	// Partial bodies update only the named fields; everything is clamped.
	mux.HandleFunc("POST /api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		st, err := d.Engine.Settings(r.Context())
		if err != nil {
			writeEngineError(w, err)
			return
		}
		t := config.TunablesFrom(st)
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		t = t.Clamp()
		if err := d.Engine.UpdateSettings(r.Context(), t.Settings()); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	})

	mux.HandleFunc("GET /api/v1/triggers", func(w http.ResponseWriter, r *http.Request) {
		if d.Journal == nil {
			writeError(w, http.StatusServiceUnavailable, "journal not configured")
			return
		}
		recs, err := d.Journal.RecentTriggers(symbolParam(r, d.Engine), limitParam(r))
		if err != nil {
			log.Printf("[api] triggers query: %v", err)
			writeError(w, http.StatusInternalServerError, "journal read failed")
			return
		}
		if recs == nil {
			recs = []sqlite.TriggerRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	})

	mux.HandleFunc("GET /api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		if d.Events == nil {
			writeError(w, http.StatusServiceUnavailable, "event log not configured")
			return
		}
		evs, err := d.Events.Recent(r.Context(), symbolParam(r, d.Engine), int64(limitParam(r)))
		if err != nil {
			log.Printf("[api] events query: %v", err)
			writeError(w, http.StatusBadGateway, "event log read failed")
			return
		}
		if evs == nil {
			evs = []model.Event{}
		}
		writeJSON(w, http.StatusOK, evs)
	})

	mux.HandleFunc("GET /api/v1/stream", func(w http.ResponseWriter, r *http.Request) {
		if d.Hub == nil {
			writeError(w, http.StatusServiceUnavailable, "stream not configured")
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[api] ws upgrade error: %v", err)
			return
		}
		d.Hub.HandleWS(conn)
	})

	return mux
}

// WithCORS wraps h with CORS headers and answers preflight requests.
func WithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func symbolParam(r *http.Request, e Engine) string {
	if s := strings.TrimSpace(r.URL.Query().Get("symbol")); s != "" {
		return strings.ToUpper(s)
	}
	return e.Snapshot().Symbol
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultHistoryLimit
	}
	if n > maxHistoryLimit {
		return maxHistoryLimit
	}
	return n
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrEmptySymbol):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
