// Package sqlite journals the engine's triggers, decisions, mode changes and
// signal logs to a local SQLite database for later inspection.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"regime-engine/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/regime.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB

	// OnCommit is called after each committed batch (for metrics).
	OnCommit func(n int, took time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

func open(path string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	db, err := open(cfg.DBPath, 1)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS triggers (
			id          TEXT    PRIMARY KEY,
			symbol      TEXT    NOT NULL,
			direction   TEXT    NOT NULL,
			pct         REAL    NOT NULL,
			vol_ratio   REAL    NOT NULL,
			price       REAL    NOT NULL,
			manual      INTEGER NOT NULL,
			reason      TEXT    NOT NULL,
			ts          INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_triggers_symbol_ts ON triggers (symbol, ts);

		CREATE TABLE IF NOT EXISTS decisions (
			trigger_id     TEXT    PRIMARY KEY,
			symbol         TEXT    NOT NULL,
			direction      TEXT    NOT NULL,
			live_price     REAL    NOT NULL,
			trend_ok       INTEGER NOT NULL,
			trend_known    INTEGER NOT NULL,
			recommendation TEXT    NOT NULL,
			detail         TEXT    NOT NULL,
			ts             INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS mode_changes (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT    NOT NULL,
			mode      TEXT    NOT NULL,
			expiry    INTEGER,
			reason    TEXT    NOT NULL,
			ts        INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS signal_logs (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			profile    TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			ts         INTEGER NOT NULL
		);
	`)
	return err
}

// Run reads engine events from ch and inserts them in batched transactions.
// Flushes every batchSize events OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or ch is closed.
func (w *Writer) Run(ctx context.Context, ch <-chan model.Event) {
	batch := make([]model.Event, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.WriteBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		} else if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case ev, ok := <-ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// WriteBatch journals events in a single transaction. ERROR events are not stored.
func (w *Writer) WriteBatch(events []model.Event) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}
	for i := range events {
		if err := insertEvent(tx, &events[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("%s event: %w", events[i].Kind, err)
		}
	}
	return tx.Commit()
}

func insertEvent(tx *sql.Tx, ev *model.Event) error {
	switch ev.Kind {
	case model.EventTrigger:
		if ev.Trigger == nil {
			return nil
		}
		t := ev.Trigger
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO triggers (id, symbol, direction, pct, vol_ratio, price, manual, reason, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, t.ID, t.Symbol, string(t.Direction), t.PercentChange, t.VolumeRatio, t.Price, boolInt(t.Manual), t.Reason(), t.At.UnixMilli())
		return err

	case model.EventDecision:
		if ev.Decision == nil {
			return nil
		}
		d := ev.Decision
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO decisions (trigger_id, symbol, direction, live_price, trend_ok, trend_known, recommendation, detail, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.TriggerID, d.Symbol, string(d.Direction), d.LivePrice, boolInt(d.TrendOk), boolInt(d.TrendKnown), d.Recommendation, d.Detail, d.At.UnixMilli())
		return err

	case model.EventMode:
		var expiry sql.NullInt64
		if !ev.Mode.EventExpiry.IsZero() {
			expiry = sql.NullInt64{Int64: ev.Mode.EventExpiry.UnixMilli(), Valid: true}
		}
		_, err := tx.Exec(`
			INSERT INTO mode_changes (symbol, mode, expiry, reason, ts) VALUES (?, ?, ?, ?, ?)
		`, ev.Symbol, string(ev.Mode.Current), expiry, ev.Mode.LastTriggerReason, ev.At.UnixMilli())
		return err

	case model.EventSignals:
		data, err := json.Marshal(ev.Signals)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO signal_logs (symbol, interval, profile, data, ts) VALUES (?, ?, ?, ?, ?)
		`, ev.Symbol, ev.Interval, string(ev.Profile), string(data), ev.At.UnixMilli())
		return err
	}
	return nil
}

// Prune deletes signal logs beyond the newest keep per symbol.
func (w *Writer) Prune(keep int) error {
	_, err := w.db.Exec(`
		DELETE FROM signal_logs WHERE id NOT IN (
			SELECT id FROM signal_logs s2
			WHERE s2.symbol = signal_logs.symbol
			ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("sqlite prune signal_logs: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
