package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"regime-engine/internal/model"
)

// Reader provides read-only access to the journal.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath, 2)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// TriggerRecord is a journaled trigger joined with its decision, if any.
type TriggerRecord struct {
	Trigger  model.Trigger   `json:"trigger"`
	Reason   string          `json:"reason"`
	Decision *model.Decision `json:"decision,omitempty"`
}

// RecentTriggers returns up to limit triggers for symbol, newest first.
func (r *Reader) RecentTriggers(symbol string, limit int) ([]TriggerRecord, error) {
	rows, err := r.db.Query(`
		SELECT t.id, t.symbol, t.direction, t.pct, t.vol_ratio, t.price, t.manual, t.reason, t.ts,
		       d.live_price, d.trend_ok, d.trend_known, d.recommendation, d.detail, d.ts
		FROM triggers t
		LEFT JOIN decisions d ON d.trigger_id = t.id
		WHERE t.symbol = ?
		ORDER BY t.ts DESC
		LIMIT ?
	`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query triggers: %w", err)
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var (
			rec                 TriggerRecord
			dir                 string
			manual              int
			ts                  int64
			livePrice           sql.NullFloat64
			trendOk, trendKnown sql.NullInt64
			rec2, detail        sql.NullString
			dts                 sql.NullInt64
		)
		t := &rec.Trigger
		if err := rows.Scan(&t.ID, &t.Symbol, &dir, &t.PercentChange, &t.VolumeRatio, &t.Price, &manual, &rec.Reason, &ts,
			&livePrice, &trendOk, &trendKnown, &rec2, &detail, &dts); err != nil {
			return nil, fmt.Errorf("sqlite scan triggers: %w", err)
		}
		t.Direction = model.Direction(dir)
		t.Manual = manual != 0
		t.At = time.UnixMilli(ts).UTC()
		if rec2.Valid {
			rec.Decision = &model.Decision{
				TriggerID:      t.ID,
				Symbol:         t.Symbol,
				Direction:      t.Direction,
				LivePrice:      livePrice.Float64,
				TrendOk:        trendOk.Int64 != 0,
				TrendKnown:     trendKnown.Int64 != 0,
				Recommendation: rec2.String,
				Detail:         detail.String,
				At:             time.UnixMilli(dts.Int64).UTC(),
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestSignals returns the newest journaled signal log for symbol.
// Returns nil, "" with no error when nothing has been stored.
func (r *Reader) LatestSignals(symbol string) ([]model.SignalEvent, model.ProfileName, error) {
	var data, profile string
	err := r.db.QueryRow(`
		SELECT data, profile FROM signal_logs
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT 1
	`, symbol).Scan(&data, &profile)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("sqlite read signal log: %w", err)
	}
	var events []model.SignalEvent
	if err := json.Unmarshal([]byte(data), &events); err != nil {
		return nil, "", fmt.Errorf("unmarshal signal log: %w", err)
	}
	return events, model.ProfileName(profile), nil
}

// ModeChangeCount returns how many mode transitions were journaled for symbol.
func (r *Reader) ModeChangeCount(symbol string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM mode_changes WHERE symbol = ?`, symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count mode_changes: %w", err)
	}
	return n, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
