// Package replay records live ticks to a JSONL file and plays a recording
// back at configurable speed, so impulse scenarios can be reproduced offline.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"regime-engine/internal/model"
)

// maxGap caps a single scaled sleep between ticks.
const maxGap = 5 * time.Second

// Load reads one JSON-encoded model.Tick per line. Blank lines are skipped;
// a malformed line is an error naming its line number.
func Load(r io.Reader) ([]model.Tick, error) {
	var ticks []model.Tick
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var t model.Tick
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		ticks = append(ticks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}
	return ticks, nil
}

// LoadFile is Load on a file path.
func LoadFile(path string) ([]model.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Replayer emits a recorded tick sequence in timestamp order.
type Replayer struct {
	ticks []model.Tick
}

// New creates a Replayer. Ticks are stably sorted by TickTS.
func New(ticks []model.Tick) *Replayer {
	sorted := make([]model.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TickTS.Before(sorted[j].TickTS) })
	return &Replayer{ticks: sorted}
}

// Len returns the number of ticks in the recording.
func (r *Replayer) Len() int { return len(r.ticks) }

// Run replays all ticks into outCh.
// speed controls the playback rate: 1.0 = real-time, 10.0 = 10x, 0 = as fast as possible.
func (r *Replayer) Run(ctx context.Context, speed float64, outCh chan<- model.Tick) error {
	if len(r.ticks) == 0 {
		log.Println("[replay] recording is empty")
		return nil
	}
	log.Printf("[replay] replaying %d ticks, speed=%.1fx", len(r.ticks), speed)

	var prevTS time.Time
	emitted := 0

	for _, t := range r.ticks {
		select {
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d ticks", emitted)
			return ctx.Err()
		default:
		}

		if speed > 0 && !prevTS.IsZero() {
			if gap := t.TickTS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > maxGap {
					scaled = maxGap
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		prevTS = t.TickTS

		select {
		case outCh <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
		emitted++
	}

	log.Printf("[replay] completed: %d ticks replayed", emitted)
	return nil
}

// Recorder appends ticks to a JSONL writer. Safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	w   *bufio.Writer
	c   io.Closer
	enc *json.Encoder
}

// NewRecorder creates a Recorder appending to path.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("replay: open recording: %w", err)
	}
	return newRecorder(f, f), nil
}

func newRecorder(w io.Writer, c io.Closer) *Recorder {
	bw := bufio.NewWriter(w)
	return &Recorder{w: bw, c: c, enc: json.NewEncoder(bw)}
}

// Write appends one tick.
func (r *Recorder) Write(t model.Tick) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(t)
}

// Flush writes buffered ticks through.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Flush()
}

// Close flushes and closes the underlying file.
func (r *Recorder) Close() error {
	if err := r.Flush(); err != nil {
		return err
	}
	if r.c != nil {
		return r.c.Close()
	}
	return nil
}
