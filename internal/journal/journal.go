// Package journal persists the outcome of stress runs to SQLite: one row per run, per
// wear sample and per integrity mismatch.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/jotfs/fsstress/internal/sum"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Adapter interfaces with the database.
type Adapter struct {
	mut sync.Mutex
	db  *sql.DB
}

func NewAdapter(db *sql.DB) *Adapter {
	return &Adapter{sync.Mutex{}, db}
}

func (a *Adapter) InitSchema() error {
	_, err := a.db.Exec(Q_000_Base)
	return err
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) update(f func(tx *sql.Tx) error) error {
	a.mut.Lock()
	defer a.mut.Unlock()
	tx, err := a.db.Begin()
	if err != nil {
		return err
	}
	if err := f(tx); err != nil {
		rerr := tx.Rollback()
		if rerr != nil {
			err = fmt.Errorf("%w; %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// Run is a handle to the journal entries of a single run.
type Run struct {
	ID        string
	StartedAt time.Time
	Port      string
	Seed      int64

	a *Adapter
}

// StartRun inserts a new run and returns a handle to record its events.
func (a *Adapter) StartRun(port string, seed int64) (*Run, error) {
	r := &Run{ID: xid.New().String(), StartedAt: time.Now().UTC(), Port: port, Seed: seed, a: a}
	err := a.update(func(tx *sql.Tx) error {
		q := "INSERT INTO runs (id, started_at, port, seed) VALUES (?, ?, ?, ?)"
		_, err := tx.Exec(q, r.ID, r.StartedAt.UnixNano(), r.Port, r.Seed)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("inserting run: %w", err)
	}
	return r, nil
}

// GetRun loads a run by ID. Returns ErrNotFound if it does not exist.
func (a *Adapter) GetRun(id string) (*Run, error) {
	q := "SELECT started_at, port, seed FROM runs WHERE id = ?"
	var startedAt int64
	r := &Run{ID: id, a: a}
	if err := a.db.QueryRow(q, id).Scan(&startedAt, &r.Port, &r.Seed); err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, startedAt).UTC()
	return r, nil
}

// InsertWear records a write-cycle sample taken at iteration.
func (r *Run) InsertWear(iteration uint64, cycles uint64) error {
	return r.a.update(func(tx *sql.Tx) error {
		q := "INSERT INTO wear (run_id, iteration, cycles, sampled_at) VALUES (?, ?, ?, ?)"
		_, err := tx.Exec(q, r.ID, int64(iteration), int64(cycles), time.Now().UnixNano())
		return err
	})
}

// Mismatch describes a payload which did not read back as written.
type Mismatch struct {
	Iteration uint64
	Name      string
	Written   string
	Observed  string
	Evicted   int
	At        time.Time
}

// InsertMismatch records a mismatch along with the checksums of both payloads.
func (r *Run) InsertMismatch(m Mismatch) error {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	ws := sum.OfString(m.Written)
	obs := sum.OfString(m.Observed)
	return r.a.update(func(tx *sql.Tx) error {
		q := `
			INSERT INTO mismatches 
				(run_id, iteration, name, written, observed, written_sum, observed_sum, evicted, at) 
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.Exec(q, r.ID, int64(m.Iteration), m.Name, m.Written, m.Observed, ws[:], obs[:], m.Evicted, m.At.UnixNano())
		return err
	})
}

// Mismatches returns the mismatches of the run in iteration order.
func (r *Run) Mismatches() ([]Mismatch, error) {
	q := `
		SELECT iteration, name, written, observed, written_sum, observed_sum, evicted, at 
		FROM mismatches 
		WHERE run_id = ? 
		ORDER BY iteration
	`
	rows, err := r.a.db.Query(q, r.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Mismatch
	for rows.Next() {
		var (
			m         Mismatch
			iteration int64
			at        int64
			wb, ob    []byte
		)
		if err := rows.Scan(&iteration, &m.Name, &m.Written, &m.Observed, &wb, &ob, &m.Evicted, &at); err != nil {
			return nil, err
		}
		if err := checkSum(wb, m.Written); err != nil {
			return nil, fmt.Errorf("mismatch at iteration %d: written: %w", iteration, err)
		}
		if err := checkSum(ob, m.Observed); err != nil {
			return nil, fmt.Errorf("mismatch at iteration %d: observed: %w", iteration, err)
		}
		m.Iteration = uint64(iteration)
		m.At = time.Unix(0, at)
		result = append(result, m)
	}
	return result, rows.Err()
}

func checkSum(b []byte, payload string) error {
	s, err := sum.FromBytes(b)
	if err != nil {
		return err
	}
	if s != sum.OfString(payload) {
		return fmt.Errorf("stored checksum %s does not match payload", s.Short())
	}
	return nil
}

// Summary aggregates the journal entries of a run.
type Summary struct {
	Mismatches    int
	Evicted       int
	WearSamples   int
	LastCycles    uint64
	LastIteration uint64
}

// Summary returns the aggregate journal entries of the run.
func (r *Run) Summary() (Summary, error) {
	var s Summary
	q := "SELECT COUNT(*), COALESCE(SUM(evicted), 0) FROM mismatches WHERE run_id = ?"
	if err := r.a.db.QueryRow(q, r.ID).Scan(&s.Mismatches, &s.Evicted); err != nil {
		return Summary{}, err
	}

	q = "SELECT COUNT(*) FROM wear WHERE run_id = ?"
	if err := r.a.db.QueryRow(q, r.ID).Scan(&s.WearSamples); err != nil {
		return Summary{}, err
	}
	if s.WearSamples == 0 {
		return s, nil
	}

	q = "SELECT iteration, cycles FROM wear WHERE run_id = ? ORDER BY iteration DESC, rowid DESC LIMIT 1"
	var iteration, cycles int64
	if err := r.a.db.QueryRow(q, r.ID).Scan(&iteration, &cycles); err != nil {
		return Summary{}, err
	}
	s.LastIteration = uint64(iteration)
	s.LastCycles = uint64(cycles)
	return s, nil
}
