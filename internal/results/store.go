// Package results persists suite outcomes to a sqlite database so runs can be
// compared after the fact.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"kmslab.dev/internal/suite"
)

// Store records results on a single writer goroutine so suites never block on
// disk.
type Store struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type req struct {
	result suite.Result
	flush  chan struct{} // non-nil marks a flush barrier
}

// Open creates or opens the database at path and starts a new run.
func Open(path, note string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:    db,
		runID: uuid.NewString(),
		ch:    make(chan req, 1024),
	}
	started := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := db.Exec(`INSERT INTO runs(id,started_at,note) VALUES(?,?,?)`, s.runID, started, note); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			note TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL REFERENCES runs(id),
			suite TEXT NOT NULL,
			name TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			duration_us INTEGER NOT NULL,
			ref_crc TEXT,
			out_crc TEXT,
			dump_path TEXT,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (run_id, suite, name)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_outcome ON results(run_id, outcome);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// RunID identifies the run this store was opened for.
func (s *Store) RunID() string { return s.runID }

var _ suite.Recorder = (*Store)(nil)

// Record queues one result. Unlike a telemetry index, results are the whole
// point of a run, so a full queue blocks rather than drops.
func (s *Store) Record(r suite.Result) error {
	if s == nil || s.closed.Load() {
		return fmt.Errorf("results store closed")
	}
	s.ch <- req{result: r}
	return nil
}

// Flush blocks until everything recorded before it has hit the database.
func (s *Store) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{flush: done}
	<-done
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) loop() {
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO results
		(run_id,suite,name,outcome,detail,duration_us,ref_crc,out_crc,dump_path,recorded_at)
		VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		// Keep draining so producers never block; flush barriers still have
		// to be released or Flush would hang on a dead writer.
		for r := range s.ch {
			if r.flush != nil {
				close(r.flush)
			}
		}
		return
	}
	defer insert.Close()

	for r := range s.ch {
		if r.flush != nil {
			close(r.flush)
			continue
		}
		res := r.result
		_, _ = insert.Exec(
			s.runID,
			res.Suite,
			res.Name,
			res.Outcome.String(),
			res.Detail,
			res.Duration.Microseconds(),
			res.RefCRC,
			res.OutCRC,
			res.DumpPath,
			time.Now().UTC().Format(time.RFC3339Nano),
		)
	}
}

// Summary counts outcomes for one run.
type Summary struct {
	Pass, Fail, Skip int
}

func (s *Store) Summarize(ctx context.Context, runID string) (Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM results WHERE run_id=? GROUP BY outcome`, runID)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	var sum Summary
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return Summary{}, err
		}
		switch outcome {
		case suite.Pass.String():
			sum.Pass = n
		case suite.Fail.String():
			sum.Fail = n
		case suite.Skip.String():
			sum.Skip = n
		}
	}
	return sum, rows.Err()
}

// LastRun returns the most recently started run other than the store's own,
// so a summary query does not report itself.
func (s *Store) LastRun(ctx context.Context) (id, startedAt, note string, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, started_at, note FROM runs WHERE id != ? ORDER BY started_at DESC, id LIMIT 1`, s.runID)
	if err := row.Scan(&id, &startedAt, &note); err != nil {
		return "", "", "", err
	}
	return id, startedAt, note, nil
}

// Failures lists the failed subtests of a run with their diagnostic detail.
func (s *Store) Failures(ctx context.Context, runID string) ([]suite.Result, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT suite,name,detail,duration_us,ref_crc,out_crc,dump_path
		 FROM results WHERE run_id=? AND outcome=? ORDER BY suite,name`,
		runID, suite.Fail.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []suite.Result
	for rows.Next() {
		var r suite.Result
		var us int64
		if err := rows.Scan(&r.Suite, &r.Name, &r.Detail, &us, &r.RefCRC, &r.OutCRC, &r.DumpPath); err != nil {
			return nil, err
		}
		r.Outcome = suite.Fail
		r.Duration = time.Duration(us) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}
