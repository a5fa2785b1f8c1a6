// Package tracestore keeps syscall traces of simulation runs in a sqlite
// database so runs with different seeds can be compared after the fact.
package tracestore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	scenario TEXT NOT NULL,
	seed INT NOT NULL,
	started INT NOT NULL,
	finished INT,
	checksum TEXT,
	err TEXT
) STRICT;
CREATE TABLE IF NOT EXISTS events (
	run INT NOT NULL REFERENCES runs(id),
	seq INT NOT NULL,
	elapsed INT NOT NULL,
	host TEXT NOT NULL,
	pid INT NOT NULL,
	tid INT NOT NULL,
	syscall TEXT NOT NULL,
	nr INT NOT NULL,
	outcome TEXT NOT NULL,
	value INT NOT NULL,
	errno TEXT NOT NULL,
	PRIMARY KEY (run, seq)
) STRICT;
`

type Event struct {
	Seq     int
	Elapsed time.Duration
	Host    string
	PID     int
	TID     int
	Syscall string
	Number  uint64
	Outcome string
	Value   int64
	Errno   string
}

type Run struct {
	ID       int64
	Scenario string
	Seed     int64
	Started  time.Time
	// Finished is zero while the run is in progress.
	Finished time.Time
	Checksum string
	Err      string
}

var ErrNoSuchRun = errors.New("no such run")

// A Store is safe for concurrent use; cmd/simcall records several seeds in
// parallel into one database.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.Named("tracestore"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun registers a new run and returns its id.
func (s *Store) BeginRun(scenario string, seed int64, started time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("INSERT INTO runs (scenario, seed, started) VALUES (?, ?, ?)", scenario, seed, started.UnixNano())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	s.logger.Debug("begin run", zap.Int64("run", id), zap.String("scenario", scenario), zap.Int64("seed", seed))
	return id, nil
}

// Record appends events to a run in a single transaction.
func (s *Store) Record(run int64, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := checkRun(tx, run); err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO events (run, seq, elapsed, host, pid, tid, syscall, nr, outcome, value, errno) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.Exec(run, e.Seq, int64(e.Elapsed), e.Host, e.PID, e.TID, e.Syscall, int64(e.Number), e.Outcome, e.Value, e.Errno); err != nil {
			return fmt.Errorf("event %d: %w", e.Seq, err)
		}
	}
	return tx.Commit()
}

func checkRun(tx *sql.Tx, run int64) error {
	var id int64
	if err := tx.QueryRow("SELECT id FROM runs WHERE id = ?", run).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoSuchRun
		}
		return err
	}
	return nil
}

// FinishRun stores the outcome of a run. runErr may be nil.
func (s *Store) FinishRun(run int64, finished time.Time, checksum []byte, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errText string
	if runErr != nil {
		errText = runErr.Error()
	}
	res, err := s.db.Exec("UPDATE runs SET finished = ?, checksum = ?, err = ? WHERE id = ?",
		finished.UnixNano(), fmt.Sprintf("%x", checksum), errText, run)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNoSuchRun
	}
	s.logger.Debug("finish run", zap.Int64("run", run), zap.Binary("checksum", checksum), zap.Error(runErr))
	return nil
}

func (s *Store) Run(id int64) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow("SELECT id, scenario, seed, started, finished, checksum, err FROM runs WHERE id = ?", id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoSuchRun
	}
	return r, err
}

// Runs lists runs of a scenario, oldest first. An empty scenario lists all.
func (s *Store) Runs(scenario string) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, scenario, seed, started, finished, checksum, err FROM runs WHERE ? = '' OR scenario = ? ORDER BY id", scenario, scenario)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var started int64
	var finished sql.NullInt64
	var checksum, errText sql.NullString
	if err := row.Scan(&r.ID, &r.Scenario, &r.Seed, &started, &finished, &checksum, &errText); err != nil {
		return Run{}, err
	}
	r.Started = time.Unix(0, started).UTC()
	if finished.Valid {
		r.Finished = time.Unix(0, finished.Int64).UTC()
	}
	r.Checksum = checksum.String
	r.Err = errText.String
	return r, nil
}

// Events returns the events of a run in order.
func (s *Store) Events(run int64) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := checkRun(tx, run); err != nil {
		return nil, err
	}

	rows, err := tx.Query("SELECT seq, elapsed, host, pid, tid, syscall, nr, outcome, value, errno FROM events WHERE run = ? ORDER BY seq", run)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var elapsed, nr int64
		if err := rows.Scan(&e.Seq, &elapsed, &e.Host, &e.PID, &e.TID, &e.Syscall, &nr, &e.Outcome, &e.Value, &e.Errno); err != nil {
			return nil, err
		}
		e.Elapsed = time.Duration(elapsed)
		e.Number = uint64(nr)
		events = append(events, e)
	}
	return events, rows.Err()
}
