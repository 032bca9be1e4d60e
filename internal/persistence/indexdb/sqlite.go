package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelpath.ai/internal/sim/nav/planner"
)

const (
	queueCapacity = 65536
	commitEvery   = 2000
	commitMaxWait = 2 * time.Second
)

// SQLiteIndex is a secondary, query-friendly index of planner records. Writes
// are queued and applied by a single goroutine in batched transactions; when
// the queue is full records are dropped and counted.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSearch  atomic.Uint64
	dropFailure atomic.Uint64
	writeErrors atomic.Uint64
}

var _ planner.Recorder = (*SQLiteIndex)(nil)

type reqKind int

const (
	reqSearch reqKind = iota + 1
	reqFailure
)

type req struct {
	kind reqKind

	search  planner.SearchRecord
	failure planner.FailureRecord
}

type Stats struct {
	DropSearchTotal  uint64
	DropFailureTotal uint64
	WriteErrorTotal  uint64
	QueueDepth       int
	QueueCapacity    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
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

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, queueCapacity),
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
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
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
		`CREATE TABLE IF NOT EXISTS searches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			planner TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL,
			expanded INTEGER NOT NULL,
			elapsed_ms REAL NOT NULL,
			path_len INTEGER NOT NULL,
			cost REAL NOT NULL,
			epsilon REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_planner_at ON searches(planner, at);`,
		`CREATE INDEX IF NOT EXISTS idx_searches_status ON searches(status);`,
		`CREATE TABLE IF NOT EXISTS failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			planner TEXT NOT NULL,
			src_x INTEGER NOT NULL,
			src_y INTEGER NOT NULL,
			src_z INTEGER NOT NULL,
			dst_x INTEGER NOT NULL,
			dst_y INTEGER NOT NULL,
			dst_z INTEGER NOT NULL,
			kind TEXT NOT NULL,
			reason TEXT NOT NULL,
			attempts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_failures_pos ON failures(src_x, src_z, src_y);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordSearch(r planner.SearchRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSearch, search: r}:
	default:
		// The JSONL log remains the source of truth.
		s.dropSearch.Add(1)
	}
}

func (s *SQLiteIndex) RecordFailure(r planner.FailureRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFailure, failure: r}:
	default:
		s.dropFailure.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropSearchTotal:  s.dropSearch.Load(),
		DropFailureTotal: s.dropFailure.Load(),
		WriteErrorTotal:  s.writeErrors.Load(),
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
	}
}

// SearchSummary counts committed searches per status.
func (s *SQLiteIndex) SearchSummary(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM searches GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// FailureCounts counts committed failures per move kind.
func (s *SQLiteIndex) FailureCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM failures GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSearch, _ := s.db.Prepare(`INSERT INTO searches(at,planner,x,y,z,goal,status,reason,expanded,elapsed_ms,path_len,cost,epsilon) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertFailure, _ := s.db.Prepare(`INSERT INTO failures(at,planner,src_x,src_y,src_z,dst_x,dst_y,dst_z,kind,reason,attempts) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertSearch != nil {
			_ = insertSearch.Close()
		}
		if insertFailure != nil {
			_ = insertFailure.Close()
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrors.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(stmt *sql.Stmt, args ...any) {
		if stmt == nil {
			return
		}
		if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqSearch:
				se := r.search
				exec(insertSearch,
					se.Time.UTC().Format(time.RFC3339Nano),
					se.Planner,
					se.Start[0], se.Start[1], se.Start[2],
					se.Goal,
					se.Status,
					se.Reason,
					se.Expanded,
					se.ElapsedMs,
					se.PathLen,
					se.Cost,
					se.Epsilon,
				)
			case reqFailure:
				f := r.failure
				exec(insertFailure,
					f.Time.UTC().Format(time.RFC3339Nano),
					f.Planner,
					f.Src[0], f.Src[1], f.Src[2],
					f.Dst[0], f.Dst[1], f.Dst[2],
					f.Kind,
					f.Reason,
					f.Attempts,
				)
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
