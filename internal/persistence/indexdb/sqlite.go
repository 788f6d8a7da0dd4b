// Package indexdb keeps a queryable sqlite index of world metadata and save
// results. It is secondary: world_info.json stays the source of truth.
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
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropSaveTotal  atomic.Uint64
	dropWorldTotal atomic.Uint64
	dropChunkTotal atomic.Uint64
	writeErrTotal  atomic.Uint64
}

type reqKind int

const (
	reqSave reqKind = iota + 1
	reqWorld
	reqChunk
)

type req struct {
	kind reqKind

	save  SaveRow
	world WorldRow
	chunk ChunkRow
}

// SaveRow is one finished save job.
type SaveRow struct {
	WorldID    string
	JobID      string
	OK         bool
	Kind       string
	Error      string
	Bytes      int
	DurationMS int64
	RecordedAt time.Time
}

type WorldRow struct {
	WorldID    string
	Seed       uint32
	GameMode   string
	WorldType  string
	Created    time.Time
	LastPlayed time.Time
	Deleted    bool
}

// ChunkRow is one chunk write during unload.
type ChunkRow struct {
	WorldID    string
	X, Y, Z    int32
	OK         bool
	Error      string
	RecordedAt time.Time
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropSaveTotal  uint64
	DropWorldTotal uint64
	DropChunkTotal uint64
	WriteErrTotal  uint64
}

const queueCapacity = 4096

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
	// WAL lets the worlds CLI read while a server writes.
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS saves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			ok INTEGER NOT NULL,
			kind TEXT,
			error TEXT,
			bytes INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_world ON saves(world_id, id);`,
		`CREATE TABLE IF NOT EXISTS worlds (
			world_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			game_mode TEXT NOT NULL,
			world_type TEXT NOT NULL,
			created_at TEXT NOT NULL,
			last_played TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS chunk_writes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_writes_pos ON chunk_writes(world_id, x, z, y);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

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

// RecordSave queues a save result. It never blocks; rows are dropped when the
// writer falls behind.
func (s *SQLiteIndex) RecordSave(r SaveRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}
	select {
	case s.ch <- req{kind: reqSave, save: r}:
	default:
		s.dropSaveTotal.Add(1)
	}
}

func (s *SQLiteIndex) RecordWorld(r WorldRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqWorld, world: r}:
	default:
		s.dropWorldTotal.Add(1)
	}
}

func (s *SQLiteIndex) RecordChunkWrite(r ChunkRow) {
	if s == nil || s.closed.Load() {
		return
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}
	select {
	case s.ch <- req{kind: reqChunk, chunk: r}:
	default:
		s.dropChunkTotal.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropSaveTotal:  s.dropSaveTotal.Load(),
		DropWorldTotal: s.dropWorldTotal.Load(),
		DropChunkTotal: s.dropChunkTotal.Load(),
		WriteErrTotal:  s.writeErrTotal.Load(),
	}
}

// RecentSaves returns the newest save rows first. An empty worldID matches
// every world.
func (s *SQLiteIndex) RecentSaves(ctx context.Context, worldID string, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT world_id,job_id,ok,COALESCE(kind,''),COALESCE(error,''),bytes,duration_ms,recorded_at
		FROM saves`
	args := []any{}
	if worldID != "" {
		q += ` WHERE world_id=?`
		args = append(args, worldID)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveRow
	for rows.Next() {
		var (
			r  SaveRow
			ok int
			at string
		)
		if err := rows.Scan(&r.WorldID, &r.JobID, &ok, &r.Kind, &r.Error, &r.Bytes, &r.DurationMS, &at); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentChunkWrites returns the newest chunk write rows first for one world.
func (s *SQLiteIndex) RecentChunkWrites(ctx context.Context, worldID string, limit int) ([]ChunkRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT world_id,x,y,z,ok,COALESCE(error,''),recorded_at FROM chunk_writes
		WHERE world_id=? ORDER BY id DESC LIMIT ?`, worldID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var (
			r  ChunkRow
			ok int
			at string
		)
		if err := rows.Scan(&r.WorldID, &r.X, &r.Y, &r.Z, &ok, &r.Error, &at); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertSave, _ := s.db.Prepare(`INSERT INTO saves(world_id,job_id,ok,kind,error,bytes,duration_ms,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	upsertWorld, _ := s.db.Prepare(`INSERT OR REPLACE INTO worlds(world_id,seed,game_mode,world_type,created_at,last_played,deleted) VALUES(?,?,?,?,?,?,?)`)
	insertChunk, _ := s.db.Prepare(`INSERT INTO chunk_writes(world_id,x,y,z,ok,error,recorded_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertSave, upsertWorld, insertChunk} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.writeErrTotal.Add(1)
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
			s.writeErrTotal.Add(1)
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
		s.writeErrTotal.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqSave:
			sv := r.save
			exec(insertSave, sv.WorldID, sv.JobID, boolInt(sv.OK), sv.Kind, sv.Error, sv.Bytes, sv.DurationMS,
				sv.RecordedAt.UTC().Format(time.RFC3339Nano))
		case reqWorld:
			w := r.world
			exec(upsertWorld, w.WorldID, int64(w.Seed), w.GameMode, w.WorldType,
				w.Created.UTC().Format(time.RFC3339Nano), w.LastPlayed.UTC().Format(time.RFC3339Nano), boolInt(w.Deleted))
		case reqChunk:
			c := r.chunk
			exec(insertChunk, c.WorldID, c.X, c.Y, c.Z, boolInt(c.OK), c.Error, c.RecordedAt.UTC().Format(time.RFC3339Nano))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0) {
			commit()
		}
	}
	commit()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
