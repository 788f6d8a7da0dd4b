package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd prints index rows as JSON lines. It opens the database read-only so
// it can run next to a live server.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	savesDir := fs.String("saves", "./saves", "saves directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <saves>/index.db)")
	worldID := fs.String("world", "", "world filter (optional)")
	limit := fs.Int("limit", 20, "result limit")
	failed := fs.Bool("failed", false, "only failed saves / chunk writes")
	_ = fs.Parse(args)

	q := "saves"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*savesDir, "index.db")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	if *limit <= 0 {
		*limit = 20
	}

	var n int
	switch q {
	case "saves":
		n, err = querySaves(db, *worldID, *failed, *limit)
	case "chunks":
		n, err = queryChunkWrites(db, *worldID, *failed, *limit)
	case "worlds":
		n, err = queryWorlds(db)
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-saves ./saves|-db PATH] [-world W] [-failed] [-limit N] saves|chunks|worlds")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if n == 0 {
		fmt.Fprintln(os.Stderr, "no rows")
	}
}

func whereClause(worldID string, failed bool) (string, []any) {
	var conds []string
	var args []any
	if worldID != "" {
		conds = append(conds, "world_id=?")
		args = append(args, worldID)
	}
	if failed {
		conds = append(conds, "ok=0")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func querySaves(db *sql.DB, worldID string, failed bool, limit int) (int, error) {
	where, args := whereClause(worldID, failed)
	rows, err := db.Query(`SELECT world_id,job_id,ok,COALESCE(kind,''),COALESCE(error,''),bytes,duration_ms,recorded_at FROM saves`+where+` ORDER BY id DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var r struct {
			WorldID    string `json:"world_id"`
			JobID      string `json:"job_id"`
			OK         bool   `json:"ok"`
			Kind       string `json:"kind,omitempty"`
			Error      string `json:"error,omitempty"`
			Bytes      int    `json:"bytes"`
			DurationMS int64  `json:"duration_ms"`
			RecordedAt string `json:"recorded_at"`
		}
		if err := rows.Scan(&r.WorldID, &r.JobID, &r.OK, &r.Kind, &r.Error, &r.Bytes, &r.DurationMS, &r.RecordedAt); err != nil {
			return n, err
		}
		printJSON(r)
		n++
	}
	return n, rows.Err()
}

func queryChunkWrites(db *sql.DB, worldID string, failed bool, limit int) (int, error) {
	where, args := whereClause(worldID, failed)
	rows, err := db.Query(`SELECT world_id,x,y,z,ok,COALESCE(error,''),recorded_at FROM chunk_writes`+where+` ORDER BY id DESC LIMIT ?`, append(args, limit)...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var r struct {
			WorldID    string `json:"world_id"`
			X          int32  `json:"x"`
			Y          int32  `json:"y"`
			Z          int32  `json:"z"`
			OK         bool   `json:"ok"`
			Error      string `json:"error,omitempty"`
			RecordedAt string `json:"recorded_at"`
		}
		if err := rows.Scan(&r.WorldID, &r.X, &r.Y, &r.Z, &r.OK, &r.Error, &r.RecordedAt); err != nil {
			return n, err
		}
		printJSON(r)
		n++
	}
	return n, rows.Err()
}

func queryWorlds(db *sql.DB) (int, error) {
	rows, err := db.Query(`SELECT world_id,seed,game_mode,world_type,created_at,last_played,deleted FROM worlds ORDER BY last_played DESC`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var r struct {
			WorldID    string `json:"world_id"`
			Seed       int64  `json:"seed"`
			GameMode   string `json:"game_mode"`
			WorldType  string `json:"world_type"`
			CreatedAt  string `json:"created_at"`
			LastPlayed string `json:"last_played"`
			Deleted    bool   `json:"deleted"`
		}
		if err := rows.Scan(&r.WorldID, &r.Seed, &r.GameMode, &r.WorldType, &r.CreatedAt, &r.LastPlayed, &r.Deleted); err != nil {
			return n, err
		}
		printJSON(r)
		n++
	}
	return n, rows.Err()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
