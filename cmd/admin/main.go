package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/persistence/chunkfile"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/terrain"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "save":
			saveCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <rollback|db|state|save> [flags]")
	os.Exit(2)
}

// rollbackCmd reverts audited block edits inside a box by rewriting chunk
// files. Run it while the server is stopped.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	savesDir := fs.String("saves", "./saves", "saves directory")
	worldID := fs.String("world", "", "world id")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (required)")
	since := fs.String("since", "", "revert edits at or after this RFC3339 time (optional)")
	actor := fs.String("actor", "", "only revert edits by this actor (optional)")
	chunkSize := fs.Int("chunk_size", chunks.DefaultSize, "chunk size the world was saved with")
	dryRun := fs.Bool("dry_run", false, "report what would change without writing")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	if strings.TrimSpace(*aabb) == "" {
		fmt.Fprintln(os.Stderr, "missing -aabb")
		os.Exit(2)
	}
	min, max, err := parseAABB(*aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}
	var sinceT time.Time
	if s := strings.TrimSpace(*since); s != "" {
		sinceT, err = time.Parse(time.RFC3339, s)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -since:", err)
			os.Exit(2)
		}
	}

	worldDir := filepath.Join(*savesDir, *worldID)
	recs, err := readAudit(worldDir, auditFilter{since: sinceT, actor: strings.TrimSpace(*actor), min: min, max: max})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Println("no matching audit entries; nothing to rollback")
		return
	}

	res, err := applyRollback(chunkfile.NewStore(*savesDir), *worldID, *chunkSize, recs, *dryRun)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rollback:", err)
		os.Exit(1)
	}
	fmt.Printf("rollback ok: world=%s aabb=%s entries=%d applied=%d skipped=%d chunks=%d dry_run=%v\n",
		*worldID, *aabb, len(recs), res.applied, res.skipped, res.chunks, *dryRun)
}

type auditFilter struct {
	since    time.Time
	actor    string
	min, max [3]int
}

type auditRec struct {
	Seq   uint64
	Entry persistlog.EditEntry
}

// readAudit returns the successful place and break edits matching f, newest
// first.
func readAudit(worldDir string, f auditFilter) ([]auditRec, error) {
	dir := filepath.Join(worldDir, "audit")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "audit-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]auditRec, 0, 1024)
	var seq uint64

	for _, name := range names {
		path := filepath.Join(dir, name)
		fh, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		dec, err := zstd.NewReader(fh)
		if err != nil {
			_ = fh.Close()
			return nil, err
		}
		sc := bufio.NewScanner(dec)
		sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
		for sc.Scan() {
			var e persistlog.EditEntry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				dec.Close()
				_ = fh.Close()
				return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			seq++
			if e.Err != "" || (e.Kind != string(terrain.EditPlace) && e.Kind != string(terrain.EditBreak)) {
				continue
			}
			if !f.since.IsZero() && e.Time.Before(f.since) {
				continue
			}
			if f.actor != "" && e.Actor != f.actor {
				continue
			}
			if !withinAABB(e.Pos, f.min, f.max) {
				continue
			}
			out = append(out, auditRec{Seq: seq, Entry: e})
		}
		if err := sc.Err(); err != nil {
			dec.Close()
			_ = fh.Close()
			return nil, err
		}
		dec.Close()
		_ = fh.Close()
	}

	// Reverse chronological apply; equal times fall back to reverse read order.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Entry.Time.Equal(out[j].Entry.Time) {
			return out[i].Entry.Time.After(out[j].Entry.Time)
		}
		return out[i].Seq > out[j].Seq
	})
	return out, nil
}

type rollbackResult struct {
	applied, skipped, chunks int
}

func applyRollback(files *chunkfile.Store, worldID string, size int, recs []auditRec, dryRun bool) (rollbackResult, error) {
	var res rollbackResult
	loaded := map[chunks.Coord]*terrain.Chunk{}
	missing := map[chunks.Coord]bool{}

	for _, r := range recs {
		p := r.Entry.Pos
		c, local := chunks.FromBlock(p[0], p[1], p[2], size)
		if missing[c] {
			res.skipped++
			continue
		}
		ch := loaded[c]
		if ch == nil {
			rec, err := files.Read(worldID, c)
			if err != nil {
				// never written means the edit was lost with the chunk anyway
				missing[c] = true
				res.skipped++
				continue
			}
			ch, err = terrain.ChunkFromRecord(rec)
			if err != nil {
				return res, err
			}
			loaded[c] = ch
		}
		prev, err := terrain.ParseBlock(r.Entry.Prev)
		if err != nil {
			res.skipped++
			continue
		}
		ch.Set(local[0], local[1], local[2], prev)
		res.applied++
	}

	for _, ch := range loaded {
		if !ch.Dirty() {
			continue
		}
		res.chunks++
		if dryRun {
			continue
		}
		if err := files.Write(ch.Record(worldID)); err != nil {
			return res, err
		}
	}
	return res, nil
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}
