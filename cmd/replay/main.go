package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/stream"
)

// replay walks a world's stream event log and checks that every recorded
// chunk transition follows the lifecycle from the state the chunk was in.
func main() {
	var (
		savesDir  = flag.String("saves", "./saves", "saves directory")
		worldID   = flag.String("world", "", "world id")
		eventsDir = flag.String("events", "", "events dir containing stream-*.jsonl.zst (default: <saves>/<world>/events)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		saves     = flag.Bool("saves_summary", false, "also summarize saves-*.jsonl.zst")
	)
	flag.Parse()

	dir := strings.TrimSpace(*eventsDir)
	if dir == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -events")
			os.Exit(2)
		}
		dir = filepath.Join(*savesDir, *worldID, "events")
	}

	files, err := listEventFiles(dir, "stream-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no stream files found in", dir)
		os.Exit(1)
	}

	r := newReplayer(*toTick)
	for _, path := range files {
		if err := r.replayFile(path); err != nil {
			fmt.Fprintln(os.Stderr, "replay:", err)
			os.Exit(1)
		}
		if r.done {
			break
		}
	}
	fmt.Printf("replay ok: entries=%d transitions=%d runs=%d resident=%d failed=%d last_tick=%d\n",
		r.entries, r.transitions, r.runs, r.resident(), r.failed, r.lastTick)

	if !*saves {
		return
	}
	saveFiles, err := listEventFiles(dir, "saves-")
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	sum, err := summarizeSaves(saveFiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, "saves:", err)
		os.Exit(1)
	}
	fmt.Printf("saves: total=%d ok=%d failed=%d bytes=%d\n", sum.total, sum.ok, sum.total-sum.ok, sum.bytes)
	for _, k := range sortedKeys(sum.kinds) {
		fmt.Printf("  %s=%d\n", k, sum.kinds[k])
	}
}

func listEventFiles(dir, prefix string) ([]string, error) {
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
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

type replayer struct {
	toTick uint64
	states map[chunks.Coord]stream.State

	started  bool
	done     bool
	lastTick uint64

	entries     int
	transitions int
	runs        int
	failed      int
}

func newReplayer(toTick uint64) *replayer {
	return &replayer{toTick: toTick, states: map[chunks.Coord]stream.State{}}
}

func (r *replayer) resident() int {
	n := 0
	for _, st := range r.states {
		if st != stream.Unloaded {
			n++
		}
	}
	return n
}

// apply checks one entry. A tick lower than the previous one starts a new
// server run with an empty table.
func (r *replayer) apply(e persistlog.StreamEntry) error {
	if !r.started || e.Tick < r.lastTick {
		r.started = true
		r.runs++
		r.states = map[chunks.Coord]stream.State{}
	}
	r.lastTick = e.Tick
	r.entries++
	for _, t := range e.Transitions {
		c := chunks.Coord{X: t.X, Y: t.Y, Z: t.Z}
		from, err := stream.ParseState(t.From)
		if err != nil {
			return fmt.Errorf("tick %d chunk %s: %w", e.Tick, c, err)
		}
		to, err := stream.ParseState(t.To)
		if err != nil {
			return fmt.Errorf("tick %d chunk %s: %w", e.Tick, c, err)
		}
		if cur := r.states[c]; cur != from {
			return fmt.Errorf("tick %d chunk %s: recorded from=%s but chunk is %s", e.Tick, c, from, cur)
		}
		if !stream.ValidTransition(from, to) {
			return fmt.Errorf("tick %d chunk %s: illegal transition %s -> %s", e.Tick, c, from, to)
		}
		if t.Err != "" {
			r.failed++
		}
		if to == stream.Unloaded {
			delete(r.states, c)
		} else {
			r.states[c] = to
		}
		r.transitions++
	}
	return nil
}

func (r *replayer) replayFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var entry persistlog.StreamEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if r.toTick != 0 && entry.Tick > r.toTick {
			r.done = true
			return nil
		}
		if err := r.apply(entry); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

type saveSummary struct {
	total, ok int
	bytes     int64
	kinds     map[string]int
}

func summarizeSaves(files []string) (saveSummary, error) {
	sum := saveSummary{kinds: map[string]int{}}
	for _, path := range files {
		if err := readSaves(path, &sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func readSaves(path string, sum *saveSummary) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e persistlog.SaveEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		sum.total++
		if e.OK {
			sum.ok++
			sum.bytes += int64(e.Bytes)
			continue
		}
		kind := e.Kind
		if kind == "" {
			kind = "unknown"
		}
		sum.kinds[kind]++
	}
	return sc.Err()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
