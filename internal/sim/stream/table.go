package stream

import (
	"fmt"
	"sort"

	"voxelstream.ai/internal/sim/chunks"
)

type State uint8

const (
	Unloaded State = iota
	LoadRequested
	Loaded
	UnloadRequested
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "UNLOADED"
	case LoadRequested:
		return "LOAD_REQUESTED"
	case Loaded:
		return "LOADED"
	case UnloadRequested:
		return "UNLOAD_REQUESTED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for st := Unloaded; st <= UnloadRequested; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return Unloaded, fmt.Errorf("unknown chunk state %q", s)
}

// ValidTransition reports whether the lifecycle allows moving from one state
// to another. LoadRequested -> Unloaded is a failed load.
func ValidTransition(from, to State) bool {
	switch from {
	case Unloaded:
		return to == LoadRequested
	case LoadRequested:
		return to == Loaded || to == Unloaded
	case Loaded:
		return to == UnloadRequested
	case UnloadRequested:
		return to == Unloaded
	}
	return false
}

// Outstanding reports whether a transition is in flight for the state.
func (s State) Outstanding() bool {
	return s == LoadRequested || s == UnloadRequested
}

type Record struct {
	State    State
	Distance float64
}

// Table maps chunk coordinates to lifecycle records. A coordinate absent from
// the table is Unloaded. Not safe for concurrent use; the streaming manager
// owns it.
type Table struct {
	recs    map[chunks.Coord]*Record
	counts  [4]int
	version uint64
}

func NewTable() *Table {
	return &Table{recs: map[chunks.Coord]*Record{}}
}

func (t *Table) Get(c chunks.Coord) (Record, bool) {
	r := t.recs[c]
	if r == nil {
		return Record{}, false
	}
	return *r, true
}

func (t *Table) State(c chunks.Coord) State {
	if r := t.recs[c]; r != nil {
		return r.State
	}
	return Unloaded
}

func (t *Table) Len() int { return len(t.recs) }

// Count returns how many records are in state s.
func (t *Table) Count(s State) int {
	if s == Unloaded {
		return 0
	}
	return t.counts[s]
}

// Version increases on every mutation.
func (t *Table) Version() uint64 { return t.version }

// Coords returns the coordinates in state s, sorted.
func (t *Table) Coords(s State) []chunks.Coord {
	out := make([]chunks.Coord, 0, t.Count(s))
	for c, r := range t.recs {
		if r.State == s {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (t *Table) requestLoad(c chunks.Coord, dist float64) error {
	if r := t.recs[c]; r != nil {
		return fmt.Errorf("load %s: record already %s", c, r.State)
	}
	t.recs[c] = &Record{State: LoadRequested, Distance: dist}
	t.counts[LoadRequested]++
	t.version++
	return nil
}

func (t *Table) requestUnload(c chunks.Coord) error {
	r := t.recs[c]
	if r == nil || r.State != Loaded {
		return fmt.Errorf("unload %s: record is %s", c, t.State(c))
	}
	t.move(r, UnloadRequested)
	return nil
}

func (t *Table) markLoaded(c chunks.Coord) bool {
	r := t.recs[c]
	if r == nil || r.State != LoadRequested {
		return false
	}
	t.move(r, Loaded)
	return true
}

// remove drops a record whose transition has finished or failed. want is the
// state the record must be in.
func (t *Table) remove(c chunks.Coord, want State) bool {
	r := t.recs[c]
	if r == nil || r.State != want {
		return false
	}
	t.counts[r.State]--
	delete(t.recs, c)
	t.version++
	return true
}

func (t *Table) setDistance(c chunks.Coord, d float64) {
	r := t.recs[c]
	if r == nil || r.Distance == d {
		return
	}
	r.Distance = d
	t.version++
}

func (t *Table) move(r *Record, to State) {
	t.counts[r.State]--
	r.State = to
	t.counts[to]++
	t.version++
}
