package stream

import (
	"fmt"
	"log"
	"sort"
	"time"

	"voxelstream.ai/internal/sim/chunks"
)

// Handle is an in-flight load or unload. Poll must not block.
type Handle interface {
	Poll() (done bool, err error)
}

type Loader interface {
	BeginLoad(c chunks.Coord) Handle
}

type Unloader interface {
	BeginUnload(c chunks.Coord) Handle
}

type LoaderFunc func(c chunks.Coord) Handle

func (f LoaderFunc) BeginLoad(c chunks.Coord) Handle { return f(c) }

type UnloaderFunc func(c chunks.Coord) Handle

func (f UnloaderFunc) BeginUnload(c chunks.Coord) Handle { return f(c) }

// readyHandle stands in for collaborators that finished synchronously.
type readyHandle struct{}

func (readyHandle) Poll() (bool, error) { return true, nil }

type Transition struct {
	Coord chunks.Coord
	From  State
	To    State
	Err   error
}

type TickStats struct {
	Rescanned bool
	Observer  chunks.Coord

	LoadsDispatched   int
	UnloadsDispatched int
	LoadsCompleted    int
	UnloadsCompleted  int
	LoadsFailed       int
	UnloadsFailed     int

	DeferredLoads   int
	DeferredUnloads int

	Transitions []Transition
}

type Totals struct {
	Scans              uint64
	LoadsDispatched    uint64
	UnloadsDispatched  uint64
	LoadsCompleted     uint64
	UnloadsCompleted   uint64
	LoadsFailed        uint64
	UnloadsFailed      uint64
	IgnoredCompletions uint64
}

type Snapshot struct {
	Observer        chunks.Coord `json:"observer"`
	Loaded          int          `json:"loaded"`
	LoadRequested   int          `json:"load_requested"`
	UnloadRequested int          `json:"unload_requested"`
	DeferredLoads   int          `json:"deferred_loads"`
	DeferredUnloads int          `json:"deferred_unloads"`
	TableVersion    uint64       `json:"table_version"`
}

// Manager decides which chunks are resident around an observer. All methods
// must be called from the tick goroutine.
type Manager struct {
	cfg      Config
	table    *Table
	scan     *ScanCache
	loader   Loader
	unloader Unloader
	logger   *log.Logger

	observer chunks.Coord

	deferredLoads   []chunks.Candidate
	deferredUnloads []chunks.Candidate

	loading   map[chunks.Coord]Handle
	unloading map[chunks.Coord]Handle

	totals Totals
	trans  []Transition
}

func NewManager(cfg Config, loader Loader, unloader Unloader, scan *ScanCache, logger *log.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if loader == nil || unloader == nil {
		return nil, fmt.Errorf("stream manager needs a loader and an unloader")
	}
	if scan == nil {
		scan = &ScanCache{}
	}
	m := &Manager{
		cfg:       cfg,
		table:     NewTable(),
		scan:      scan,
		loader:    loader,
		unloader:  unloader,
		logger:    logger,
		loading:   map[chunks.Coord]Handle{},
		unloading: map[chunks.Coord]Handle{},
	}
	m.warnCapacity()
	return m, nil
}

func (m *Manager) Config() Config { return m.cfg }

// SetConfig swaps the streaming limits. The next tick rescans.
func (m *Manager) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.cfg = cfg
	m.scan.Invalidate()
	m.warnCapacity()
	return nil
}

// warnCapacity notes a render sphere larger than the resident cap. Streaming
// still works; the farthest chunks in range are evicted for nearer ones.
func (m *Manager) warnCapacity() {
	if n := m.cfg.SphereChunks(); n > m.cfg.MaxLoadedChunks {
		m.printf("stream: render sphere holds ~%d chunks, above max_loaded_chunks=%d; nearest chunks win", n, m.cfg.MaxLoadedChunks)
	}
}

func (m *Manager) Table() *Table { return m.table }

func (m *Manager) Totals() Totals { return m.totals }

func (m *Manager) Outstanding() int { return len(m.loading) + len(m.unloading) }

func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Observer:        m.observer,
		Loaded:          m.table.Count(Loaded),
		LoadRequested:   m.table.Count(LoadRequested),
		UnloadRequested: m.table.Count(UnloadRequested),
		DeferredLoads:   len(m.deferredLoads),
		DeferredUnloads: len(m.deferredUnloads),
		TableVersion:    m.table.Version(),
	}
}

// Tick runs one streaming step for an observer at a world position.
func (m *Manager) Tick(observer chunks.Vec3, now time.Time) TickStats {
	var st TickStats
	m.trans = m.trans[:0]

	m.pollOutstanding(&st)

	home := chunks.FromWorld(observer, m.cfg.ChunkSize)
	st.Observer = home
	if m.scan.ShouldRescan(now, home, m.cfg.CheckInterval) {
		st.Rescanned = true
		m.totals.Scans++
		m.observer = home
		m.rescan(chunks.ToChunkSpace(observer, m.cfg.ChunkSize))
	}

	m.dispatchLoads(&st)
	m.dispatchUnloads(&st)

	st.DeferredLoads = len(m.deferredLoads)
	st.DeferredUnloads = len(m.deferredUnloads)
	if len(m.trans) > 0 {
		st.Transitions = append([]Transition(nil), m.trans...)
	}
	return st
}

// CompleteLoad moves a LoadRequested record to Loaded. Completions for records
// in any other state are ignored.
func (m *Manager) CompleteLoad(c chunks.Coord) bool {
	delete(m.loading, c)
	if !m.table.markLoaded(c) {
		m.totals.IgnoredCompletions++
		return false
	}
	m.totals.LoadsCompleted++
	m.record(c, LoadRequested, Loaded, nil)
	return true
}

// CompleteUnload removes an UnloadRequested record.
func (m *Manager) CompleteUnload(c chunks.Coord) bool {
	delete(m.unloading, c)
	if !m.table.remove(c, UnloadRequested) {
		m.totals.IgnoredCompletions++
		return false
	}
	m.totals.UnloadsCompleted++
	m.record(c, UnloadRequested, Unloaded, nil)
	return true
}

// UnloadAll requests an unload for every resident chunk, ignoring the per-tick
// budget. Used on shutdown.
func (m *Manager) UnloadAll() int {
	n := 0
	for _, c := range m.table.Coords(Loaded) {
		if m.beginUnload(c) {
			n++
		}
	}
	m.deferredLoads = nil
	m.deferredUnloads = nil
	return n
}

// Poll applies finished transitions without scanning or dispatching.
func (m *Manager) Poll() TickStats {
	var st TickStats
	m.trans = m.trans[:0]
	m.pollOutstanding(&st)
	if len(m.trans) > 0 {
		st.Transitions = append([]Transition(nil), m.trans...)
	}
	return st
}

func (m *Manager) pollOutstanding(st *TickStats) {
	budget := m.cfg.MaxCompletionsPerFrame
	for _, c := range sortedKeys(m.loading) {
		if budget <= 0 {
			return
		}
		done, err := m.loading[c].Poll()
		if !done {
			continue
		}
		budget--
		if err != nil {
			delete(m.loading, c)
			m.table.remove(c, LoadRequested)
			m.totals.LoadsFailed++
			st.LoadsFailed++
			m.record(c, LoadRequested, Unloaded, err)
			m.printf("chunk load failed chunk=%s err=%v", c, err)
			continue
		}
		if m.CompleteLoad(c) {
			st.LoadsCompleted++
		}
	}
	for _, c := range sortedKeys(m.unloading) {
		if budget <= 0 {
			return
		}
		done, err := m.unloading[c].Poll()
		if !done {
			continue
		}
		budget--
		if err != nil {
			m.totals.UnloadsFailed++
			st.UnloadsFailed++
			m.printf("chunk unload failed chunk=%s err=%v", c, err)
		}
		if m.CompleteUnload(c) {
			st.UnloadsCompleted++
			if err != nil {
				m.trans[len(m.trans)-1].Err = err
			}
		}
	}
}

func (m *Manager) rescan(pos chunks.Vec3) {
	var unloads []chunks.Candidate
	for c, r := range m.table.recs {
		d := chunks.CenterDistance(pos, c)
		m.table.setDistance(c, d)
		if r.State == Loaded && d > m.cfg.UnloadDistance {
			unloads = append(unloads, chunks.Candidate{Coord: c, Distance: d})
		}
	}
	chunks.SortFarthest(unloads)

	loads := chunks.Within(pos, m.cfg.RenderDistance)
	n := 0
	for _, cand := range loads {
		if _, ok := m.table.recs[cand.Coord]; ok {
			continue
		}
		loads[n] = cand
		n++
	}
	m.deferredLoads = loads[:n]
	m.deferredUnloads = append(unloads, m.evictions(unloads)...)
}

// evictions picks Loaded chunks inside the unload radius that must make room
// for nearer load candidates once the table is at MaxLoadedChunks. Residents
// and candidates are ranked together nearest first; residents ranked past the
// slots left after in-flight loads are returned farthest first. Residents win
// distance ties so the same set is chosen on every scan.
func (m *Manager) evictions(unloads []chunks.Candidate) []chunks.Candidate {
	leaving := make(map[chunks.Coord]struct{}, len(unloads))
	for _, u := range unloads {
		leaving[u.Coord] = struct{}{}
	}
	var residents []chunks.Candidate
	for c, r := range m.table.recs {
		if r.State != Loaded {
			continue
		}
		if _, ok := leaving[c]; ok {
			continue
		}
		residents = append(residents, chunks.Candidate{Coord: c, Distance: r.Distance})
	}
	slots := m.cfg.MaxLoadedChunks - m.table.Count(LoadRequested)
	if slots < 0 {
		slots = 0
	}
	if len(residents)+len(m.deferredLoads) <= slots {
		return nil
	}

	type ranked struct {
		chunks.Candidate
		resident bool
	}
	all := make([]ranked, 0, len(residents)+len(m.deferredLoads))
	for _, c := range residents {
		all = append(all, ranked{Candidate: c, resident: true})
	}
	for _, c := range m.deferredLoads {
		all = append(all, ranked{Candidate: c})
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.resident != b.resident {
			return a.resident
		}
		return a.Coord.Less(b.Coord)
	})

	var out []chunks.Candidate
	for _, r := range all[slots:] {
		if r.resident {
			out = append(out, r.Candidate)
		}
	}
	chunks.SortFarthest(out)
	return out
}

func (m *Manager) dispatchLoads(st *TickStats) {
	budget := m.cfg.MaxChunksPerFrame
	i := 0
	for ; i < len(m.deferredLoads) && budget > 0; i++ {
		cand := m.deferredLoads[i]
		if _, ok := m.table.recs[cand.Coord]; ok {
			continue
		}
		if m.table.Len() >= m.cfg.MaxLoadedChunks {
			break
		}
		if err := m.table.requestLoad(cand.Coord, cand.Distance); err != nil {
			m.printf("streaming overrun: %v", err)
			continue
		}
		h := m.loader.BeginLoad(cand.Coord)
		if h == nil {
			h = readyHandle{}
		}
		m.loading[cand.Coord] = h
		m.totals.LoadsDispatched++
		st.LoadsDispatched++
		m.record(cand.Coord, Unloaded, LoadRequested, nil)
		budget--
	}
	m.deferredLoads = m.deferredLoads[i:]
}

func (m *Manager) dispatchUnloads(st *TickStats) {
	budget := m.cfg.MaxUnloadsPerFrame
	i := 0
	for ; i < len(m.deferredUnloads) && budget > 0; i++ {
		cand := m.deferredUnloads[i]
		r := m.table.recs[cand.Coord]
		if r == nil || r.State != Loaded {
			continue
		}
		if m.beginUnload(cand.Coord) {
			st.UnloadsDispatched++
			budget--
		}
	}
	m.deferredUnloads = m.deferredUnloads[i:]
}

func (m *Manager) beginUnload(c chunks.Coord) bool {
	if err := m.table.requestUnload(c); err != nil {
		m.printf("streaming overrun: %v", err)
		return false
	}
	h := m.unloader.BeginUnload(c)
	if h == nil {
		h = readyHandle{}
	}
	m.unloading[c] = h
	m.totals.UnloadsDispatched++
	m.record(c, Loaded, UnloadRequested, nil)
	return true
}

func (m *Manager) record(c chunks.Coord, from, to State, err error) {
	m.trans = append(m.trans, Transition{Coord: c, From: from, To: to, Err: err})
}

func (m *Manager) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

func sortedKeys(hs map[chunks.Coord]Handle) []chunks.Coord {
	if len(hs) == 0 {
		return nil
	}
	out := make([]chunks.Coord, 0, len(hs))
	for c := range hs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
