package stream

import (
	"errors"
	"testing"
	"time"

	"voxelstream.ai/internal/sim/chunks"
)

type fakeHandle struct {
	done bool
	err  error
}

func (h *fakeHandle) Poll() (bool, error) { return h.done, h.err }

type fakeCollab struct {
	handles map[chunks.Coord]*fakeHandle
	order   []chunks.Coord
}

func newFakeCollab() *fakeCollab {
	return &fakeCollab{handles: map[chunks.Coord]*fakeHandle{}}
}

func (f *fakeCollab) begin(c chunks.Coord) Handle {
	h := &fakeHandle{}
	f.handles[c] = h
	f.order = append(f.order, c)
	return h
}

func (f *fakeCollab) finishAll() {
	for _, h := range f.handles {
		h.done = true
	}
}

// centerOf returns the world position of the center of chunk c for 32-block chunks.
func centerOf(c chunks.Coord) chunks.Vec3 {
	return chunks.Vec3{
		X: float64(c.X)*32 + 16,
		Y: float64(c.Y)*32 + 16,
		Z: float64(c.Z)*32 + 16,
	}
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *fakeCollab, *fakeCollab) {
	t.Helper()
	loads := newFakeCollab()
	unloads := newFakeCollab()
	m, err := NewManager(cfg, LoaderFunc(loads.begin), UnloaderFunc(unloads.begin), &ScanCache{}, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, loads, unloads
}

func testConfig() Config {
	return Config{
		RenderDistance:         1,
		UnloadDistance:         2,
		MaxChunksPerFrame:      100,
		MaxUnloadsPerFrame:     100,
		MaxCompletionsPerFrame: 100,
		MaxLoadedChunks:        10000,
		CheckInterval:          500 * time.Millisecond,
		ChunkSize:              32,
	}
}

var t0 = time.Unix(1_700_000_000, 0)

func TestTick_BudgetBound(t *testing.T) {
	cfg := testConfig()
	cfg.RenderDistance = 6
	cfg.UnloadDistance = 6
	cfg.MaxChunksPerFrame = 4
	m, loads, _ := newTestManager(t, cfg)

	st := m.Tick(centerOf(chunks.Coord{}), t0)
	if st.LoadsDispatched != 4 {
		t.Fatalf("dispatched=%d want=4", st.LoadsDispatched)
	}
	if st.DeferredLoads == 0 {
		t.Fatalf("expected deferred candidates")
	}
	deferred := st.DeferredLoads

	// gated tick still drains deferred work under the same budget
	st = m.Tick(centerOf(chunks.Coord{}), t0.Add(100*time.Millisecond))
	if st.Rescanned {
		t.Fatalf("second tick should be gated")
	}
	if st.LoadsDispatched != 4 || st.DeferredLoads != deferred-4 {
		t.Fatalf("dispatched=%d deferred=%d want=4,%d", st.LoadsDispatched, st.DeferredLoads, deferred-4)
	}

	seen := map[chunks.Coord]bool{}
	for _, c := range loads.order {
		if seen[c] {
			t.Fatalf("chunk %s dispatched twice", c)
		}
		seen[c] = true
	}

	// teleport: budget still applies on the first scan at the new chunk
	st = m.Tick(centerOf(chunks.Coord{X: 1000}), t0.Add(200*time.Millisecond))
	if !st.Rescanned || st.LoadsDispatched != 4 {
		t.Fatalf("rescanned=%v dispatched=%d want=true,4", st.Rescanned, st.LoadsDispatched)
	}
}

func TestTick_PriorityOrder(t *testing.T) {
	cfg := testConfig()
	cfg.RenderDistance = 5
	cfg.UnloadDistance = 5
	cfg.MaxChunksPerFrame = 2
	m, loads, _ := newTestManager(t, cfg)

	near := chunks.Coord{X: 1}
	mid := chunks.Coord{Y: 3}
	far := chunks.Coord{Z: -5}
	// everything else in range is already resident
	for _, cand := range chunks.Within(chunks.Vec3{X: 0.5, Y: 0.5, Z: 0.5}, 5) {
		if cand.Coord == near || cand.Coord == mid || cand.Coord == far {
			continue
		}
		if err := m.table.requestLoad(cand.Coord, cand.Distance); err != nil {
			t.Fatalf("requestLoad: %v", err)
		}
		m.table.markLoaded(cand.Coord)
	}

	st := m.Tick(centerOf(chunks.Coord{}), t0)
	if st.LoadsDispatched != 2 {
		t.Fatalf("dispatched=%d want=2", st.LoadsDispatched)
	}
	if len(loads.order) != 2 || loads.order[0] != near || loads.order[1] != mid {
		t.Fatalf("order=%v want [%s %s]", loads.order, near, mid)
	}
	if got := m.table.State(far); got != Unloaded {
		t.Fatalf("far state=%s want UNLOADED", got)
	}
	if st.DeferredLoads != 1 {
		t.Fatalf("deferred=%d want=1", st.DeferredLoads)
	}

	m.Tick(centerOf(chunks.Coord{}), t0.Add(10*time.Millisecond))
	if len(loads.order) != 3 || loads.order[2] != far {
		t.Fatalf("order=%v want far chunk third", loads.order)
	}
}

func TestTick_TieBreakByCoordinate(t *testing.T) {
	cfg := testConfig()
	cfg.MaxChunksPerFrame = 3
	m, loads, _ := newTestManager(t, cfg)

	m.Tick(centerOf(chunks.Coord{}), t0)
	want := []chunks.Coord{{}, {X: -1}, {Y: -1}}
	for i, c := range want {
		if loads.order[i] != c {
			t.Fatalf("order=%v want prefix %v", loads.order, want)
		}
	}
}

func TestTick_RescanGating(t *testing.T) {
	m, loads, _ := newTestManager(t, testConfig())

	st := m.Tick(chunks.Vec3{X: 16, Y: 16, Z: 16}, t0)
	if !st.Rescanned || st.LoadsDispatched != 7 {
		t.Fatalf("rescanned=%v dispatched=%d want=true,7", st.Rescanned, st.LoadsDispatched)
	}
	v := m.table.Version()

	// same chunk, 0.1s later
	st = m.Tick(chunks.Vec3{X: 20, Y: 16, Z: 16}, t0.Add(100*time.Millisecond))
	if st.Rescanned || st.LoadsDispatched != 0 || m.table.Version() != v {
		t.Fatalf("rescanned=%v dispatched=%d version=%d want=false,0,%d", st.Rescanned, st.LoadsDispatched, m.table.Version(), v)
	}

	// same chunk, interval elapsed
	st = m.Tick(chunks.Vec3{X: 20, Y: 16, Z: 16}, t0.Add(600*time.Millisecond))
	if !st.Rescanned || m.table.Version() == v {
		t.Fatalf("rescanned=%v version=%d want rescan with mutation", st.Rescanned, m.table.Version())
	}
	r, ok := m.table.Get(chunks.Coord{})
	if !ok || r.Distance != 0.125 {
		t.Fatalf("record=%+v ok=%v want distance 0.125", r, ok)
	}

	// chunk changed before the interval
	before := len(loads.order)
	st = m.Tick(centerOf(chunks.Coord{X: 1}), t0.Add(700*time.Millisecond))
	if !st.Rescanned || st.LoadsDispatched == 0 || len(loads.order) == before {
		t.Fatalf("rescanned=%v dispatched=%d want rescan with new loads", st.Rescanned, st.LoadsDispatched)
	}
}

func TestTick_NoThrash(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUnloadsPerFrame = 5
	m, loads, unloads := newTestManager(t, cfg)

	m.Tick(centerOf(chunks.Coord{}), t0)
	if m.table.Count(LoadRequested) != 7 {
		t.Fatalf("load_requested=%d want=7", m.table.Count(LoadRequested))
	}

	// move far away while loads are outstanding
	st := m.Tick(centerOf(chunks.Coord{X: 50}), t0.Add(10*time.Millisecond))
	if st.UnloadsDispatched != 0 || len(unloads.order) != 0 {
		t.Fatalf("unloads=%d want=0 while loads are outstanding", st.UnloadsDispatched)
	}
	for c := range loads.handles {
		if c.X > 40 {
			continue
		}
		if got := m.table.State(c); got != LoadRequested {
			t.Fatalf("chunk %s state=%s want LOAD_REQUESTED", c, got)
		}
	}

	// loads finish; next scan makes them unload candidates, five per tick
	loads.finishAll()
	m.Tick(centerOf(chunks.Coord{X: 50}), t0.Add(20*time.Millisecond))
	if m.table.Count(Loaded) != 14 {
		t.Fatalf("loaded=%d want=14", m.table.Count(Loaded))
	}
	st = m.Tick(centerOf(chunks.Coord{X: 50}), t0.Add(600*time.Millisecond))
	if st.UnloadsDispatched != 5 || st.DeferredUnloads != 2 {
		t.Fatalf("unloads=%d deferred=%d want=5,2", st.UnloadsDispatched, st.DeferredUnloads)
	}

	// returning home must not reload chunks whose unload is outstanding
	st = m.Tick(centerOf(chunks.Coord{}), t0.Add(700*time.Millisecond))
	if st.LoadsDispatched != 0 {
		t.Fatalf("loads=%d want=0 while unloads are outstanding", st.LoadsDispatched)
	}
	// the chunks around X=50 are now out of range
	if st.UnloadsDispatched != 5 {
		t.Fatalf("unloads=%d want=5", st.UnloadsDispatched)
	}
	for _, c := range unloads.order {
		if got := m.table.State(c); got != UnloadRequested {
			t.Fatalf("chunk %s state=%s want UNLOAD_REQUESTED", c, got)
		}
	}

	// once the unloads complete the home chunks become load candidates again
	unloads.finishAll()
	st = m.Tick(centerOf(chunks.Coord{}), t0.Add(1300*time.Millisecond))
	if st.UnloadsCompleted != 10 {
		t.Fatalf("unloads completed=%d want=10", st.UnloadsCompleted)
	}
	if st.LoadsDispatched != 5 {
		t.Fatalf("reloads=%d want=5", st.LoadsDispatched)
	}
}

func TestTick_FailedLoadIsRetriedOnNextScan(t *testing.T) {
	m, loads, _ := newTestManager(t, testConfig())

	m.Tick(centerOf(chunks.Coord{}), t0)
	h := loads.handles[chunks.Coord{}]
	h.done = true
	h.err = errors.New("disk gone")

	st := m.Tick(centerOf(chunks.Coord{}), t0.Add(100*time.Millisecond))
	if st.LoadsFailed != 1 {
		t.Fatalf("failed=%d want=1", st.LoadsFailed)
	}
	if _, ok := m.table.Get(chunks.Coord{}); ok {
		t.Fatalf("failed load should remove the record")
	}
	if len(st.Transitions) != 1 || st.Transitions[0].Err == nil || st.Transitions[0].To != Unloaded {
		t.Fatalf("transitions=%+v", st.Transitions)
	}

	st = m.Tick(centerOf(chunks.Coord{}), t0.Add(600*time.Millisecond))
	if st.LoadsDispatched != 1 || loads.order[len(loads.order)-1] != (chunks.Coord{}) {
		t.Fatalf("dispatched=%d want the failed chunk again", st.LoadsDispatched)
	}
}

func TestTick_CompletionBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCompletionsPerFrame = 3
	m, loads, _ := newTestManager(t, cfg)

	m.Tick(centerOf(chunks.Coord{}), t0)
	loads.finishAll()
	st := m.Tick(centerOf(chunks.Coord{}), t0.Add(10*time.Millisecond))
	if st.LoadsCompleted != 3 {
		t.Fatalf("completed=%d want=3", st.LoadsCompleted)
	}
	st = m.Poll()
	if st.LoadsCompleted != 3 {
		t.Fatalf("completed=%d want=3", st.LoadsCompleted)
	}
	st = m.Poll()
	if st.LoadsCompleted != 1 || m.Outstanding() != 0 {
		t.Fatalf("completed=%d outstanding=%d want=1,0", st.LoadsCompleted, m.Outstanding())
	}
}

func TestTick_MaxLoadedChunks(t *testing.T) {
	cfg := testConfig()
	cfg.RenderDistance = 3
	cfg.UnloadDistance = 3
	cfg.MaxLoadedChunks = 10
	m, _, _ := newTestManager(t, cfg)

	st := m.Tick(centerOf(chunks.Coord{}), t0)
	if st.LoadsDispatched != 10 || m.table.Len() != 10 {
		t.Fatalf("dispatched=%d len=%d want=10,10", st.LoadsDispatched, m.table.Len())
	}
	if st.DeferredLoads == 0 {
		t.Fatalf("capped candidates must stay deferred")
	}
}

func TestCompleteCallbacks(t *testing.T) {
	m, _, unloads := newTestManager(t, testConfig())

	m.Tick(centerOf(chunks.Coord{}), t0)
	if !m.CompleteLoad(chunks.Coord{}) {
		t.Fatalf("CompleteLoad should accept a LOAD_REQUESTED record")
	}
	if m.CompleteLoad(chunks.Coord{}) {
		t.Fatalf("second CompleteLoad should be ignored")
	}
	if m.CompleteUnload(chunks.Coord{}) {
		t.Fatalf("CompleteUnload on a LOADED record should be ignored")
	}
	if got := m.Totals().IgnoredCompletions; got != 2 {
		t.Fatalf("ignored=%d want=2", got)
	}

	if n := m.UnloadAll(); n != 1 {
		t.Fatalf("UnloadAll=%d want=1", n)
	}
	if len(unloads.order) != 1 {
		t.Fatalf("unloads=%v", unloads.order)
	}
	if !m.CompleteUnload(chunks.Coord{}) {
		t.Fatalf("CompleteUnload should remove the record")
	}
	if got := m.table.State(chunks.Coord{}); got != Unloaded {
		t.Fatalf("state=%s want UNLOADED", got)
	}
}

func TestNewManager_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.UnloadDistance = 0.5
	if _, err := NewManager(cfg, LoaderFunc(nil), UnloaderFunc(nil), nil, nil); err == nil {
		t.Fatalf("expected unload_distance error")
	}
	if _, err := NewManager(testConfig(), nil, nil, nil, nil); err == nil {
		t.Fatalf("expected missing collaborator error")
	}
}

func TestSetConfig_ForcesRescan(t *testing.T) {
	m, _, _ := newTestManager(t, testConfig())
	m.Tick(centerOf(chunks.Coord{}), t0)

	cfg := testConfig()
	cfg.RenderDistance = 2
	cfg.UnloadDistance = 3
	if err := m.SetConfig(cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	st := m.Tick(centerOf(chunks.Coord{}), t0.Add(time.Millisecond))
	if !st.Rescanned || st.LoadsDispatched == 0 {
		t.Fatalf("rescanned=%v dispatched=%d want rescan with new loads", st.Rescanned, st.LoadsDispatched)
	}
}

func TestTick_EvictsFarthestAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxChunksPerFrame = 2000
	cfg.MaxUnloadsPerFrame = 2000
	cfg.MaxCompletionsPerFrame = 4000
	m, loads, unloads := newTestManager(t, cfg)

	now := t0
	step := func(c chunks.Coord) TickStats {
		loads.finishAll()
		unloads.finishAll()
		now = now.Add(600 * time.Millisecond)
		st := m.Tick(centerOf(c), now)
		if m.table.Len() > cfg.MaxLoadedChunks {
			t.Fatalf("table len=%d above cap %d", m.table.Len(), cfg.MaxLoadedChunks)
		}
		return st
	}

	for i := 0; i < 5; i++ {
		step(chunks.Coord{})
	}
	if got := m.table.Count(Loaded); got != cfg.MaxLoadedChunks {
		t.Fatalf("loaded=%d want=%d at origin", got, cfg.MaxLoadedChunks)
	}
	// the resident set is already the nearest one; staying put evicts nothing
	if st := step(chunks.Coord{}); st.UnloadsDispatched != 0 {
		t.Fatalf("unloads=%d want=0 while standing still", st.UnloadsDispatched)
	}
	if got := m.table.State(chunks.Coord{X: 8}); got != Unloaded {
		t.Fatalf("chunk (8,0,0) state=%s want UNLOADED before moving", got)
	}

	target := chunks.Coord{X: 6}
	for i := 0; i < 50; i++ {
		step(target)
	}
	for _, c := range []chunks.Coord{target, {X: 8}, {X: 10}} {
		if got := m.table.State(c); got != Loaded {
			t.Fatalf("chunk %s state=%s want LOADED", c, got)
		}
	}
	if got := m.table.State(chunks.Coord{X: -5}); got != Unloaded {
		t.Fatalf("chunk (-5,0,0) state=%s want evicted", got)
	}
	if got := m.table.Count(Loaded); got != cfg.MaxLoadedChunks {
		t.Fatalf("loaded=%d want=%d after moving", got, cfg.MaxLoadedChunks)
	}

	// settled around the new position: no further churn
	if st := step(target); st.UnloadsDispatched != 0 || st.LoadsDispatched != 0 {
		t.Fatalf("loads=%d unloads=%d want=0,0 once settled", st.LoadsDispatched, st.UnloadsDispatched)
	}
}

func TestTick_EvictionNeedsNearerCandidate(t *testing.T) {
	cfg := testConfig()
	cfg.RenderDistance = 2
	cfg.UnloadDistance = 3
	cfg.MaxLoadedChunks = 7
	m, loads, unloads := newTestManager(t, cfg)

	m.Tick(centerOf(chunks.Coord{}), t0)
	loads.finishAll()
	m.Tick(centerOf(chunks.Coord{}), t0.Add(600*time.Millisecond))
	if got := m.table.Count(Loaded); got != 7 {
		t.Fatalf("loaded=%d want=7", got)
	}
	for _, c := range loads.order {
		if chunks.Distance(c, chunks.Coord{}) > 1 {
			t.Fatalf("loaded %s outside the nearest seven", c)
		}
	}
	// candidates at distance sqrt(2) are farther than every resident
	if len(unloads.order) != 0 {
		t.Fatalf("unloads=%v want none", unloads.order)
	}

	// one step along X: (-1,0,0) is now the farthest resident and (2,0,0) is nearer
	st := m.Tick(centerOf(chunks.Coord{X: 1}), t0.Add(1200*time.Millisecond))
	if st.UnloadsDispatched == 0 || m.table.State(chunks.Coord{X: -1}) != UnloadRequested {
		t.Fatalf("unloads=%d state(-1,0,0)=%s want eviction", st.UnloadsDispatched, m.table.State(chunks.Coord{X: -1}))
	}
	if st.LoadsDispatched != 0 {
		t.Fatalf("loads=%d want=0 until evictions complete", st.LoadsDispatched)
	}
}
