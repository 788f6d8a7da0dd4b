// Package terrain owns block data: generation, chunk files and edits. Its
// Service is the loader and unloader behind the stream manager.
package terrain

import (
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"voxelstream.ai/internal/jobs"
	"voxelstream.ai/internal/persistence/chunkfile"
	"voxelstream.ai/internal/sim/behavior"
	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/stream"
)

var (
	ErrNotLoaded = errors.New("chunk not loaded")
	ErrUnloading = errors.New("chunk is unloading")
	ErrDenied    = errors.New("edit denied")
	ErrBadEdit   = errors.New("bad edit")
)

type EditKind string

const (
	EditPlace    EditKind = "place"
	EditBreak    EditKind = "break"
	EditInteract EditKind = "interact"
)

type Edit struct {
	Actor string   `json:"actor"`
	Kind  EditKind `json:"kind"`
	X     int      `json:"x"`
	Y     int      `json:"y"`
	Z     int      `json:"z"`
	Block BlockID  `json:"block,omitempty"`
}

// ChunkWrite is the outcome of writing a dirty chunk during its unload.
type ChunkWrite struct {
	Coord chunks.Coord
	Err   error
}

type ServiceConfig struct {
	WorldID   string
	ChunkSize int
	Generator *Generator
	Files     *chunkfile.Store
	Pool      *jobs.Pool
	Registry  *behavior.Registry
	Logger    *log.Logger
}

type Stats struct {
	Resident      int    `json:"resident"`
	Dirty         int    `json:"dirty"`
	Generated     uint64 `json:"generated_total"`
	ReadFromDisk  uint64 `json:"read_total"`
	LoadFailed    uint64 `json:"load_failed_total"`
	Written       uint64 `json:"written_total"`
	WriteFailed   uint64 `json:"write_failed_total"`
	EditsApplied  uint64 `json:"edits_applied_total"`
	EditsDenied   uint64 `json:"edits_denied_total"`
	EditsRejected uint64 `json:"edits_rejected_total"`
}

// Service implements stream.Loader and stream.Unloader. Chunk data moves to
// and from workers only through job results; the resident Store is touched
// only when the tick goroutine polls a handle.
type Service struct {
	worldID string
	size    int
	gen     *Generator
	files   *chunkfile.Store
	pool    *jobs.Pool
	reg     *behavior.Registry
	logger  *log.Logger

	store     *Store
	unloading map[chunks.Coord]bool
	writes    []ChunkWrite

	generated     atomic.Uint64
	readFromDisk  atomic.Uint64
	loadFailed    atomic.Uint64
	written       atomic.Uint64
	writeFailed   atomic.Uint64
	editsApplied  atomic.Uint64
	editsDenied   atomic.Uint64
	editsRejected atomic.Uint64
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.WorldID == "" {
		return nil, fmt.Errorf("terrain service needs a world id")
	}
	if cfg.Pool == nil || cfg.Files == nil {
		return nil, fmt.Errorf("terrain service needs a worker pool and a chunk file store")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = chunks.DefaultSize
	}
	if cfg.Generator == nil {
		cfg.Generator = NewGenerator(DefaultGenConfig())
	}
	if cfg.Registry == nil {
		cfg.Registry = behavior.NewRegistry()
	}
	return &Service{
		worldID:   cfg.WorldID,
		size:      cfg.ChunkSize,
		gen:       cfg.Generator,
		files:     cfg.Files,
		pool:      cfg.Pool,
		reg:       cfg.Registry,
		logger:    cfg.Logger,
		store:     NewStore(),
		unloading: map[chunks.Coord]bool{},
	}, nil
}

func (s *Service) WorldID() string { return s.worldID }

func (s *Service) Store() *Store { return s.store }

// BeginLoad reads the chunk file on a worker, generating the chunk when none
// exists.
func (s *Service) BeginLoad(c chunks.Coord) stream.Handle {
	files, gen, worldID, size := s.files, s.gen, s.worldID, s.size
	job := jobs.Submit(s.pool, func() (*Chunk, error) {
		rec, err := files.Read(worldID, c)
		switch {
		case errors.Is(err, chunkfile.ErrNotFound):
			s.generated.Add(1)
			return gen.Generate(c, size), nil
		case err != nil:
			return nil, err
		}
		ch, err := ChunkFromRecord(rec)
		if err != nil {
			return nil, err
		}
		s.readFromDisk.Add(1)
		return ch, nil
	})
	return &loadHandle{svc: s, coord: c, job: job}
}

// BeginUnload writes a dirty chunk on a worker and drops it once the write
// finishes. Clean chunks are dropped at once.
func (s *Service) BeginUnload(c chunks.Coord) stream.Handle {
	ch := s.store.Get(c)
	if ch == nil {
		return jobs.Completed(struct{}{}, nil)
	}
	if !ch.Dirty() {
		s.store.Delete(c)
		return jobs.Completed(struct{}{}, nil)
	}
	s.unloading[c] = true
	rec := ch.Record(s.worldID)
	files := s.files
	job := jobs.Submit(s.pool, func() (struct{}, error) {
		return struct{}{}, files.Write(rec)
	})
	return &unloadHandle{svc: s, coord: c, job: job}
}

type loadHandle struct {
	svc   *Service
	coord chunks.Coord
	job   *jobs.Job[*Chunk]
	done  bool
}

func (h *loadHandle) Poll() (bool, error) {
	done, err := h.job.Poll()
	if !done || h.done {
		return done, err
	}
	h.done = true
	if err != nil {
		h.svc.loadFailed.Add(1)
		return true, err
	}
	h.svc.store.Put(h.job.Value())
	return true, nil
}

type unloadHandle struct {
	svc   *Service
	coord chunks.Coord
	job   *jobs.Job[struct{}]
	done  bool
}

func (h *unloadHandle) Poll() (bool, error) {
	done, err := h.job.Poll()
	if !done || h.done {
		return done, err
	}
	h.done = true
	s := h.svc
	delete(s.unloading, h.coord)
	s.store.Delete(h.coord)
	s.writes = append(s.writes, ChunkWrite{Coord: h.coord, Err: err})
	if err != nil {
		s.writeFailed.Add(1)
		s.printf("chunk write failed world=%s chunk=%s err=%v", s.worldID, h.coord, err)
		return true, err
	}
	s.written.Add(1)
	return true, nil
}

// Block returns the block at a world block position and whether its chunk is
// resident.
func (s *Service) Block(x, y, z int) (BlockID, bool) {
	c, local := chunks.FromBlock(x, y, z, s.size)
	ch := s.store.Get(c)
	if ch == nil {
		return Air, false
	}
	return ch.Get(local[0], local[1], local[2]), true
}

// Apply runs an edit through the block behaviors and, if allowed, changes the
// chunk. Chunks being unloaded reject edits so the written snapshot stays the
// last state.
func (s *Service) Apply(e Edit) error {
	c, local := chunks.FromBlock(e.X, e.Y, e.Z, s.size)
	if s.unloading[c] {
		s.editsRejected.Add(1)
		return fmt.Errorf("%w: %s", ErrUnloading, c)
	}
	ch := s.store.Get(c)
	if ch == nil {
		s.editsRejected.Add(1)
		return fmt.Errorf("%w: %s", ErrNotLoaded, c)
	}
	cur := ch.Get(local[0], local[1], local[2])
	ctx := behavior.Context{Actor: e.Actor, X: e.X, Y: e.Y, Z: e.Z}

	var res behavior.Result
	switch e.Kind {
	case EditPlace:
		if !e.Block.Valid() || e.Block == Air {
			s.editsRejected.Add(1)
			return fmt.Errorf("%w: cannot place %s", ErrBadEdit, e.Block)
		}
		if cur != Air {
			s.editsRejected.Add(1)
			return fmt.Errorf("%w: position occupied by %s", ErrBadEdit, cur)
		}
		ctx.Block = e.Block.String()
		res = s.reg.Place(ctx)
	case EditBreak:
		if cur == Air {
			s.editsRejected.Add(1)
			return fmt.Errorf("%w: nothing to break", ErrBadEdit)
		}
		ctx.Block = cur.String()
		res = s.reg.Break(ctx)
	case EditInteract:
		ctx.Block = cur.String()
		res = s.reg.Interact(ctx)
	default:
		s.editsRejected.Add(1)
		return fmt.Errorf("%w: unknown kind %q", ErrBadEdit, e.Kind)
	}
	if !res.Allow {
		s.editsDenied.Add(1)
		return fmt.Errorf("%w: %s", ErrDenied, res.Message)
	}

	switch e.Kind {
	case EditPlace:
		ch.Set(local[0], local[1], local[2], e.Block)
	case EditBreak:
		ch.Set(local[0], local[1], local[2], Air)
	}
	s.editsApplied.Add(1)
	return nil
}

// TakeWrites returns the chunk writes finished since the last call. Clean
// chunks dropped without a write do not appear. Tick goroutine only.
func (s *Service) TakeWrites() []ChunkWrite {
	w := s.writes
	s.writes = nil
	return w
}

// Stats must be called from the tick goroutine; the counters alone are safe
// from anywhere through Counters.
func (s *Service) Stats() Stats {
	st := s.Counters()
	st.Resident = s.store.Len()
	st.Dirty = s.store.DirtyCount()
	return st
}

func (s *Service) Counters() Stats {
	return Stats{
		Generated:     s.generated.Load(),
		ReadFromDisk:  s.readFromDisk.Load(),
		LoadFailed:    s.loadFailed.Load(),
		Written:       s.written.Load(),
		WriteFailed:   s.writeFailed.Load(),
		EditsApplied:  s.editsApplied.Load(),
		EditsDenied:   s.editsDenied.Load(),
		EditsRejected: s.editsRejected.Load(),
	}
}

func (s *Service) printf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}
