// Package game runs the single tick goroutine that owns chunk streaming,
// block edits and world saves for one world.
package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"voxelstream.ai/internal/metrics"
	"voxelstream.ai/internal/persistence/indexdb"
	vlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/pipeline"
	"voxelstream.ai/internal/persistence/worldmeta"
	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/terrain"
)

type Config struct {
	WorldID          string
	TickInterval     time.Duration
	AutosaveInterval time.Duration
}

// Deps are the collaborators a Session drives. Index, Events, Audit and
// Metrics may be nil.
type Deps struct {
	Worlds  *worldmeta.Manager
	Saves   *pipeline.Pipeline[worldmeta.Info]
	Terrain *terrain.Service
	Stream  *stream.Manager

	Index   *indexdb.SQLiteIndex
	Events  *vlog.EventLogger
	Audit   *vlog.AuditLogger
	Metrics *metrics.Metrics
	Logger  *log.Logger
}

// State is a point-in-time view of the session, published once per tick.
type State struct {
	WorldID   string          `json:"world_id"`
	Tick      uint64          `json:"tick"`
	Observer  chunks.Vec3     `json:"observer"`
	Stream    stream.Snapshot `json:"stream"`
	Terrain   terrain.Stats   `json:"terrain"`
	Saves     pipeline.Stats  `json:"saves"`
	LastSave  string          `json:"last_save,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type editReq struct {
	Edit terrain.Edit
	Resp chan error
}

type saveReq struct {
	Resp chan error
}

type Session struct {
	cfg Config
	d   Deps

	poses   chan chunks.Vec3
	edits   chan editReq
	saves   chan saveReq
	configs chan stream.Config
	stop    chan struct{}
	once    sync.Once

	// Owned by the tick goroutine.
	observer     chunks.Vec3
	tick         uint64
	lastAutosave time.Time
	lastSave     string

	stateMu sync.RWMutex
	state   State
}

func New(cfg Config, d Deps) (*Session, error) {
	if d.Worlds == nil || d.Saves == nil || d.Terrain == nil || d.Stream == nil {
		return nil, errors.New("game session needs worlds, saves, terrain and stream")
	}
	if cfg.WorldID == "" {
		return nil, errors.New("game session needs a world id")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	return &Session{
		cfg:     cfg,
		d:       d,
		poses:   make(chan chunks.Vec3, 1),
		edits:   make(chan editReq, 256),
		saves:   make(chan saveReq, 8),
		configs: make(chan stream.Config, 1),
		stop:    make(chan struct{}),
		state:   State{WorldID: cfg.WorldID},
	}, nil
}

// Run ticks until ctx ends or Stop is called, then unloads every chunk and
// flushes pending saves within shutdownTimeout.
func (s *Session) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.lastAutosave = time.Now()
	var pendingEdits []editReq
	var pendingSaves []saveReq

	runErr := func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.stop:
				return nil
			case p := <-s.poses:
				s.observer = p
			case req := <-s.edits:
				pendingEdits = append(pendingEdits, req)
			case req := <-s.saves:
				pendingSaves = append(pendingSaves, req)
			case cfg := <-s.configs:
				s.applyConfig(cfg)
			case now := <-ticker.C:
				s.handleEdits(pendingEdits)
				s.handleSaves(pendingSaves)
				pendingEdits = pendingEdits[:0]
				pendingSaves = pendingSaves[:0]
				s.Step(now)
			}
		}
	}()

	for _, req := range pendingEdits {
		req.Resp <- errors.New("session stopped")
	}
	for _, req := range pendingSaves {
		req.Resp <- errors.New("session stopped")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(sctx); err != nil {
		s.printf("shutdown incomplete: %v", err)
	}
	return runErr
}

func (s *Session) Stop() { s.once.Do(func() { close(s.stop) }) }

// SetPose records the observer position. Only the latest pose is kept.
func (s *Session) SetPose(p chunks.Vec3) {
	for {
		select {
		case s.poses <- p:
			return
		default:
		}
		select {
		case <-s.poses:
		default:
		}
	}
}

// UpdateStreamConfig replaces the streaming limits from the next tick on.
func (s *Session) UpdateStreamConfig(cfg stream.Config) {
	for {
		select {
		case s.configs <- cfg:
			return
		default:
		}
		select {
		case <-s.configs:
		default:
		}
	}
}

// RequestEdit queues a block edit and waits for the tick that applies it.
func (s *Session) RequestEdit(ctx context.Context, e terrain.Edit) error {
	req := editReq{Edit: e, Resp: make(chan error, 1)}
	select {
	case s.edits <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestSave stamps last_played and queues a metadata save on the next tick.
// It returns once the save is queued, not written.
func (s *Session) RequestSave(ctx context.Context) error {
	req := saveReq{Resp: make(chan error, 1)}
	select {
	case s.saves <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the view published by the last tick. Safe from any goroutine.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Step runs one tick. Called by Run; tests call it directly.
func (s *Session) Step(now time.Time) {
	start := time.Now()
	s.tick++

	st := s.d.Stream.Tick(s.observer, now)
	s.recordStream(st, now)
	s.recordChunkWrites(now)

	if s.cfg.AutosaveInterval > 0 && now.Sub(s.lastAutosave) >= s.cfg.AutosaveInterval {
		s.lastAutosave = now
		if _, err := s.d.Worlds.TouchCurrent(); err != nil {
			s.printf("autosave: %v", err)
		}
	}

	s.recordSaves(s.d.Saves.Poll(now))
	s.publish(now)
	s.d.Metrics.ObserveTick(time.Since(start).Seconds())
}

// Shutdown unloads every resident chunk and drains the save pipeline. It
// blocks and must run on the goroutine that owned the ticks.
func (s *Session) Shutdown(ctx context.Context) error {
	if _, err := s.d.Worlds.TouchCurrent(); err != nil {
		s.printf("final save: %v", err)
	}
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()
	for {
		now := time.Now()
		s.d.Stream.UnloadAll()
		st := s.d.Stream.Poll()
		s.recordStream(st, now)
		s.recordChunkWrites(now)
		s.recordSaves(s.d.Saves.Poll(now))
		if s.d.Stream.Table().Len() == 0 && s.d.Stream.Outstanding() == 0 && s.d.Saves.Idle() {
			s.publish(now)
			s.printf("shutdown complete world=%s ticks=%d", s.cfg.WorldID, s.tick)
			return nil
		}
		select {
		case <-ctx.Done():
			s.publish(now)
			return fmt.Errorf("resident=%d outstanding=%d saves idle=%v: %w",
				s.d.Stream.Table().Len(), s.d.Stream.Outstanding(), s.d.Saves.Idle(), ctx.Err())
		case <-poll.C:
		}
	}
}

func (s *Session) applyConfig(cfg stream.Config) {
	// chunk size is fixed for the life of a session
	cfg.ChunkSize = s.d.Stream.Config().ChunkSize
	if err := s.d.Stream.SetConfig(cfg); err != nil {
		s.printf("stream config rejected: %v", err)
		return
	}
	s.printf("stream config updated render=%g unload=%g per_frame=%d", cfg.RenderDistance, cfg.UnloadDistance, cfg.MaxChunksPerFrame)
}

func (s *Session) handleEdits(reqs []editReq) {
	for _, req := range reqs {
		prev, _ := s.d.Terrain.Block(req.Edit.X, req.Edit.Y, req.Edit.Z)
		err := s.d.Terrain.Apply(req.Edit)
		s.recordEdit(req.Edit, prev, err)
		req.Resp <- err
	}
}

func (s *Session) handleSaves(reqs []saveReq) {
	for _, req := range reqs {
		_, err := s.d.Worlds.TouchCurrent()
		req.Resp <- err
	}
}

func (s *Session) publish(now time.Time) {
	st := State{
		WorldID:   s.cfg.WorldID,
		Tick:      s.tick,
		Observer:  s.observer,
		Stream:    s.d.Stream.Snapshot(),
		Terrain:   s.d.Terrain.Stats(),
		Saves:     s.d.Saves.Stats(),
		LastSave:  s.lastSave,
		UpdatedAt: now,
	}
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()

	s.d.Metrics.SetChunkStates(map[string]int{
		stream.LoadRequested.String():   st.Stream.LoadRequested,
		stream.Loaded.String():          st.Stream.Loaded,
		stream.UnloadRequested.String(): st.Stream.UnloadRequested,
	}, st.Stream.DeferredLoads, st.Stream.DeferredUnloads)
	s.d.Metrics.SetSaveQueue(st.Saves.Pending, st.Saves.Outstanding)
}

func (s *Session) printf(format string, args ...any) {
	if s.d.Logger != nil {
		s.d.Logger.Printf(format, args...)
	}
}
