package game

import (
	"errors"
	"fmt"
	"log"

	"voxelstream.ai/internal/jobs"
	"voxelstream.ai/internal/metrics"
	"voxelstream.ai/internal/persistence/chunkfile"
	"voxelstream.ai/internal/persistence/indexdb"
	vlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/pipeline"
	"voxelstream.ai/internal/persistence/worldmeta"
	"voxelstream.ai/internal/sim/behavior"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/terrain"
	"voxelstream.ai/internal/sim/tuning"
)

// Runtime is a fully wired session plus the resources it owns.
type Runtime struct {
	Session  *Session
	Worlds   *worldmeta.Manager
	Registry *behavior.Registry
	Index    *indexdb.SQLiteIndex
	Pool     *jobs.Pool

	engine *behavior.Engine
	events *vlog.EventLogger
	audit  *vlog.AuditLogger
}

// Bootstrap opens the saves directory, selects (or creates) the configured
// world and wires streaming, terrain, behaviors and persistence around it.
func Bootstrap(t tuning.Tuning, logger *log.Logger, m *metrics.Metrics) (*Runtime, error) {
	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			_ = rt.Close()
		}
	}()

	store, err := worldmeta.OpenStore(t.World.SavesDir)
	if err != nil {
		return nil, fmt.Errorf("open saves: %w", err)
	}
	rt.Pool = jobs.NewPool(t.Workers.Count, logger)
	saves := pipeline.New[worldmeta.Info](nil, rt.Pool, pipeline.SerializeFunc[worldmeta.Info](worldmeta.Encode), store, logger)

	rt.Worlds = worldmeta.NewManager(store, saves, logger)
	rt.Worlds.LoadWorlds()
	worldID := t.World.DefaultWorld
	if _, exists := rt.Worlds.Get(worldID); !exists {
		if _, err := rt.Worlds.CreateWorld(worldmeta.Info{Name: worldID}); err != nil {
			return nil, err
		}
	}
	if err := rt.Worlds.SelectWorld(worldID); err != nil {
		return nil, err
	}
	info, _ := rt.Worlds.Current()

	rt.Registry = behavior.NewRegistry()
	if err := terrain.RegisterDefaults(rt.Registry); err != nil {
		return nil, err
	}
	rt.engine = behavior.NewEngine(logger)
	n, err := rt.engine.LoadDir(t.World.ScriptsDir, rt.Registry)
	if err != nil {
		return nil, fmt.Errorf("load block scripts: %w", err)
	}
	if n > 0 && logger != nil {
		logger.Printf("loaded %d block scripts from %s", n, t.World.ScriptsDir)
	}

	gc := terrain.DefaultGenConfig()
	gc.Seed = info.Seed
	gc.WorldType = info.WorldType
	svc, err := terrain.NewService(terrain.ServiceConfig{
		WorldID:   worldID,
		ChunkSize: t.Stream.ChunkSize,
		Generator: terrain.NewGenerator(gc),
		Files:     chunkfile.NewStore(t.World.SavesDir),
		Pool:      rt.Pool,
		Registry:  rt.Registry,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	sm, err := stream.NewManager(t.Stream.Config(), svc, svc, nil, logger)
	if err != nil {
		return nil, err
	}

	if t.World.IndexDB != "" {
		rt.Index, err = indexdb.OpenSQLite(t.World.IndexDB)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
	}
	if t.World.EventLog {
		rt.events = vlog.NewEventLogger(store.Dir(worldID))
		rt.audit = vlog.NewAuditLogger(store.Dir(worldID))
	}

	rt.Session, err = New(Config{
		WorldID:          worldID,
		TickInterval:     t.World.TickInterval(),
		AutosaveInterval: t.World.AutosaveInterval,
	}, Deps{
		Worlds:  rt.Worlds,
		Saves:   saves,
		Terrain: svc,
		Stream:  sm,
		Index:   rt.Index,
		Events:  rt.events,
		Audit:   rt.audit,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Printf("world %s ready seed=%d type=%s mode=%s chunk_size=%d", worldID, info.Seed, info.WorldType, info.GameMode, t.Stream.ChunkSize)
	}
	ok = true
	return rt, nil
}

// Close releases everything Bootstrap opened. Call it after Session.Run
// returns.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.events != nil {
		errs = append(errs, rt.events.Close())
	}
	if rt.audit != nil {
		errs = append(errs, rt.audit.Close())
	}
	if rt.Index != nil {
		errs = append(errs, rt.Index.Close())
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	return errors.Join(errs...)
}
