// Package tuning loads the server configuration: a YAML file, then
// VOXEL_* environment overrides.
package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"voxelstream.ai/internal/sim/stream"
)

type Tuning struct {
	Stream  StreamSection  `yaml:"stream" json:"stream"`
	World   WorldSection   `yaml:"world" json:"world"`
	Workers WorkersSection `yaml:"workers" json:"workers"`
	Server  ServerSection  `yaml:"server" json:"server"`
}

type StreamSection struct {
	RenderDistance         float64       `yaml:"render_distance" json:"render_distance" env:"VOXEL_RENDER_DISTANCE"`
	UnloadDistance         float64       `yaml:"unload_distance" json:"unload_distance" env:"VOXEL_UNLOAD_DISTANCE"`
	MaxChunksPerFrame      int           `yaml:"max_chunks_per_frame" json:"max_chunks_per_frame" env:"VOXEL_MAX_CHUNKS_PER_FRAME"`
	MaxUnloadsPerFrame     int           `yaml:"max_unloads_per_frame" json:"max_unloads_per_frame" env:"VOXEL_MAX_UNLOADS_PER_FRAME"`
	MaxCompletionsPerFrame int           `yaml:"max_completions_per_frame" json:"max_completions_per_frame" env:"VOXEL_MAX_COMPLETIONS_PER_FRAME"`
	MaxLoadedChunks        int           `yaml:"max_loaded_chunks" json:"max_loaded_chunks" env:"VOXEL_MAX_LOADED_CHUNKS"`
	CheckInterval          time.Duration `yaml:"check_interval" json:"check_interval" env:"VOXEL_CHECK_INTERVAL"`
	ChunkSize              int           `yaml:"chunk_size" json:"chunk_size" env:"VOXEL_CHUNK_SIZE"`
}

type WorldSection struct {
	SavesDir         string        `yaml:"saves_dir" json:"saves_dir" env:"VOXEL_SAVES_DIR"`
	DefaultWorld     string        `yaml:"default_world" json:"default_world" env:"VOXEL_WORLD"`
	ScriptsDir       string        `yaml:"scripts_dir" json:"scripts_dir" env:"VOXEL_SCRIPTS_DIR"`
	IndexDB          string        `yaml:"index_db" json:"index_db" env:"VOXEL_INDEX_DB"`
	TickRateHz       int           `yaml:"tick_rate_hz" json:"tick_rate_hz" env:"VOXEL_TICK_RATE_HZ"`
	AutosaveInterval time.Duration `yaml:"autosave_interval" json:"autosave_interval" env:"VOXEL_AUTOSAVE_INTERVAL"`
	EventLog         bool          `yaml:"event_log" json:"event_log" env:"VOXEL_EVENT_LOG"`
}

type WorkersSection struct {
	Count int `yaml:"count" json:"count" env:"VOXEL_WORKERS"`
}

type ServerSection struct {
	Addr          string `yaml:"addr" json:"addr" env:"VOXEL_ADDR"`
	SendQueue     int    `yaml:"send_queue" json:"send_queue" env:"VOXEL_WS_SEND_QUEUE"`
	StatsEveryHz  int    `yaml:"stats_every_hz" json:"stats_every_hz" env:"VOXEL_WS_STATS_HZ"`
	MaxMessageLen int64  `yaml:"max_message_len" json:"max_message_len" env:"VOXEL_WS_MAX_MESSAGE_LEN"`
}

func Defaults() Tuning {
	sc := stream.DefaultConfig()
	return Tuning{
		Stream: StreamSection{
			RenderDistance:         sc.RenderDistance,
			UnloadDistance:         sc.UnloadDistance,
			MaxChunksPerFrame:      sc.MaxChunksPerFrame,
			MaxUnloadsPerFrame:     sc.MaxUnloadsPerFrame,
			MaxCompletionsPerFrame: sc.MaxCompletionsPerFrame,
			MaxLoadedChunks:        sc.MaxLoadedChunks,
			CheckInterval:          sc.CheckInterval,
			ChunkSize:              sc.ChunkSize,
		},
		World: WorldSection{
			SavesDir:         "saves",
			DefaultWorld:     "world",
			ScriptsDir:       "scripts",
			IndexDB:          "saves/index.db",
			TickRateHz:       20,
			AutosaveInterval: 30 * time.Second,
			EventLog:         true,
		},
		Workers: WorkersSection{Count: 4},
		Server: ServerSection{
			Addr:          ":8080",
			SendQueue:     64,
			StatsEveryHz:  2,
			MaxMessageLen: 64 * 1024,
		},
	}
}

// Load reads path over the defaults (an empty path means defaults only),
// applies environment overrides, then normalizes and validates.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return t, err
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			return t, fmt.Errorf("tuning.yaml: %w", err)
		}
	}
	if err := ParseEnv(&t); err != nil {
		return t, err
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Normalize fills blank world and server settings. Stream limits are left
// as given so an explicit zero fails validation instead of turning into a
// default.
func (t *Tuning) Normalize() {
	d := Defaults()
	t.World.SavesDir = strings.TrimSpace(t.World.SavesDir)
	if t.World.SavesDir == "" {
		t.World.SavesDir = d.World.SavesDir
	}
	t.World.DefaultWorld = strings.TrimSpace(t.World.DefaultWorld)
	if t.World.TickRateHz <= 0 {
		t.World.TickRateHz = d.World.TickRateHz
	}
	if t.Workers.Count <= 0 {
		t.Workers.Count = d.Workers.Count
	}
	if t.Server.SendQueue <= 0 {
		t.Server.SendQueue = d.Server.SendQueue
	}
	if t.Server.StatsEveryHz <= 0 {
		t.Server.StatsEveryHz = d.Server.StatsEveryHz
	}
	if t.Server.MaxMessageLen <= 0 {
		t.Server.MaxMessageLen = d.Server.MaxMessageLen
	}
}

func (t Tuning) Validate() error {
	if err := t.Stream.Config().Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	if t.World.TickRateHz > 1000 {
		return fmt.Errorf("world: tick_rate_hz must be <= 1000")
	}
	if t.World.AutosaveInterval < 0 {
		return fmt.Errorf("world: autosave_interval must be >= 0")
	}
	if t.Workers.Count > 256 {
		return fmt.Errorf("workers: count must be <= 256")
	}
	return nil
}

func (s StreamSection) Config() stream.Config {
	return stream.Config{
		RenderDistance:         s.RenderDistance,
		UnloadDistance:         s.UnloadDistance,
		MaxChunksPerFrame:      s.MaxChunksPerFrame,
		MaxUnloadsPerFrame:     s.MaxUnloadsPerFrame,
		MaxCompletionsPerFrame: s.MaxCompletionsPerFrame,
		MaxLoadedChunks:        s.MaxLoadedChunks,
		CheckInterval:          s.CheckInterval,
		ChunkSize:              s.ChunkSize,
	}
}

func (w WorldSection) TickInterval() time.Duration {
	return time.Second / time.Duration(w.TickRateHz)
}
