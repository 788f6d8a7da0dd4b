package stream

import (
	"fmt"
	"math"
	"time"
)

type Config struct {
	// Radii are in chunk units.
	RenderDistance float64
	UnloadDistance float64

	MaxChunksPerFrame      int
	MaxUnloadsPerFrame     int
	MaxCompletionsPerFrame int
	MaxLoadedChunks        int

	CheckInterval time.Duration
	ChunkSize     int
}

func DefaultConfig() Config {
	return Config{
		RenderDistance:         12,
		UnloadDistance:         14,
		MaxChunksPerFrame:      3,
		MaxUnloadsPerFrame:     5,
		MaxCompletionsPerFrame: 8,
		MaxLoadedChunks:        1000,
		CheckInterval:          500 * time.Millisecond,
		ChunkSize:              32,
	}
}

// MaxRenderDistance bounds both radii. A scan enumerates the cube around the
// observer, so the cost grows with the cube of the radius.
const MaxRenderDistance = 64

// SphereChunks estimates how many chunks lie inside the render sphere.
func (c Config) SphereChunks() int {
	r := c.RenderDistance
	return int(4.0 / 3.0 * math.Pi * r * r * r)
}

func (c Config) Validate() error {
	if c.RenderDistance < 0 {
		return fmt.Errorf("render_distance must be >= 0")
	}
	if c.RenderDistance > MaxRenderDistance {
		return fmt.Errorf("render_distance (%g) must be <= %d", c.RenderDistance, MaxRenderDistance)
	}
	if c.UnloadDistance < c.RenderDistance {
		return fmt.Errorf("unload_distance (%g) must be >= render_distance (%g)", c.UnloadDistance, c.RenderDistance)
	}
	if c.UnloadDistance > MaxRenderDistance {
		return fmt.Errorf("unload_distance (%g) must be <= %d", c.UnloadDistance, MaxRenderDistance)
	}
	if c.MaxChunksPerFrame <= 0 {
		return fmt.Errorf("max_chunks_per_frame must be > 0")
	}
	if c.MaxUnloadsPerFrame <= 0 {
		return fmt.Errorf("max_unloads_per_frame must be > 0")
	}
	if c.MaxCompletionsPerFrame <= 0 {
		return fmt.Errorf("max_completions_per_frame must be > 0")
	}
	if c.MaxLoadedChunks <= 0 {
		return fmt.Errorf("max_loaded_chunks must be > 0")
	}
	if c.CheckInterval < 0 {
		return fmt.Errorf("check_interval must be >= 0")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0")
	}
	return nil
}
