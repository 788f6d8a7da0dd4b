package stream

import "testing"

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	edge := DefaultConfig()
	edge.RenderDistance = MaxRenderDistance
	edge.UnloadDistance = MaxRenderDistance
	if err := edge.Validate(); err != nil {
		t.Fatalf("radius %d: %v", MaxRenderDistance, err)
	}

	cases := map[string]func(c *Config){
		"huge_render":      func(c *Config) { c.RenderDistance, c.UnloadDistance = 5000, 5000 },
		"huge_unload":      func(c *Config) { c.UnloadDistance = MaxRenderDistance + 1 },
		"unload_inside":    func(c *Config) { c.UnloadDistance = c.RenderDistance - 1 },
		"zero_loads":       func(c *Config) { c.MaxChunksPerFrame = 0 },
		"zero_unloads":     func(c *Config) { c.MaxUnloadsPerFrame = 0 },
		"zero_completions": func(c *Config) { c.MaxCompletionsPerFrame = 0 },
		"zero_loaded":      func(c *Config) { c.MaxLoadedChunks = 0 },
		"zero_chunk_size":  func(c *Config) { c.ChunkSize = 0 },
		"negative_check":   func(c *Config) { c.CheckInterval = -1 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error for %+v", name, cfg)
		}
	}
}

func TestConfig_SphereChunks(t *testing.T) {
	cfg := DefaultConfig()
	if n := cfg.SphereChunks(); n < 7000 || n > 7500 {
		t.Fatalf("sphere=%d want about 7238", n)
	}
	cfg.RenderDistance = 0
	if n := cfg.SphereChunks(); n != 0 {
		t.Fatalf("sphere=%d want=0", n)
	}
}
