package terrain

import (
	"math"

	"voxelstream.ai/internal/persistence/worldmeta"
	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/mathx"
)

type GenConfig struct {
	Seed      uint32
	WorldType worldmeta.WorldType

	SeaLevel  int
	MinHeight int
	MaxHeight int
	Scale     float64
	Octaves   int
}

func DefaultGenConfig() GenConfig {
	return GenConfig{
		Seed:      worldmeta.DefaultSeed,
		WorldType: worldmeta.WorldTypeDefault,
		SeaLevel:  64,
		MinHeight: 0,
		MaxHeight: 128,
		Scale:     0.01,
		Octaves:   4,
	}
}

// Generator produces chunks from a seed alone; it holds no mutable state and
// is safe for concurrent use.
type Generator struct {
	cfg  GenConfig
	seed int64
}

func NewGenerator(cfg GenConfig) *Generator {
	d := DefaultGenConfig()
	if cfg.MaxHeight <= cfg.MinHeight {
		cfg.MinHeight, cfg.MaxHeight = d.MinHeight, d.MaxHeight
	}
	if cfg.Scale <= 0 {
		cfg.Scale = d.Scale
	}
	if cfg.Octaves <= 0 {
		cfg.Octaves = d.Octaves
	}
	if cfg.WorldType == "" {
		cfg.WorldType = d.WorldType
	}
	switch cfg.WorldType {
	case worldmeta.WorldTypeLargeBiomes:
		cfg.Scale /= 4
	case worldmeta.WorldTypeAmplified:
		cfg.MaxHeight = cfg.MinHeight + 2*(cfg.MaxHeight-cfg.MinHeight)
	}
	return &Generator{cfg: cfg, seed: int64(cfg.Seed)}
}

func (g *Generator) Config() GenConfig { return g.cfg }

// SurfaceHeight is the y of the topmost solid block of column (x, z).
func (g *Generator) SurfaceHeight(x, z int) int {
	if g.cfg.WorldType == worldmeta.WorldTypeFlat {
		return g.cfg.SeaLevel + 1
	}
	var h float64
	amp := 1.0
	freq := g.cfg.Scale
	norm := 0.0
	for o := 0; o < g.cfg.Octaves; o++ {
		h += g.noise(o, float64(x)*freq, float64(z)*freq) * amp
		norm += amp
		amp *= 0.5
		freq *= 2
	}
	h /= norm
	span := float64(g.cfg.MaxHeight - g.cfg.MinHeight)
	return g.cfg.MinHeight + int((h+1)*0.5*span)
}

func (g *Generator) blockAt(y, surface int) BlockID {
	switch {
	case y < g.cfg.MinHeight || y > surface:
		return Air
	case y <= g.cfg.MinHeight+2:
		return Bedrock
	case y == surface:
		if surface > g.cfg.SeaLevel {
			return Grass
		}
		return Dirt
	case y > surface-4:
		return Dirt
	default:
		return Stone
	}
}

func (g *Generator) Generate(c chunks.Coord, size int) *Chunk {
	ch := NewChunk(c, size)
	baseX := int(c.X) * size
	baseY := int(c.Y) * size
	baseZ := int(c.Z) * size
	if baseY > g.cfg.MaxHeight || baseY+size <= g.cfg.MinHeight {
		return ch
	}
	for z := 0; z < size; z++ {
		for x := 0; x < size; x++ {
			surface := g.SurfaceHeight(baseX+x, baseZ+z)
			for y := 0; y < size; y++ {
				ch.Blocks[ch.index(x, y, z)] = g.blockAt(baseY+y, surface)
			}
		}
	}
	return ch
}

// noise is seeded value noise in [-1, 1] with smoothstep interpolation.
func (g *Generator) noise(octave int, x, z float64) float64 {
	seed := g.seed + int64(octave)*7919
	x0 := math.Floor(x)
	z0 := math.Floor(z)
	tx := smooth(x - x0)
	tz := smooth(z - z0)
	ix, iz := int(x0), int(z0)

	v00 := lattice(seed, ix, iz)
	v10 := lattice(seed, ix+1, iz)
	v01 := lattice(seed, ix, iz+1)
	v11 := lattice(seed, ix+1, iz+1)
	a := v00 + (v10-v00)*tx
	b := v01 + (v11-v01)*tx
	return a + (b-a)*tz
}

func lattice(seed int64, x, z int) float64 {
	return mathx.Unit(mathx.Hash2(seed, x, z))*2 - 1
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}
