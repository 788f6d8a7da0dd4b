package terrain

import (
	"fmt"
	"strings"

	"voxelstream.ai/internal/sim/behavior"
)

type BlockID uint8

const (
	Air BlockID = iota
	Stone
	Dirt
	Grass
	Bedrock

	blockCount
)

var blockNames = [...]string{
	Air:     "air",
	Stone:   "stone",
	Dirt:    "dirt",
	Grass:   "grass",
	Bedrock: "bedrock",
}

func (b BlockID) String() string {
	if b < blockCount {
		return blockNames[b]
	}
	return fmt.Sprintf("block(%d)", uint8(b))
}

func (b BlockID) Valid() bool { return b < blockCount }

func ParseBlock(s string) (BlockID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range blockNames {
		if name == s {
			return BlockID(i), nil
		}
	}
	return Air, fmt.Errorf("unknown block %q", s)
}

// RegisterDefaults installs the built-in block definitions. Scripts loaded
// afterwards may replace any of them.
func RegisterDefaults(reg *behavior.Registry) error {
	defs := []struct {
		def behavior.Def
		b   behavior.Behavior
	}{
		{behavior.Def{Name: "air", Transparent: true}, nil},
		{behavior.Def{Name: "stone", Hardness: 1.5, Solid: true, Texture: "stone"}, nil},
		{behavior.Def{Name: "dirt", Hardness: 0.5, Solid: true, Texture: "dirt"}, nil},
		{behavior.Def{Name: "grass", Hardness: 0.6, Solid: true, Texture: "grass"}, nil},
		{behavior.Def{Name: "bedrock", Solid: true, Texture: "bedrock"}, behavior.Unbreakable{}},
	}
	for _, d := range defs {
		if err := reg.Register(d.def, d.b); err != nil {
			return err
		}
	}
	return nil
}
