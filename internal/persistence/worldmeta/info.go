// Package worldmeta stores per-world metadata (world_info.json) under a saves
// directory.
package worldmeta

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type GameMode string

const (
	GameModeSurvival  GameMode = "survival"
	GameModeCreative  GameMode = "creative"
	GameModeAdventure GameMode = "adventure"
	GameModeSpectator GameMode = "spectator"
)

type WorldType string

const (
	WorldTypeDefault     WorldType = "default"
	WorldTypeFlat        WorldType = "flat"
	WorldTypeLargeBiomes WorldType = "large_biomes"
	WorldTypeAmplified   WorldType = "amplified"
)

const (
	FormatVersion = 1
	DefaultSeed   = 12345
	maxNameLen    = 64
)

// Info is the persisted metadata of one world. The world ID is its Name.
type Info struct {
	FormatVersion int       `json:"format_version"`
	Name          string    `json:"name"`
	Seed          uint32    `json:"seed"`
	CreatedTime   time.Time `json:"created_time"`
	LastPlayed    time.Time `json:"last_played"`
	GameMode      GameMode  `json:"game_mode"`
	WorldType     WorldType `json:"world_type"`
}

func (i *Info) applyDefaults(now time.Time) {
	if i.FormatVersion == 0 {
		i.FormatVersion = FormatVersion
	}
	if i.Seed == 0 {
		i.Seed = DefaultSeed
	}
	if i.CreatedTime.IsZero() {
		i.CreatedTime = now.UTC()
	}
	if i.LastPlayed.IsZero() {
		i.LastPlayed = i.CreatedTime
	}
	if i.GameMode == "" {
		i.GameMode = GameModeCreative
	}
	if i.WorldType == "" {
		i.WorldType = WorldTypeDefault
	}
}

func (i Info) Validate() error {
	if err := ValidateName(i.Name); err != nil {
		return err
	}
	switch i.GameMode {
	case GameModeSurvival, GameModeCreative, GameModeAdventure, GameModeSpectator:
	default:
		return fmt.Errorf("unknown game_mode %q", i.GameMode)
	}
	switch i.WorldType {
	case WorldTypeDefault, WorldTypeFlat, WorldTypeLargeBiomes, WorldTypeAmplified:
	default:
		return fmt.Errorf("unknown world_type %q", i.WorldType)
	}
	return nil
}

// ValidateName rejects names that cannot be used as a directory under the
// saves root.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("world name is empty")
	case len(name) > maxNameLen:
		return fmt.Errorf("world name longer than %d bytes", maxNameLen)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("world name %q starts with a dot", name)
	case strings.ContainsAny(name, `/\:`):
		return fmt.Errorf("world name %q contains a path separator", name)
	}
	return nil
}

// Encode renders info as indented JSON.
func Encode(info Info) ([]byte, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
