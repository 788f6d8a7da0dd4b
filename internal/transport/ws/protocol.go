package ws

import (
	"encoding/json"

	"voxelstream.ai/internal/sim/game"
)

const Version = 1

const (
	TypeHello      = "HELLO"
	TypePose       = "POSE"
	TypeEdit       = "EDIT"
	TypeWelcome    = "WELCOME"
	TypeEditResult = "EDIT_RESULT"
	TypeStats      = "STATS"
)

type baseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
}

func decodeBase(b []byte) (baseMsg, error) {
	var m baseMsg
	err := json.Unmarshal(b, &m)
	return m, err
}

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	Name            string `json:"name"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	WorldID         string `json:"world_id"`
	ChunkSize       int    `json:"chunk_size"`
	StatsEveryMS    int64  `json:"stats_every_ms"`
}

// PoseMsg moves the observer. Coordinates are in blocks.
type PoseMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion int     `json:"protocol_version"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	Z               float64 `json:"z"`
}

type EditMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	X               int    `json:"x"`
	Y               int    `json:"y"`
	Z               int    `json:"z"`
	Block           string `json:"block,omitempty"`
}

type EditResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion int    `json:"protocol_version"`
	ID              string `json:"id"`
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
}

type StatsMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion int        `json:"protocol_version"`
	State           game.State `json:"state"`
}
