package terrain

import (
	"sort"

	"voxelstream.ai/internal/sim/chunks"
)

// Store holds resident chunks. Accessed only from the tick goroutine.
type Store struct {
	chunks map[chunks.Coord]*Chunk
}

func NewStore() *Store {
	return &Store{chunks: map[chunks.Coord]*Chunk{}}
}

func (s *Store) Get(c chunks.Coord) *Chunk { return s.chunks[c] }

func (s *Store) Put(ch *Chunk) { s.chunks[ch.Coord] = ch }

func (s *Store) Delete(c chunks.Coord) { delete(s.chunks, c) }

func (s *Store) Len() int { return len(s.chunks) }

func (s *Store) Coords() []chunks.Coord {
	out := make([]chunks.Coord, 0, len(s.chunks))
	for c := range s.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (s *Store) DirtyCount() int {
	n := 0
	for _, ch := range s.chunks {
		if ch.Dirty() {
			n++
		}
	}
	return n
}
