package terrain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"voxelstream.ai/internal/persistence/chunkfile"
	"voxelstream.ai/internal/sim/chunks"
)

type Chunk struct {
	Coord  chunks.Coord
	Size   int
	Blocks []BlockID // len = Size^3

	dirty     bool
	hash      [32]byte
	hashValid bool
}

func NewChunk(c chunks.Coord, size int) *Chunk {
	return &Chunk{Coord: c, Size: size, Blocks: make([]BlockID, size*size*size)}
}

func (c *Chunk) index(x, y, z int) int {
	// x fastest, then z, then y
	return (y*c.Size+z)*c.Size + x
}

func (c *Chunk) inside(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < c.Size && y < c.Size && z < c.Size
}

func (c *Chunk) Get(x, y, z int) BlockID {
	if !c.inside(x, y, z) {
		return Air
	}
	return c.Blocks[c.index(x, y, z)]
}

// Set reports whether the block changed.
func (c *Chunk) Set(x, y, z int, b BlockID) bool {
	if !c.inside(x, y, z) {
		return false
	}
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return false
	}
	c.Blocks[i] = b
	c.dirty = true
	c.hashValid = false
	return true
}

// Dirty reports whether the chunk differs from what is on disk.
func (c *Chunk) Dirty() bool { return c.dirty }

func (c *Chunk) Digest() string {
	if !c.hashValid {
		h := sha256.New()
		buf := make([]byte, len(c.Blocks))
		for i, b := range c.Blocks {
			buf[i] = byte(b)
		}
		h.Write(buf)
		copy(c.hash[:], h.Sum(nil))
		c.hashValid = true
	}
	return hex.EncodeToString(c.hash[:])
}

// Record copies the chunk into a file record, safe to hand to another goroutine.
func (c *Chunk) Record(worldID string) chunkfile.Record {
	blocks := make([]byte, len(c.Blocks))
	for i, b := range c.Blocks {
		blocks[i] = byte(b)
	}
	return chunkfile.Record{
		Header: chunkfile.Header{
			WorldID: worldID,
			Coord:   c.Coord,
			Size:    c.Size,
			Digest:  c.Digest(),
		},
		Blocks: blocks,
	}
}

// ChunkFromRecord rebuilds a chunk from its file record, checking block ids
// and the digest.
func ChunkFromRecord(rec chunkfile.Record) (*Chunk, error) {
	size := rec.Header.Size
	if size <= 0 || len(rec.Blocks) != size*size*size {
		return nil, fmt.Errorf("chunk %s: bad size %d with %d blocks", rec.Header.Coord, size, len(rec.Blocks))
	}
	c := NewChunk(rec.Header.Coord, size)
	for i, b := range rec.Blocks {
		id := BlockID(b)
		if !id.Valid() {
			return nil, fmt.Errorf("chunk %s: unknown block id %d at %d", rec.Header.Coord, b, i)
		}
		c.Blocks[i] = id
	}
	if rec.Header.Digest != "" && rec.Header.Digest != c.Digest() {
		return nil, fmt.Errorf("chunk %s: digest mismatch", rec.Header.Coord)
	}
	return c, nil
}
