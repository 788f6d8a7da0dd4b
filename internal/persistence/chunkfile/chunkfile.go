// Package chunkfile stores one chunk per file as a JSON header line followed
// by a gob body, the whole stream zstd compressed.
package chunkfile

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelstream.ai/internal/persistence/fsutil"
	"voxelstream.ai/internal/sim/chunks"
)

const Version = 1

var ErrNotFound = errors.New("chunk file not found")

type Header struct {
	Version int          `json:"version"`
	WorldID string       `json:"world_id"`
	Coord   chunks.Coord `json:"coord"`
	Size    int          `json:"size"`
	Digest  string       `json:"digest,omitempty"`
}

type Record struct {
	Header Header
	Blocks []byte
}

// Store lays chunk files out as <root>/<world>/chunks/<x>_<y>_<z>.vxc.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Path(worldID string, c chunks.Coord) string {
	name := fmt.Sprintf("%d_%d_%d.vxc", c.X, c.Y, c.Z)
	return filepath.Join(s.root, worldID, "chunks", name)
}

func (s *Store) Exists(worldID string, c chunks.Coord) bool {
	_, err := os.Stat(s.Path(worldID, c))
	return err == nil
}

func (s *Store) Write(rec Record) error {
	if rec.Header.WorldID == "" {
		return fmt.Errorf("chunk record has no world id")
	}
	if want := rec.Header.Size * rec.Header.Size * rec.Header.Size; len(rec.Blocks) != want {
		return fmt.Errorf("chunk %s: blocks=%d want=%d", rec.Header.Coord, len(rec.Blocks), want)
	}
	rec.Header.Version = Version
	return fsutil.WriteAtomic(s.Path(rec.Header.WorldID, rec.Header.Coord), func(w io.Writer) error {
		return Encode(w, rec)
	})
}

// Read returns ErrNotFound when the chunk has never been written.
func (s *Store) Read(worldID string, c chunks.Coord) (Record, error) {
	f, err := os.Open(s.Path(worldID, c))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	defer f.Close()
	rec, err := Decode(f)
	if err != nil {
		return rec, fmt.Errorf("chunk %s/%s: %w", worldID, c, err)
	}
	if rec.Header.Coord != c {
		return rec, fmt.Errorf("chunk %s/%s: file holds %s", worldID, c, rec.Header.Coord)
	}
	return rec, nil
}

func Encode(w io.Writer, rec Record) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(rec.Header)
	if err != nil {
		enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&rec); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (Record, error) {
	var rec Record
	dec, err := zstd.NewReader(r)
	if err != nil {
		return rec, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return rec, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return rec, fmt.Errorf("header: %w", err)
	}
	if h.Version != Version {
		return rec, fmt.Errorf("unsupported chunk file version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&rec); err != nil {
		return rec, fmt.Errorf("gob decode: %w", err)
	}
	return rec, nil
}
