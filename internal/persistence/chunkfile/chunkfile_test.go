package chunkfile

import (
	"bytes"
	"errors"
	"os"
	"testing"

	"voxelstream.ai/internal/sim/chunks"
)

func testRecord(c chunks.Coord) Record {
	const size = 4
	blocks := make([]byte, size*size*size)
	for i := range blocks {
		blocks[i] = byte(i % 5)
	}
	return Record{
		Header: Header{WorldID: "alpha", Coord: c, Size: size, Digest: "abc"},
		Blocks: blocks,
	}
}

func TestStore_WriteRead(t *testing.T) {
	s := NewStore(t.TempDir())
	c := chunks.Coord{X: -1, Y: 0, Z: 7}
	if s.Exists("alpha", c) {
		t.Fatalf("exists before write")
	}
	if err := s.Write(testRecord(c)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Exists("alpha", c) {
		t.Fatalf("missing after write")
	}
	got, err := s.Read("alpha", c)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Header.Version != Version || got.Header.Coord != c || got.Header.Digest != "abc" {
		t.Fatalf("header=%+v", got.Header)
	}
	if !bytes.Equal(got.Blocks, testRecord(c).Blocks) {
		t.Fatalf("blocks differ")
	}
}

func TestStore_ReadMissing(t *testing.T) {
	s := NewStore(t.TempDir())
	if _, err := s.Read("alpha", chunks.Coord{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestStore_RejectsBadRecords(t *testing.T) {
	s := NewStore(t.TempDir())
	rec := testRecord(chunks.Coord{})
	rec.Blocks = rec.Blocks[:10]
	if err := s.Write(rec); err == nil {
		t.Fatalf("short block slice accepted")
	}
	rec = testRecord(chunks.Coord{})
	rec.Header.WorldID = ""
	if err := s.Write(rec); err == nil {
		t.Fatalf("record without world accepted")
	}
}

func TestStore_CorruptFile(t *testing.T) {
	s := NewStore(t.TempDir())
	c := chunks.Coord{X: 1}
	if err := s.Write(testRecord(c)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := os.WriteFile(s.Path("alpha", c), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := s.Read("alpha", c); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want decode error", err)
	}
}

func TestDecode_VersionCheck(t *testing.T) {
	var buf bytes.Buffer
	rec := testRecord(chunks.Coord{})
	rec.Header.Version = 99
	if err := Encode(&buf, rec); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(&buf); err == nil {
		t.Fatalf("version 99 decoded")
	}
}
