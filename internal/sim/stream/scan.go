package stream

import (
	"sync"
	"time"

	"voxelstream.ai/internal/sim/chunks"
)

// ScanCache remembers when and where the last candidate scan ran.
type ScanCache struct {
	mu    sync.Mutex
	valid bool
	at    time.Time
	chunk chunks.Coord
}

// ShouldRescan reports whether a scan is due and, if so, records (now, chunk)
// as the latest scan. A scan is skipped only when the observer is still in the
// cached chunk and less than interval has passed.
func (s *ScanCache) ShouldRescan(now time.Time, chunk chunks.Coord, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && chunk == s.chunk && now.Sub(s.at) < interval {
		return false
	}
	s.valid = true
	s.at = now
	s.chunk = chunk
	return true
}

func (s *ScanCache) Last() (time.Time, chunks.Coord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.at, s.chunk, s.valid
}

// Invalidate forces the next ShouldRescan to report true.
func (s *ScanCache) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}
