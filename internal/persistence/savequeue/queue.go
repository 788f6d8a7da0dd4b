// Package savequeue holds the latest unsaved payload per world.
package savequeue

import "sort"

type Entry[P any] struct {
	WorldID string
	Payload P
}

// Queue keeps at most one pending payload per world (last write wins) and
// tracks which worlds have a write in flight. Owned by the tick goroutine.
type Queue[P any] struct {
	pending  map[string]P
	inFlight map[string]struct{}

	enqueuedTotal   uint64
	supersededTotal uint64
}

func New[P any]() *Queue[P] {
	return &Queue[P]{
		pending:  map[string]P{},
		inFlight: map[string]struct{}{},
	}
}

// Enqueue records payload as the newest snapshot for worldID, replacing any
// pending one.
func (q *Queue[P]) Enqueue(worldID string, payload P) {
	if _, ok := q.pending[worldID]; ok {
		q.supersededTotal++
	}
	q.pending[worldID] = payload
	q.enqueuedTotal++
}

// DrainReady removes and returns every pending entry whose world has no write
// in flight, marking those worlds in flight. Entries are sorted by world ID.
func (q *Queue[P]) DrainReady() []Entry[P] {
	if len(q.pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		if _, busy := q.inFlight[id]; busy {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Entry[P], 0, len(ids))
	for _, id := range ids {
		out = append(out, Entry[P]{WorldID: id, Payload: q.pending[id]})
		delete(q.pending, id)
		q.inFlight[id] = struct{}{}
	}
	return out
}

// MarkDone clears the in-flight mark for worldID. A payload enqueued while the
// write was running becomes ready for the next DrainReady.
func (q *Queue[P]) MarkDone(worldID string) {
	delete(q.inFlight, worldID)
}

func (q *Queue[P]) Pending(worldID string) (P, bool) {
	p, ok := q.pending[worldID]
	return p, ok
}

func (q *Queue[P]) InFlight(worldID string) bool {
	_, ok := q.inFlight[worldID]
	return ok
}

func (q *Queue[P]) Len() int { return len(q.pending) }

func (q *Queue[P]) InFlightLen() int { return len(q.inFlight) }

type Stats struct {
	Pending         int
	InFlight        int
	EnqueuedTotal   uint64
	SupersededTotal uint64
}

func (q *Queue[P]) Stats() Stats {
	return Stats{
		Pending:         len(q.pending),
		InFlight:        len(q.inFlight),
		EnqueuedTotal:   q.enqueuedTotal,
		SupersededTotal: q.supersededTotal,
	}
}
