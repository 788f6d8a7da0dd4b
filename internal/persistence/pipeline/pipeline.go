// Package pipeline turns queued world saves into background write jobs and
// reconciles their results on the tick goroutine.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"voxelstream.ai/internal/jobs"
	"voxelstream.ai/internal/persistence/savequeue"
)

// Serializer encodes a payload. It runs on a worker goroutine and must not
// touch shared state.
type Serializer[P any] interface {
	Serialize(payload P) ([]byte, error)
}

type SerializeFunc[P any] func(payload P) ([]byte, error)

func (f SerializeFunc[P]) Serialize(payload P) ([]byte, error) { return f(payload) }

// Writer durably stores the encoded payload for a world.
type Writer interface {
	Write(worldID string, data []byte) error
}

type WriterFunc func(worldID string, data []byte) error

func (f WriterFunc) Write(worldID string, data []byte) error { return f(worldID, data) }

type Result struct {
	WorldID  string
	JobID    string
	Bytes    int
	Duration time.Duration
	Err      error
}

func (r Result) OK() bool { return r.Err == nil }

type Stats struct {
	Pending          int
	Outstanding      int
	DispatchedTotal  uint64
	SucceededTotal   uint64
	FailedTotal      uint64
	OverrunsTotal    uint64
	SupersededTotal  uint64
	LastResultAtUnix int64
}

type written struct {
	bytes int
}

type outstandingJob struct {
	job          *jobs.Job[written]
	dispatchedAt time.Time
}

// Pipeline must be driven from a single goroutine: Enqueue and Poll are not
// safe for concurrent use.
type Pipeline[P any] struct {
	queue  *savequeue.Queue[P]
	pool   *jobs.Pool
	ser    Serializer[P]
	writer Writer
	logger *log.Logger

	outstanding map[string]outstandingJob

	dispatchedTotal uint64
	succeededTotal  uint64
	failedTotal     uint64
	overrunsTotal   uint64
	lastResultAt    time.Time
}

func New[P any](queue *savequeue.Queue[P], pool *jobs.Pool, ser Serializer[P], writer Writer, logger *log.Logger) *Pipeline[P] {
	if queue == nil {
		queue = savequeue.New[P]()
	}
	return &Pipeline[P]{
		queue:       queue,
		pool:        pool,
		ser:         ser,
		writer:      writer,
		logger:      logger,
		outstanding: map[string]outstandingJob{},
	}
}

// Enqueue records payload as the latest snapshot to save for worldID.
func (p *Pipeline[P]) Enqueue(worldID string, payload P) {
	p.queue.Enqueue(worldID, payload)
}

func (p *Pipeline[P]) Queue() *savequeue.Queue[P] { return p.queue }

func (p *Pipeline[P]) Outstanding() int { return len(p.outstanding) }

// Idle reports whether nothing is pending or running.
func (p *Pipeline[P]) Idle() bool {
	return len(p.outstanding) == 0 && p.queue.Len() == 0
}

// Poll checks every outstanding job once, surfaces finished results, then
// dispatches every ready save. It never waits on a job.
func (p *Pipeline[P]) Poll(now time.Time) []Result {
	var out []Result
	for _, worldID := range p.outstandingWorlds() {
		oj := p.outstanding[worldID]
		done, err := oj.job.Poll()
		if !done {
			continue
		}
		delete(p.outstanding, worldID)
		p.queue.MarkDone(worldID)

		res := Result{
			WorldID:  worldID,
			JobID:    oj.job.ID(),
			Duration: now.Sub(oj.dispatchedAt),
		}
		if err != nil {
			res.Err = asPipelineError(worldID, err)
			p.failedTotal++
		} else {
			res.Bytes = oj.job.Value().bytes
			p.succeededTotal++
		}
		p.lastResultAt = now
		out = append(out, res)
	}

	for _, e := range p.queue.DrainReady() {
		if _, busy := p.outstanding[e.WorldID]; busy {
			p.overrun(e)
			continue
		}
		p.dispatch(e, now)
	}
	return out
}

// Flush polls until every pending save has been written or ctx ends. It blocks
// and is meant for shutdown only.
func (p *Pipeline[P]) Flush(ctx context.Context) ([]Result, error) {
	var out []Result
	for {
		out = append(out, p.Poll(time.Now())...)
		if p.Idle() {
			return out, nil
		}
		select {
		case <-p.nextDone():
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

func (p *Pipeline[P]) Stats() Stats {
	qs := p.queue.Stats()
	st := Stats{
		Pending:         qs.Pending,
		Outstanding:     len(p.outstanding),
		DispatchedTotal: p.dispatchedTotal,
		SucceededTotal:  p.succeededTotal,
		FailedTotal:     p.failedTotal,
		OverrunsTotal:   p.overrunsTotal,
		SupersededTotal: qs.SupersededTotal,
	}
	if !p.lastResultAt.IsZero() {
		st.LastResultAtUnix = p.lastResultAt.Unix()
	}
	return st
}

func (p *Pipeline[P]) dispatch(e savequeue.Entry[P], now time.Time) {
	ser := p.ser
	writer := p.writer
	worldID := e.WorldID
	payload := e.Payload
	job := jobs.Submit(p.pool, func() (written, error) {
		data, err := ser.Serialize(payload)
		if err != nil {
			return written{}, &Error{Kind: KindSerializationFailure, WorldID: worldID, Err: err}
		}
		if err := writer.Write(worldID, data); err != nil {
			return written{}, &Error{Kind: KindIOFailure, WorldID: worldID, Err: err}
		}
		return written{bytes: len(data)}, nil
	})
	p.outstanding[worldID] = outstandingJob{job: job, dispatchedAt: now}
	p.dispatchedTotal++
}

// overrun handles a ready entry for a world that already has a job. The
// payload goes back to the queue so it is written after the running job.
func (p *Pipeline[P]) overrun(e savequeue.Entry[P]) {
	p.overrunsTotal++
	err := &Error{Kind: KindSchedulingOverrun, WorldID: e.WorldID, Err: errors.New("job already outstanding")}
	if debugBuild {
		panic(err)
	}
	p.printf("save pipeline: %v", err)
	p.queue.Enqueue(e.WorldID, e.Payload)
}

func (p *Pipeline[P]) outstandingWorlds() []string {
	if len(p.outstanding) == 0 {
		return nil
	}
	ids := make([]string, 0, len(p.outstanding))
	for id := range p.outstanding {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Pipeline[P]) nextDone() <-chan struct{} {
	ids := p.outstandingWorlds()
	if len(ids) == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.outstanding[ids[0]].job.Done()
}

func asPipelineError(worldID string, err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindIOFailure, WorldID: worldID, Err: err}
}

func (p *Pipeline[P]) printf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
