package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Job is a handle to work running off the tick goroutine. Poll never blocks;
// Value and Err are valid once Poll has reported done.
type Job[T any] struct {
	id   string
	done chan struct{}
	val  T
	err  error
}

func newJob[T any]() *Job[T] {
	return &Job[T]{id: uuid.NewString(), done: make(chan struct{})}
}

// Completed returns a job that is already done. Useful for collaborators that
// can answer synchronously.
func Completed[T any](v T, err error) *Job[T] {
	j := newJob[T]()
	j.finish(v, err)
	return j
}

func (j *Job[T]) ID() string { return j.id }

func (j *Job[T]) finish(v T, err error) {
	j.val = v
	j.err = err
	close(j.done)
}

// Poll performs one readiness check.
func (j *Job[T]) Poll() (bool, error) {
	select {
	case <-j.done:
		return true, j.err
	default:
		return false, nil
	}
}

func (j *Job[T]) Value() T { return j.val }

func (j *Job[T]) Err() error { return j.err }

// Done is closed when the job finishes.
func (j *Job[T]) Done() <-chan struct{} { return j.done }

// Wait blocks until the job finishes or ctx ends. Not for use on the tick goroutine.
func (j *Job[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-j.done:
		return j.val, j.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// PanicError is returned by a job whose function panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}
