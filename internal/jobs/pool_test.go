package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSubmit_PollIsNonBlocking(t *testing.T) {
	p := NewPool(1, nil)
	defer p.Close()

	release := make(chan struct{})
	j := Submit(p, func() (int, error) {
		<-release
		return 7, nil
	})
	start := time.Now()
	for i := 0; i < 1000; i++ {
		if done, _ := j.Poll(); done {
			t.Fatalf("job reported done before release")
		}
	}
	if d := time.Since(start); d > 100*time.Millisecond {
		t.Fatalf("1000 polls took %v", d)
	}
	close(release)

	v, err := j.Wait(context.Background())
	if err != nil || v != 7 {
		t.Fatalf("v=%d err=%v want=7,nil", v, err)
	}
	done, err := j.Poll()
	if !done || err != nil {
		t.Fatalf("done=%v err=%v after wait", done, err)
	}
	if j.Value() != 7 {
		t.Fatalf("Value=%d want=7", j.Value())
	}
}

func TestSubmit_LimitsConcurrency(t *testing.T) {
	p := NewPool(2, nil)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var handles []*Job[struct{}]
	for i := 0; i < 4; i++ {
		handles = append(handles, Submit(p, func() (struct{}, error) {
			started <- struct{}{}
			<-release
			return struct{}{}, nil
		}))
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("workers did not start")
		}
	}
	select {
	case <-started:
		t.Fatalf("more than 2 jobs running")
	case <-time.After(50 * time.Millisecond):
	}
	if st := p.Stats(); st.Running != 2 || st.Waiting != 2 {
		t.Fatalf("running=%d waiting=%d want=2,2", st.Running, st.Waiting)
	}
	close(release)
	for _, h := range handles {
		if _, err := h.Wait(context.Background()); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if st := p.Stats(); st.CompletedTotal != 4 {
		t.Fatalf("completed=%d want=4", st.CompletedTotal)
	}
}

func TestSubmit_ErrorAndPanic(t *testing.T) {
	p := NewPool(1, nil)
	defer p.Close()

	boom := errors.New("boom")
	j := Submit(p, func() (int, error) { return 0, boom })
	if _, err := j.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	k := Submit(p, func() (int, error) { panic("bad") })
	_, err := k.Wait(context.Background())
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("err=%v want PanicError", err)
	}
	if st := p.Stats(); st.FailedTotal != 2 {
		t.Fatalf("failed=%d want=2", st.FailedTotal)
	}
}

func TestSubmit_AfterClose(t *testing.T) {
	p := NewPool(1, nil)
	p.Close()
	j := Submit(p, func() (int, error) { return 1, nil })
	done, err := j.Poll()
	if !done || !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("done=%v err=%v want closed", done, err)
	}
}

func TestCompleted(t *testing.T) {
	j := Completed("x", nil)
	if done, err := j.Poll(); !done || err != nil || j.Value() != "x" {
		t.Fatalf("done=%v err=%v v=%q", done, err, j.Value())
	}
	if j.ID() == "" {
		t.Fatalf("missing id")
	}
}
