package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	persistlog "voxelstream.ai/internal/persistence/log"
)

func tr(x int32, from, to string) persistlog.TransitionEntry {
	return persistlog.TransitionEntry{X: x, From: from, To: to}
}

func TestReplay_ValidLog(t *testing.T) {
	worldDir := t.TempDir()
	ev := persistlog.NewEventLogger(worldDir)
	now := time.Now()
	entries := []persistlog.StreamEntry{
		{Time: now, Tick: 1, Transitions: []persistlog.TransitionEntry{tr(0, "UNLOADED", "LOAD_REQUESTED"), tr(1, "UNLOADED", "LOAD_REQUESTED")}},
		{Time: now, Tick: 2, Transitions: []persistlog.TransitionEntry{tr(0, "LOAD_REQUESTED", "LOADED")}},
		{Time: now, Tick: 3, Transitions: []persistlog.TransitionEntry{{X: 1, From: "LOAD_REQUESTED", To: "UNLOADED", Err: "boom"}}},
		{Time: now, Tick: 4, Transitions: []persistlog.TransitionEntry{tr(0, "LOADED", "UNLOAD_REQUESTED")}},
		{Time: now, Tick: 5, Transitions: []persistlog.TransitionEntry{tr(0, "UNLOAD_REQUESTED", "UNLOADED")}},
		// restart
		{Time: now, Tick: 1, Transitions: []persistlog.TransitionEntry{tr(0, "UNLOADED", "LOAD_REQUESTED")}},
	}
	for _, e := range entries {
		if err := ev.WriteStream(e); err != nil {
			t.Fatalf("WriteStream: %v", err)
		}
	}
	if err := ev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, err := listEventFiles(filepath.Join(worldDir, "events"), "stream-")
	if err != nil || len(files) == 0 {
		t.Fatalf("files=%v err=%v", files, err)
	}
	r := newReplayer(0)
	for _, f := range files {
		if err := r.replayFile(f); err != nil {
			t.Fatalf("replayFile: %v", err)
		}
	}
	if r.entries != 6 || r.transitions != 7 || r.runs != 2 || r.failed != 1 {
		t.Fatalf("entries=%d transitions=%d runs=%d failed=%d", r.entries, r.transitions, r.runs, r.failed)
	}
	if r.resident() != 1 {
		t.Fatalf("resident=%d want=1", r.resident())
	}
}

func TestReplay_RejectsIllegalTransition(t *testing.T) {
	r := newReplayer(0)
	if err := r.apply(persistlog.StreamEntry{Tick: 1, Transitions: []persistlog.TransitionEntry{tr(0, "UNLOADED", "LOAD_REQUESTED")}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	err := r.apply(persistlog.StreamEntry{Tick: 2, Transitions: []persistlog.TransitionEntry{tr(0, "LOAD_REQUESTED", "UNLOAD_REQUESTED")}})
	if err == nil || !strings.Contains(err.Error(), "illegal transition") {
		t.Fatalf("err=%v want illegal transition", err)
	}
}

func TestReplay_RejectsStateMismatch(t *testing.T) {
	r := newReplayer(0)
	err := r.apply(persistlog.StreamEntry{Tick: 1, Transitions: []persistlog.TransitionEntry{tr(0, "LOADED", "UNLOAD_REQUESTED")}})
	if err == nil || !strings.Contains(err.Error(), "but chunk is UNLOADED") {
		t.Fatalf("err=%v want mismatch", err)
	}
}

func TestReplay_ToTickStops(t *testing.T) {
	worldDir := t.TempDir()
	ev := persistlog.NewEventLogger(worldDir)
	_ = ev.WriteStream(persistlog.StreamEntry{Tick: 1, Transitions: []persistlog.TransitionEntry{tr(0, "UNLOADED", "LOAD_REQUESTED")}})
	_ = ev.WriteStream(persistlog.StreamEntry{Tick: 9, Transitions: []persistlog.TransitionEntry{tr(0, "LOADED", "LOADED")}})
	if err := ev.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	files, _ := listEventFiles(filepath.Join(worldDir, "events"), "stream-")
	r := newReplayer(5)
	for _, f := range files {
		if err := r.replayFile(f); err != nil {
			t.Fatalf("replayFile: %v", err)
		}
		if r.done {
			break
		}
	}
	if !r.done || r.entries != 1 {
		t.Fatalf("done=%v entries=%d", r.done, r.entries)
	}
}
