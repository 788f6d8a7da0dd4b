package worldmeta

import (
	"errors"
	"testing"
	"time"
)

type fakeSaver struct {
	saved []Info
}

func (f *fakeSaver) Enqueue(_ string, info Info) { f.saved = append(f.saved, info) }

func newTestManager(t *testing.T) (*Manager, *fakeSaver) {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	saver := &fakeSaver{}
	m := NewManager(s, saver, nil)
	clock := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return m, saver
}

func TestManager_CreateSelectTouch(t *testing.T) {
	m, saver := newTestManager(t)

	info, err := m.CreateWorld(Info{Name: "home"})
	if err != nil {
		t.Fatalf("CreateWorld: %v", err)
	}
	if info.Seed != DefaultSeed || info.GameMode != GameModeCreative || info.WorldType != WorldTypeDefault {
		t.Fatalf("defaults not applied: %+v", info)
	}
	if _, err := m.CreateWorld(Info{Name: "home"}); !errors.Is(err, ErrWorldExists) {
		t.Fatalf("err=%v want ErrWorldExists", err)
	}

	if _, err := m.TouchCurrent(); !errors.Is(err, ErrNoCurrentWorld) {
		t.Fatalf("err=%v want ErrNoCurrentWorld", err)
	}
	if err := m.SelectWorld("nope"); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("err=%v want ErrWorldNotFound", err)
	}
	if err := m.SelectWorld("home"); err != nil {
		t.Fatalf("SelectWorld: %v", err)
	}
	touched, err := m.TouchCurrent()
	if err != nil {
		t.Fatalf("TouchCurrent: %v", err)
	}
	if !touched.LastPlayed.After(info.LastPlayed) {
		t.Fatalf("last_played not advanced: %v <= %v", touched.LastPlayed, info.LastPlayed)
	}
	if len(saver.saved) != 1 || saver.saved[0].LastPlayed != touched.LastPlayed {
		t.Fatalf("saved=%+v", saver.saved)
	}

	// memory only until the saver writes it
	onDisk, err := m.Store().Read("home")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !onDisk.LastPlayed.Equal(info.LastPlayed) {
		t.Fatalf("disk last_played=%v want unchanged %v", onDisk.LastPlayed, info.LastPlayed)
	}
}

func TestManager_LoadAndDelete(t *testing.T) {
	m, _ := newTestManager(t)
	for _, name := range []string{"a", "b"} {
		if _, err := m.CreateWorld(Info{Name: name}); err != nil {
			t.Fatalf("CreateWorld: %v", err)
		}
	}
	_ = m.SelectWorld("b")

	fresh := NewManager(m.Store(), nil, nil)
	if n := fresh.LoadWorlds(); n != 2 {
		t.Fatalf("loaded=%d want=2", n)
	}
	// b was created later so it sorts first
	if ws := fresh.Worlds(); ws[0].Name != "b" {
		t.Fatalf("worlds=%+v", ws)
	}

	if err := m.DeleteWorld("b"); err != nil {
		t.Fatalf("DeleteWorld: %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Fatalf("deleting the current world must clear the selection")
	}
	if m.Store().Exists("b") {
		t.Fatalf("world dir still on disk")
	}
	if err := m.DeleteWorld("b"); !errors.Is(err, ErrWorldNotFound) {
		t.Fatalf("err=%v want ErrWorldNotFound", err)
	}
	if err := fresh.RequestSave("a"); err == nil {
		t.Fatalf("RequestSave without a saver should fail")
	}
}
