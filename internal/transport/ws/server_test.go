package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/game"
	"voxelstream.ai/internal/sim/terrain"
)

type fakeBackend struct {
	mu    sync.Mutex
	pose  chunks.Vec3
	edits []terrain.Edit
}

func (f *fakeBackend) SetPose(p chunks.Vec3) {
	f.mu.Lock()
	f.pose = p
	f.mu.Unlock()
}

func (f *fakeBackend) RequestEdit(ctx context.Context, e terrain.Edit) error {
	f.mu.Lock()
	f.edits = append(f.edits, e)
	f.mu.Unlock()
	if e.Kind == terrain.EditBreak && e.Y == 0 {
		return terrain.ErrDenied
	}
	return nil
}

func (f *fakeBackend) State() game.State { return game.State{WorldID: "alpha", Tick: 3} }

func (f *fakeBackend) lastPose() chunks.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readType reads messages until one of the given type arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read %s: %v", typ, err)
		}
		base, err := decodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type != typ {
			continue
		}
		if err := json.Unmarshal(msg, v); err != nil {
			t.Fatalf("unmarshal %s: %v", typ, err)
		}
		return
	}
}

func TestServer_HelloPoseEditStats(t *testing.T) {
	fb := &fakeBackend{}
	srv := NewServer(fb, Config{ChunkSize: 32, StatsEveryHz: 20}, nil)
	conn := dial(t, srv)

	if err := conn.WriteJSON(HelloMsg{Type: TypeHello, ProtocolVersion: Version, Name: "cam"}); err != nil {
		t.Fatalf("hello: %v", err)
	}
	var welcome WelcomeMsg
	readType(t, conn, TypeWelcome, &welcome)
	if welcome.SessionID == "" || welcome.WorldID != "alpha" || welcome.ChunkSize != 32 {
		t.Fatalf("welcome=%+v", welcome)
	}

	if err := conn.WriteJSON(PoseMsg{Type: TypePose, ProtocolVersion: Version, X: 10, Y: 20, Z: -5}); err != nil {
		t.Fatalf("pose: %v", err)
	}
	if err := conn.WriteJSON(EditMsg{Type: TypeEdit, ProtocolVersion: Version, ID: "e1", Kind: "PLACE", X: 1, Y: 5, Z: 1, Block: "stone"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	var res EditResultMsg
	readType(t, conn, TypeEditResult, &res)
	if res.ID != "e1" || !res.OK {
		t.Fatalf("edit result=%+v", res)
	}
	if got := fb.lastPose(); got != (chunks.Vec3{X: 10, Y: 20, Z: -5}) {
		t.Fatalf("pose=%+v", got)
	}

	if err := conn.WriteJSON(EditMsg{Type: TypeEdit, ProtocolVersion: Version, ID: "e2", Kind: "break", X: 1, Y: 0, Z: 1}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	readType(t, conn, TypeEditResult, &res)
	if res.ID != "e2" || res.OK || !strings.Contains(res.Error, terrain.ErrDenied.Error()) {
		t.Fatalf("denied edit result=%+v", res)
	}

	var stats StatsMsg
	readType(t, conn, TypeStats, &stats)
	if stats.State.WorldID != "alpha" || stats.State.Tick != 3 {
		t.Fatalf("stats=%+v", stats.State)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.edits) != 2 || fb.edits[0].Block != terrain.Stone || fb.edits[0].Kind != terrain.EditPlace || fb.edits[0].Actor != welcome.SessionID {
		t.Fatalf("edits=%+v", fb.edits)
	}
}

func TestServer_BadBlockName(t *testing.T) {
	fb := &fakeBackend{}
	conn := dial(t, NewServer(fb, Config{}, nil))
	_ = conn.WriteJSON(HelloMsg{Type: TypeHello, ProtocolVersion: Version})
	var welcome WelcomeMsg
	readType(t, conn, TypeWelcome, &welcome)

	_ = conn.WriteJSON(EditMsg{Type: TypeEdit, ProtocolVersion: Version, ID: "x", Kind: "place", Block: "lava"})
	var res EditResultMsg
	readType(t, conn, TypeEditResult, &res)
	if res.OK || res.Error == "" {
		t.Fatalf("result=%+v want error", res)
	}
}

func TestServer_RequiresHello(t *testing.T) {
	conn := dial(t, NewServer(&fakeBackend{}, Config{}, nil))
	if err := conn.WriteJSON(PoseMsg{Type: TypePose, ProtocolVersion: Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
}
