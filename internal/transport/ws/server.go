// Package ws is the observer transport: clients stream their pose and block
// edits in and receive periodic session stats.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/sim/chunks"
	"voxelstream.ai/internal/sim/game"
	"voxelstream.ai/internal/sim/terrain"
)

// Backend is the session the server drives.
type Backend interface {
	SetPose(p chunks.Vec3)
	RequestEdit(ctx context.Context, e terrain.Edit) error
	State() game.State
}

type Config struct {
	ChunkSize     int
	SendQueue     int
	StatsEveryHz  int
	MaxMessageLen int64
	EditTimeout   time.Duration
}

type Stats struct {
	Active       int64  `json:"active"`
	Accepted     uint64 `json:"accepted_total"`
	Dropped      uint64 `json:"dropped_total"`
	BadMessages  uint64 `json:"bad_messages_total"`
	EditsHandled uint64 `json:"edits_total"`
}

type Server struct {
	backend Backend
	cfg     Config
	log     *log.Logger

	upgrader websocket.Upgrader

	active   atomic.Int64
	accepted atomic.Uint64
	dropped  atomic.Uint64
	bad      atomic.Uint64
	edits    atomic.Uint64
}

func NewServer(b Backend, cfg Config, logger *log.Logger) *Server {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = 64
	}
	if cfg.StatsEveryHz <= 0 {
		cfg.StatsEveryHz = 2
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = 64 * 1024
	}
	if cfg.EditTimeout <= 0 {
		cfg.EditTimeout = 2 * time.Second
	}
	return &Server{
		backend: b,
		cfg:     cfg,
		log:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Active:       s.active.Load(),
		Accepted:     s.accepted.Load(),
		Dropped:      s.dropped.Load(),
		BadMessages:  s.bad.Load(),
		EditsHandled: s.edits.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(s.cfg.MaxMessageLen)

		sid, name := s.handshake(conn)
		if sid == "" {
			return
		}
		s.accepted.Add(1)
		s.active.Add(1)
		defer s.active.Add(-1)
		s.printf("session %s joined name=%s remote=%s", sid, name, r.RemoteAddr)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		out := make(chan []byte, s.cfg.SendQueue)
		writerDone := make(chan struct{})

		// Writer goroutine.
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Stats pusher.
		go func() {
			t := time.NewTicker(time.Second / time.Duration(s.cfg.StatsEveryHz))
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					s.send(out, StatsMsg{Type: TypeStats, ProtocolVersion: Version, State: s.backend.State()})
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(ctx, sid, msg, out)
		}

		cancel()
		<-writerDone
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		s.printf("session %s left", sid)
	}
}

func (s *Server) handle(ctx context.Context, sid string, msg []byte, out chan []byte) {
	base, err := decodeBase(msg)
	if err != nil || base.ProtocolVersion != Version {
		s.bad.Add(1)
		return
	}
	switch base.Type {
	case TypePose:
		var p PoseMsg
		if err := json.Unmarshal(msg, &p); err != nil {
			s.bad.Add(1)
			return
		}
		s.backend.SetPose(chunks.Vec3{X: p.X, Y: p.Y, Z: p.Z})
	case TypeEdit:
		var e EditMsg
		if err := json.Unmarshal(msg, &e); err != nil {
			s.bad.Add(1)
			return
		}
		s.edits.Add(1)
		res := EditResultMsg{Type: TypeEditResult, ProtocolVersion: Version, ID: e.ID}
		if err := s.applyEdit(ctx, sid, e); err != nil {
			res.Error = err.Error()
		} else {
			res.OK = true
		}
		s.send(out, res)
	default:
		s.bad.Add(1)
	}
}

func (s *Server) applyEdit(ctx context.Context, sid string, e EditMsg) error {
	edit := terrain.Edit{
		Actor: sid,
		Kind:  terrain.EditKind(strings.ToLower(e.Kind)),
		X:     e.X,
		Y:     e.Y,
		Z:     e.Z,
	}
	if e.Block != "" {
		b, err := terrain.ParseBlock(e.Block)
		if err != nil {
			return err
		}
		edit.Block = b
	}
	ectx, cancel := context.WithTimeout(ctx, s.cfg.EditTimeout)
	defer cancel()
	return s.backend.RequestEdit(ectx, edit)
}

// send drops the message when the client is not keeping up.
func (s *Server) send(out chan []byte, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
		s.dropped.Add(1)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sid, name string) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", ""
	}

	base, err := decodeBase(msg)
	if err != nil || base.Type != TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", ""
	}
	var hello HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", ""
	}
	if hello.ProtocolVersion != Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", ""
	}
	if hello.Name == "" {
		hello.Name = "observer"
	}

	sid = uuid.NewString()
	welcome := WelcomeMsg{
		Type:            TypeWelcome,
		ProtocolVersion: Version,
		SessionID:       sid,
		WorldID:         s.backend.State().WorldID,
		ChunkSize:       s.cfg.ChunkSize,
		StatsEveryMS:    (time.Second / time.Duration(s.cfg.StatsEveryHz)).Milliseconds(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", ""
	}
	return sid, hello.Name
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
