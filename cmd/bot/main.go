package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"voxelstream.ai/internal/transport/ws"
)

// bot walks an observer around a circle so chunks stream in and out, and
// now and then edits a block at its feet.
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "bot", "observer name")
		radius    = flag.Float64("radius", 200, "walk radius in blocks")
		speed     = flag.Float64("speed", 20, "walk speed in blocks per second")
		y         = flag.Float64("y", 70, "walk height")
		poseHz    = flag.Int("pose_hz", 10, "pose updates per second")
		editEvery = flag.Duration("edit_every", 5*time.Second, "interval between block edits (0 disables)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := ws.HelloMsg{Type: ws.TypeHello, ProtocolVersion: ws.Version, Name: *name}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	go readLoop(conn, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	if *poseHz <= 0 {
		*poseHz = 10
	}
	poseT := time.NewTicker(time.Second / time.Duration(*poseHz))
	defer poseT.Stop()
	var editC <-chan time.Time
	if *editEvery > 0 {
		editT := time.NewTicker(*editEvery)
		defer editT.Stop()
		editC = editT.C
	}

	start := time.Now()
	r := rand.New(rand.NewSource(start.UnixNano()))
	var x, z float64
	edits := 0
	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case <-poseT.C:
			angle := time.Since(start).Seconds() * *speed / math.Max(*radius, 1)
			x, z = *radius*math.Cos(angle), *radius*math.Sin(angle)
			pose := ws.PoseMsg{Type: ws.TypePose, ProtocolVersion: ws.Version, X: x, Y: *y, Z: z}
			if err := conn.WriteJSON(pose); err != nil {
				logger.Printf("send POSE: %v", err)
				return
			}
		case <-editC:
			edits++
			e := ws.EditMsg{
				Type:            ws.TypeEdit,
				ProtocolVersion: ws.Version,
				ID:              fmt.Sprintf("E_%d", edits),
				X:               int(math.Floor(x)),
				Y:               int(*y) - 1 - r.Intn(3),
				Z:               int(math.Floor(z)),
			}
			if r.Intn(2) == 0 {
				e.Kind, e.Block = "place", "stone"
			} else {
				e.Kind = "break"
			}
			if err := conn.WriteJSON(e); err != nil {
				logger.Printf("send EDIT: %v", err)
				return
			}
		}
	}
}

func readLoop(conn *websocket.Conn, logger *log.Logger) {
	lastLoaded := -1
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}
		switch base.Type {
		case ws.TypeWelcome:
			var w ws.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME session=%s world=%s chunk_size=%d", w.SessionID, w.WorldID, w.ChunkSize)
		case ws.TypeEditResult:
			var res ws.EditResultMsg
			if err := json.Unmarshal(msg, &res); err != nil {
				continue
			}
			if res.OK {
				logger.Printf("edit %s ok", res.ID)
			} else {
				logger.Printf("edit %s: %s", res.ID, res.Error)
			}
		case ws.TypeStats:
			var s ws.StatsMsg
			if err := json.Unmarshal(msg, &s); err != nil {
				continue
			}
			st := s.State
			if st.Stream.Loaded != lastLoaded {
				lastLoaded = st.Stream.Loaded
				logger.Printf("tick=%d chunk=%s loaded=%d loading=%d unloading=%d deferred=%d/%d saves_pending=%d",
					st.Tick, st.Stream.Observer, st.Stream.Loaded, st.Stream.LoadRequested, st.Stream.UnloadRequested,
					st.Stream.DeferredLoads, st.Stream.DeferredUnloads, st.Saves.Pending)
			}
		}
	}
}
