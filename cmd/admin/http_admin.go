package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voxelstream.ai/internal/jobs"
	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/game"
	"voxelstream.ai/internal/transport/ws"
)

// serverState mirrors the server's /admin/v1/state body.
type serverState struct {
	Session game.State    `json:"session"`
	WS      ws.Stats      `json:"ws"`
	Index   indexdb.Stats `json:"index"`
	Workers jobs.Stats    `json:"workers"`
}

type saveReply struct {
	OK      bool   `json:"ok"`
	WorldID string `json:"world_id"`
	Error   string `json:"error"`
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	raw := fs.Bool("json", false, "print the full state as indented JSON")
	_ = fs.Parse(args)

	st, body, err := fetchState(*baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "state:", err)
		os.Exit(1)
	}
	if *raw {
		var out bytes.Buffer
		if err := json.Indent(&out, body, "", "  "); err != nil {
			fmt.Fprintln(os.Stderr, "state:", err)
			os.Exit(1)
		}
		fmt.Println(out.String())
		return
	}
	writeState(os.Stdout, st, time.Now())
}

func saveCmd(args []string) {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	world, err := requestSave(*baseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "save:", err)
		os.Exit(1)
	}
	fmt.Printf("save queued world=%s\n", world)
}

func fetchState(baseURL string) (serverState, []byte, error) {
	var st serverState
	body, status, err := callAdmin(http.MethodGet, adminURL(baseURL, "state"), 5*time.Second)
	if err != nil {
		return st, nil, err
	}
	if status/100 != 2 {
		return st, nil, fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &st); err != nil {
		return st, nil, fmt.Errorf("decode: %w", err)
	}
	return st, body, nil
}

// requestSave asks the server to save now and returns the world it saved.
func requestSave(baseURL string) (string, error) {
	body, status, err := callAdmin(http.MethodPost, adminURL(baseURL, "save"), 10*time.Second)
	if err != nil {
		return "", err
	}
	var r saveReply
	if err := json.Unmarshal(body, &r); err != nil {
		return "", fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(body)))
	}
	if !r.OK || status/100 != 2 {
		if r.Error == "" {
			r.Error = fmt.Sprintf("http %d", status)
		}
		return "", fmt.Errorf("server refused: %s", r.Error)
	}
	return r.WorldID, nil
}

func adminURL(baseURL, op string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/admin/v1/" + op
}

func callAdmin(method, url string, timeout time.Duration) ([]byte, int, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, 0, err
	}
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return b, resp.StatusCode, nil
}

func writeState(w io.Writer, st serverState, now time.Time) {
	s := st.Session
	fmt.Fprintf(w, "world %s  tick %d  updated %s\n", s.WorldID, s.Tick, humanize.RelTime(s.UpdatedAt, now, "ago", "from now"))
	fmt.Fprintf(w, "observer (%.1f, %.1f, %.1f) in chunk %s\n", s.Observer.X, s.Observer.Y, s.Observer.Z, s.Stream.Observer)
	fmt.Fprintf(w, "chunks   loaded=%d loading=%d unloading=%d deferred_loads=%d deferred_unloads=%d\n",
		s.Stream.Loaded, s.Stream.LoadRequested, s.Stream.UnloadRequested, s.Stream.DeferredLoads, s.Stream.DeferredUnloads)
	fmt.Fprintf(w, "terrain  resident=%d dirty=%d written=%d write_failed=%d edits=%d denied=%d\n",
		s.Terrain.Resident, s.Terrain.Dirty, s.Terrain.Written, s.Terrain.WriteFailed, s.Terrain.EditsApplied, s.Terrain.EditsDenied)
	last := s.LastSave
	if last == "" {
		last = "never"
	}
	fmt.Fprintf(w, "saves    pending=%d outstanding=%d ok=%d failed=%d overruns=%d last=%s\n",
		s.Saves.Pending, s.Saves.Outstanding, s.Saves.SucceededTotal, s.Saves.FailedTotal, s.Saves.OverrunsTotal, last)
	fmt.Fprintf(w, "clients  active=%d accepted=%d dropped=%d\n", st.WS.Active, st.WS.Accepted, st.WS.Dropped)
	fmt.Fprintf(w, "workers  %d running=%d waiting=%d failed=%d\n", st.Workers.Workers, st.Workers.Running, st.Workers.Waiting, st.Workers.FailedTotal)
	fmt.Fprintf(w, "index    queue=%d/%d dropped=%d write_errors=%d\n",
		st.Index.QueueDepth, st.Index.QueueCapacity, st.Index.DropSaveTotal+st.Index.DropWorldTotal+st.Index.DropChunkTotal, st.Index.WriteErrTotal)
}
