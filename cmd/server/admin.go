package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"voxelstream.ai/internal/jobs"
	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/game"
	"voxelstream.ai/internal/transport/ws"
)

type sessionControl interface {
	State() game.State
	RequestSave(ctx context.Context) error
}

// adminAPI serves local-only endpoints. Index and pool may be nil.
type adminAPI struct {
	session sessionControl
	ws      *ws.Server
	index   *indexdb.SQLiteIndex
	pool    *jobs.Pool
}

type stateResponse struct {
	Session game.State    `json:"session"`
	WS      ws.Stats      `json:"ws"`
	Index   indexdb.Stats `json:"index"`
	Workers jobs.Stats    `json:"workers"`
}

func (a *adminAPI) state(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	resp := stateResponse{
		Session: a.session.State(),
		Index:   a.index.Stats(),
		Workers: a.pool.Stats(),
	}
	if a.ws != nil {
		resp.WS = a.ws.Stats()
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (a *adminAPI) save(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := a.session.RequestSave(ctx)
	rw.Header().Set("Content-Type", "application/json")
	if err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "world_id": a.session.State().WorldID})
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
