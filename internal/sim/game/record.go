package game

import (
	"errors"
	"time"

	"voxelstream.ai/internal/persistence/indexdb"
	vlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/pipeline"
	"voxelstream.ai/internal/sim/stream"
	"voxelstream.ai/internal/sim/terrain"
)

func (s *Session) recordStream(st stream.TickStats, now time.Time) {
	if st.Rescanned {
		s.d.Metrics.RecordScan()
	}
	if len(st.Transitions) == 0 {
		return
	}
	entries := make([]vlog.TransitionEntry, 0, len(st.Transitions))
	for _, tr := range st.Transitions {
		failed := tr.Err != nil
		op := "load"
		if tr.From == stream.UnloadRequested {
			op = "unload"
		}
		s.d.Metrics.RecordTransition(tr.To.String(), failed, op)

		e := vlog.TransitionEntry{
			X: tr.Coord.X, Y: tr.Coord.Y, Z: tr.Coord.Z,
			From: tr.From.String(),
			To:   tr.To.String(),
		}
		if failed {
			e.Err = tr.Err.Error()
			s.printf("chunk %s %s -> %s failed: %v", tr.Coord, tr.From, tr.To, tr.Err)
		}
		entries = append(entries, e)
	}
	if s.d.Events == nil {
		return
	}
	ev := vlog.StreamEntry{
		Time:        now.UTC(),
		WorldID:     s.cfg.WorldID,
		Tick:        s.tick,
		Observer:    [3]int32{st.Observer.X, st.Observer.Y, st.Observer.Z},
		Transitions: entries,
	}
	if err := s.d.Events.WriteStream(ev); err != nil {
		s.printf("event log: %v", err)
	}
}

// recordChunkWrites indexes the chunk files actually written by unloads.
func (s *Session) recordChunkWrites(now time.Time) {
	for _, w := range s.d.Terrain.TakeWrites() {
		row := indexdb.ChunkRow{
			WorldID:    s.cfg.WorldID,
			X:          w.Coord.X,
			Y:          w.Coord.Y,
			Z:          w.Coord.Z,
			OK:         w.Err == nil,
			RecordedAt: now,
		}
		if w.Err != nil {
			row.Error = w.Err.Error()
		}
		s.d.Index.RecordChunkWrite(row)
	}
}

func (s *Session) recordSaves(results []pipeline.Result) {
	for _, r := range results {
		result := "ok"
		errText := ""
		if r.Err != nil {
			result = string(pipeline.KindOf(r.Err))
			errText = r.Err.Error()
			s.printf("save failed world=%s job=%s kind=%s err=%v", r.WorldID, r.JobID, result, r.Err)
		} else {
			s.lastSave = r.JobID
		}
		s.d.Metrics.RecordSave(result, r.Duration.Seconds())

		now := time.Now().UTC()
		s.d.Index.RecordSave(indexdb.SaveRow{
			WorldID:    r.WorldID,
			JobID:      r.JobID,
			OK:         r.OK(),
			Kind:       kindOrEmpty(result),
			Error:      errText,
			Bytes:      r.Bytes,
			DurationMS: r.Duration.Milliseconds(),
			RecordedAt: now,
		})
		if r.OK() {
			if info, ok := s.d.Worlds.Get(r.WorldID); ok {
				s.d.Index.RecordWorld(indexdb.WorldRow{
					WorldID:    info.Name,
					Seed:       info.Seed,
					GameMode:   string(info.GameMode),
					WorldType:  string(info.WorldType),
					Created:    info.CreatedTime,
					LastPlayed: info.LastPlayed,
				})
			}
		}
		if s.d.Events != nil {
			err := s.d.Events.WriteSave(vlog.SaveEntry{
				Time:       now,
				WorldID:    r.WorldID,
				JobID:      r.JobID,
				OK:         r.OK(),
				Kind:       kindOrEmpty(result),
				Err:        errText,
				Bytes:      r.Bytes,
				DurationMS: r.Duration.Milliseconds(),
			})
			if err != nil {
				s.printf("event log: %v", err)
			}
		}
	}
}

func (s *Session) recordEdit(e terrain.Edit, prev terrain.BlockID, err error) {
	outcome := editOutcome(err)
	s.d.Metrics.RecordEdit(string(e.Kind), outcome)
	if s.d.Audit == nil {
		return
	}
	entry := vlog.EditEntry{
		Time:    time.Now().UTC(),
		WorldID: s.cfg.WorldID,
		Tick:    s.tick,
		Actor:   e.Actor,
		Kind:    string(e.Kind),
		Pos:     [3]int{e.X, e.Y, e.Z},
		Prev:    prev.String(),
	}
	if e.Kind == terrain.EditPlace {
		entry.Block = e.Block.String()
	}
	if err != nil {
		entry.Err = err.Error()
	}
	if werr := s.d.Audit.WriteEdit(entry); werr != nil {
		s.printf("audit log: %v", werr)
	}
}

func editOutcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, terrain.ErrDenied):
		return "denied"
	default:
		return "rejected"
	}
}

func kindOrEmpty(result string) string {
	if result == "ok" {
		return ""
	}
	return result
}
