package api

import (
	"io"
	"net/http"
	"strconv"

	"slicesim/internal/history"
	"slicesim/internal/sim"
	"slicesim/internal/telemetry"
)

const (
	maxBodyBytes = 1 << 16
	maxPageLimit = 500
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs, total, err := s.Sim.List(r.Context(), history.Filter{Limit: 20})
	if err != nil {
		writeError(w, r, err)
		return
	}
	data := struct {
		Runs   []telemetry.RunRecord
		Total  int
		Health sim.HealthReport
	}{Runs: runs, Total: total, Health: s.Sim.Health(r.Context())}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index failed", "err", err)
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, &telemetry.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	cfg, err := decodeCreate(s.schema, raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.Sim.Create(r.Context(), cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	view, err := s.Sim.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	view, err := s.Sim.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := s.Sim.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Sim.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"simulation_id": id, "status": "deleted"})
}

// pageParams parses limit and offset. A missing limit yields def.
func pageParams(r *http.Request, def int) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = def
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return 0, 0, &telemetry.ValidationError{Field: "limit", Reason: "must be an integer between 1 and 500"}
		}
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, &telemetry.ValidationError{Field: "offset", Reason: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}

type historyResponse struct {
	Simulations []telemetry.RunRecord `json:"simulations"`
	TotalCount  int                   `json:"total_count"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, history.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	f := history.Filter{Limit: limit, Offset: offset}
	if st := r.URL.Query().Get("status"); st != "" {
		f.Status = telemetry.Status(st)
		if !f.Status.Valid() {
			writeError(w, r, &telemetry.ValidationError{Field: "status", Reason: "unknown status " + strconv.Quote(st)})
			return
		}
	}
	runs, total, err := s.Sim.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []telemetry.RunRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Simulations: runs, TotalCount: total})
}

type snapshotsResponse struct {
	SimulationID string                   `json:"simulation_id"`
	Snapshots    []telemetry.TickSnapshot `json:"snapshots"`
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	snaps, err := s.Sim.Snapshots(r.Context(), id, history.Page{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []telemetry.TickSnapshot{}
	}
	writeJSON(w, http.StatusOK, snapshotsResponse{SimulationID: id, Snapshots: snaps})
}

func (s *Server) handleSliceMetrics(w http.ResponseWriter, r *http.Request) {
	id, name := r.PathValue("id"), r.PathValue("slice")
	points, err := s.Sim.SliceSeries(r.Context(), id, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"simulation_id": id, "slice_type": name, "metrics": points})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sim.Health(r.Context()))
}

func (s *Server) handleSliceHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.Sim.SliceHealth(r.PathValue("slice"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
