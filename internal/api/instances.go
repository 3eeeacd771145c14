package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nerrad567/instance-watch/internal/control"
	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/instance"
)

// InstanceList is the body of GET /api/v1/instances.
type InstanceList struct {
	Instances []instance.Instance `json:"instances"`
	Count     int                 `json:"count"`
}

// InstanceDetail is the body of GET /api/v1/instances/{id}.
type InstanceDetail struct {
	instance.Instance
	// NextRun is set for armed scheduled instances.
	NextRun *time.Time `json:"next_run,omitempty"`
}

// LogResponse is the body of the transition log endpoints.
type LogResponse struct {
	Entries []history.Entry `json:"entries"`
	Count   int             `json:"count"`
}

// NotOperatingResponse mirrors the aggregate states.
type NotOperatingResponse struct {
	Instances []string `json:"instances"`
	Count     int      `json:"count"`
}

// SwitchResponse is returned by the on/off commands.
type SwitchResponse struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
	Status  string `json:"status"`
}

// handleListInstances returns every watched instance.
func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	instances := s.watcher.Instances()
	writeJSON(w, http.StatusOK, InstanceList{
		Instances: instances,
		Count:     len(instances),
	})
}

// handleGetInstance returns one instance.
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, ok := s.watcher.Instance(id)
	if !ok {
		writeNotFound(w, "instance not found")
		return
	}
	detail := InstanceDetail{Instance: inst}
	if next, armed := s.watcher.NextRun(id); armed {
		detail.NextRun = &next
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleGetInstanceLog returns the transition log of one instance.
func (s *Server) handleGetInstanceLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.watcher.Instance(id); !ok {
		writeNotFound(w, "instance not found")
		return
	}
	entries := s.watcher.InstanceLog(id)
	writeJSON(w, http.StatusOK, LogResponse{Entries: entries, Count: len(entries)})
}

// handleGetSummaryLog returns the summary transition log.
func (s *Server) handleGetSummaryLog(w http.ResponseWriter, _ *http.Request) {
	entries := s.watcher.SummaryLog()
	writeJSON(w, http.StatusOK, LogResponse{Entries: entries, Count: len(entries)})
}

// handleNotOperating returns the enabled instances that are not operating.
func (s *Server) handleNotOperating(w http.ResponseWriter, _ *http.Request) {
	ids := s.watcher.NotOperating()
	writeJSON(w, http.StatusOK, NotOperatingResponse{Instances: ids, Count: len(ids)})
}

// handleSwitch returns the handler of the on (flag=true) or off command.
// The command is accepted once the store writes succeeded; the new status
// follows with the next evaluation.
func (s *Server) handleSwitch(flag bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := s.watcher.SetEnabled(r.Context(), id, flag)
		switch {
		case err == nil:
		case errors.Is(err, instance.ErrNotFound):
			writeNotFound(w, "instance not found")
			return
		case errors.Is(err, control.ErrUnsupportedMode):
			writeError(w, http.StatusConflict, ErrCodeConflict, "instance mode cannot be switched")
			return
		default:
			s.logger.Error("switching instance failed", "instance", id, "enabled", flag, "error", err)
			writeError(w, http.StatusBadGateway, ErrCodeBadGateway, "failed to write command to store")
			return
		}

		writeJSON(w, http.StatusAccepted, SwitchResponse{ID: id, Enabled: flag, Status: "accepted"})
	}
}

// handleRefresh queues an evaluation of one instance.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.watcher.Instance(id); !ok {
		writeNotFound(w, "instance not found")
		return
	}
	s.watcher.RequestUpdate(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "queued"})
}
