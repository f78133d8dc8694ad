package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-protector/internal/bridges/protector"
)

// instanceSummary is one entry of GET /instances.
type instanceSummary struct {
	ID  string              `json:"id"`
	Hub protector.HubStatus `json:"hub"`
}

// handleListInstances returns every instance with its hub snapshot.
func (s *Server) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	out := make([]instanceSummary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, instanceSummary{ID: id, Hub: s.instances[id].Status()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instances": out,
		"count":     len(out),
	})
}

// handleGetHub returns one instance's hub snapshot.
func (s *Server) handleGetHub(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instanceFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, inst.Status())
}

// handleListDoors returns the aggregated door view of one instance.
func (s *Server) handleListDoors(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instanceFromRequest(w, r)
	if !ok {
		return
	}
	doors := s.doors.list(inst.InstanceID(), inst.Doors())
	writeJSON(w, http.StatusOK, map[string]any{
		"doors": doors,
		"count": len(doors),
	})
}

// handleGetDoor returns one door of one instance.
func (s *Server) handleGetDoor(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instanceFromRequest(w, r)
	if !ok {
		return
	}

	doorID, err := strconv.Atoi(chi.URLParam(r, "doorID"))
	if err != nil {
		writeBadRequest(w, "door id must be an integer")
		return
	}

	door, found := s.doors.get(inst.InstanceID(), doorID, inst.Doors())
	if !found {
		writeNotFound(w, "door not found")
		return
	}
	writeJSON(w, http.StatusOK, door)
}

func (s *Server) instanceFromRequest(w http.ResponseWriter, r *http.Request) (Instance, bool) {
	inst, ok := s.instances[chi.URLParam(r, "id")]
	if !ok {
		writeNotFound(w, "instance not found")
		return nil, false
	}
	return inst, true
}
