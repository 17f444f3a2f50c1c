package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jonathan/applymate/internal/types"
)

// ListApplicationsResponse represents the response for listing applications
type ListApplicationsResponse struct {
	Applications []types.Application `json:"applications"`
	Count        int                 `json:"count"`
}

// EventsResponse lists a subject's events in order.
type EventsResponse struct {
	Events []types.PipelineEvent `json:"events"`
	Count  int                   `json:"count"`
}

// handleAnalyze queues an analyze-mode application
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req types.AnalyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}

	app, err := s.pipeline.Analyze(r.Context(), userID, req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, app)
}

// handleApply queues a full application including submission
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req types.ApplyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}

	app, err := s.pipeline.Apply(r.Context(), userID, req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, app)
}

// handleListApplications lists the caller's applications, optionally by status
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var status *types.ApplicationStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := types.ApplicationStatus(v)
		status = &st
	}

	apps, err := s.pipeline.List(r.Context(), userID, status)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if apps == nil {
		apps = []types.Application{}
	}
	s.jsonResponse(w, http.StatusOK, ListApplicationsResponse{Applications: apps, Count: len(apps)})
}

// handleGetApplication retrieves one application
func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	app, err := s.pipeline.Get(r.Context(), userID, id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

// handleCancelApplication cancels a queued or scraping application
func (s *Server) handleCancelApplication(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	app, err := s.pipeline.Cancel(r.Context(), userID, id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, app)
}

// handleApplicationEvents returns an application's event trail
func (s *Server) handleApplicationEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	evs, err := s.pipeline.Events(r.Context(), userID, id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.eventsResponse(w, evs)
}

func (s *Server) eventsResponse(w http.ResponseWriter, evs []types.PipelineEvent) {
	if evs == nil {
		evs = []types.PipelineEvent{}
	}
	s.jsonResponse(w, http.StatusOK, EventsResponse{Events: evs, Count: len(evs)})
}

// pathID parses the {id} path value or writes a 400.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid ID")
		return uuid.Nil, false
	}
	return id, true
}
