package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// WriteComplete sends a completion event
func (s *SSEWriter) WriteComplete(id, status string) {
	s.WriteEvent("complete", map[string]string{ //nolint:errcheck
		"application_id": id,
		"status":         status,
	})
}

// handleApplicationStream streams an application's events as they are
// recorded and finishes with a complete event once it reaches a terminal
// status.
func (s *Server) handleApplicationStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	// Fail ownership and existence checks before switching to streaming.
	if _, err := s.pipeline.Get(ctx, userID, id); err != nil {
		s.failure(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ticker := time.NewTicker(s.cfg.StreamPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.StreamMax)
	defer deadline.Stop()

	sent := 0
	flush := func() error {
		evs, err := s.pipeline.EventsSince(ctx, userID, id, sent)
		if err != nil {
			return err
		}
		for _, ev := range evs {
			if err := sse.WriteEvent(ev.EventType, ev); err != nil {
				return err
			}
			sent++
		}
		return nil
	}

	for {
		if err := flush(); err != nil {
			log.Printf("[HTTP] Stream for %s closed: %v", id, err)
			sse.WriteError(err.Error())
			return
		}

		app, err := s.pipeline.Get(ctx, userID, id)
		if err != nil {
			sse.WriteError(err.Error())
			return
		}
		if app.Status.IsTerminal() {
			// Terminal events are recorded right after the status write.
			_ = flush()
			sse.WriteComplete(id.String(), string(app.Status))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			sse.WriteError("stream timed out")
			return
		case <-ticker.C:
		}
	}
}
