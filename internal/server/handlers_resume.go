package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"

	"github.com/jonathan/applymate/internal/blob"
	"github.com/jonathan/applymate/internal/pipeline"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// handleGetProfile returns the caller's profile
func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	p, err := s.pipeline.Profile(r.Context(), userID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

// handlePutProfile creates or replaces the caller's profile. A JSON body
// carries every field; a text/plain body is the base resume itself, with
// full_name and email taken from the query string.
func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var (
		req         types.ProfileRequest
		raw         []byte
		contentType string
	)
	if isJSON(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			s.failure(w, r, err)
			return
		}
	} else {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "text/plain" {
			s.errorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/plain")
			return
		}
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.failure(w, r, &ErrValidation{Field: "body", Message: err.Error()})
			return
		}
		contentType = "text/plain"
		req = types.ProfileRequest{
			FullName:   r.URL.Query().Get("full_name"),
			Email:      r.URL.Query().Get("email"),
			BaseResume: string(raw),
		}
		if err := req.Validate(); err != nil {
			s.failure(w, r, validationError(err))
			return
		}
	}

	p, err := s.pipeline.SaveProfile(r.Context(), userID, req, raw, contentType)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

// handleUploadResume accepts a multipart form with a PDF, DOCX or text
// "file" and optional full_name and email fields. The extracted text becomes
// the base resume.
func (s *Server) handleUploadResume(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			s.errorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data")
			return
		}
		s.failure(w, r, &ErrValidation{Field: "file", Message: err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.failure(w, r, &ErrValidation{Field: "file", Message: "a resume file is required"})
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		s.failure(w, r, &ErrValidation{Field: "file", Message: err.Error()})
		return
	}

	p, err := s.pipeline.UploadResume(r.Context(), userID, pipeline.ResumeUpload{
		Filename: header.Filename,
		Data:     data,
		FullName: r.FormValue("full_name"),
		Email:    r.FormValue("email"),
	})
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

// handlePutCoverLetter replaces the caller's base cover letter, sent either
// as JSON or as a text/plain body.
func (s *Server) handlePutCoverLetter(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}

	var req types.CoverLetterRequest
	if isJSON(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			s.failure(w, r, err)
			return
		}
	} else {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "text/plain" {
			s.errorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or text/plain")
			return
		}
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.failure(w, r, &ErrValidation{Field: "body", Message: err.Error()})
			return
		}
		req.CoverLetter = string(raw)
	}

	p, err := s.pipeline.SaveCoverLetter(r.Context(), userID, req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, p)
}

// handleTailor produces a standalone tailored resume. Generation failures
// are reported on the returned record.
func (s *Server) handleTailor(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var req types.TailorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, err)
		return
	}

	rec, err := s.pipeline.Tailor(r.Context(), userID, req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, rec)
}

// handleGetDocument returns a tailored document record
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.pipeline.Document(r.Context(), userID, id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// handleDownload streams the rendered file of a completed document
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	rec, err := s.pipeline.Document(r.Context(), userID, id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if rec.Status != types.DocumentCompleted || rec.BlobRef == nil {
		s.failure(w, r, fmt.Errorf("document %s is %s: %w", id, rec.Status, store.ErrNotFound))
		return
	}

	data, err := s.blobs.Get(r.Context(), *rec.BlobRef)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	ct := blob.ContentTypeOf(*rec.BlobRef)
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="resume-%s%s"`, id, extensionFor(ct)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[HTTP] Failed to write document %s: %v", id, err)
	}
}

// handleDocumentEvents returns a document's event trail
func (s *Server) handleDocumentEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	evs, err := s.pipeline.DocumentEvents(r.Context(), userID, id)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.eventsResponse(w, evs)
}

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "application/pdf"):
		return ".pdf"
	case strings.HasPrefix(contentType, "text/html"):
		return ".html"
	default:
		return ""
	}
}
