package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jonathan/applymate/internal/resumetext"
	"github.com/jonathan/applymate/internal/store"
	"github.com/jonathan/applymate/internal/types"
)

// ResumeUpload is an uploaded resume file. FullName and Email fall back to
// the stored profile when empty.
type ResumeUpload struct {
	Filename string
	Data     []byte
	FullName string
	Email    string
}

// SaveProfile creates or replaces the user's profile. When raw is non-empty
// the uploaded source resume is kept in the blob store and referenced from
// the profile. An empty BaseCoverLetter keeps the stored letter.
func (s *Service) SaveProfile(ctx context.Context, userID string, req types.ProfileRequest, raw []byte, contentType string) (*types.Profile, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	existing, err := s.existingProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	p := &types.Profile{
		UserID:          userID,
		FullName:        strings.TrimSpace(req.FullName),
		Email:           strings.TrimSpace(req.Email),
		BaseResume:      strings.TrimSpace(req.BaseResume),
		BaseCoverLetter: strings.TrimSpace(req.BaseCoverLetter),
	}
	if p.BaseCoverLetter == "" && existing != nil {
		p.BaseCoverLetter = existing.BaseCoverLetter
	}
	if len(raw) > 0 && s.blobs != nil {
		ref, err := s.blobs.Put(ctx, raw, contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to store uploaded resume: %w", err)
		}
		p.ResumeRef = &ref
	}
	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return p, nil
}

// UploadResume extracts the text of a PDF, DOCX or plain text resume and
// saves it as the base resume, keeping the original file in the blob store.
// Unsupported formats return an error wrapping resumetext.ErrUnsupported.
func (s *Service) UploadResume(ctx context.Context, userID string, up ResumeUpload) (*types.Profile, error) {
	contentType, err := resumetext.ContentType(up.Filename)
	if err != nil {
		return nil, err
	}
	text, err := resumetext.Extract(up.Filename, up.Data)
	if err != nil {
		log.Printf("[PROFILE] Resume upload for %s failed: %v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	existing, err := s.existingProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	req := types.ProfileRequest{FullName: up.FullName, Email: up.Email, BaseResume: text}
	if existing != nil {
		if strings.TrimSpace(req.FullName) == "" {
			req.FullName = existing.FullName
		}
		if strings.TrimSpace(req.Email) == "" {
			req.Email = existing.Email
		}
	}

	p, err := s.SaveProfile(ctx, userID, req, up.Data, contentType)
	if err != nil {
		return nil, err
	}
	log.Printf("[PROFILE] Resume %q uploaded for %s (%d bytes, %d chars extracted)",
		up.Filename, userID, len(up.Data), len(text))
	return p, nil
}

// SaveCoverLetter replaces the base cover letter of an existing profile.
func (s *Service) SaveCoverLetter(ctx context.Context, userID string, req types.CoverLetterRequest) (*types.Profile, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	p, err := s.existingProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProfileRequired
	}
	p.BaseCoverLetter = strings.TrimSpace(req.CoverLetter)
	if err := s.repo.UpsertProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return p, nil
}

// Profile returns the user's profile.
func (s *Service) Profile(ctx context.Context, userID string) (*types.Profile, error) {
	return s.repo.GetProfile(ctx, userID)
}

// existingProfile returns the stored profile, or nil when there is none.
func (s *Service) existingProfile(ctx context.Context, userID string) (*types.Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}
