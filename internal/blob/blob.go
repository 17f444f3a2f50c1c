// Package blob stores rendered documents and uploaded resumes behind opaque
// references.
package blob

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a reference does not resolve to a blob.
var ErrNotFound = errors.New("blob not found")

// Store puts and gets opaque byte blobs.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Error wraps a storage failure with the reference involved.
type Error struct {
	Ref     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("blob %s: %s: %v", e.Ref, e.Message, e.Cause)
	}
	return fmt.Sprintf("blob %s: %s", e.Ref, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

const contentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// extensions maps the content types we produce or accept to file suffixes.
var extensions = map[string]string{
	"application/pdf":          ".pdf",
	"text/html":                ".html",
	"text/html; charset=utf-8": ".html",
	"text/plain":               ".txt",
	"application/json":         ".json",
	contentTypeDOCX:            ".docx",
}

// NewRef returns a fresh random reference carrying a suffix for contentType.
func NewRef(contentType string) (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]) + extensions[strings.ToLower(contentType)], nil
}

// ContentTypeOf guesses the content type from a reference's suffix.
func ContentTypeOf(ref string) string {
	switch {
	case strings.HasSuffix(ref, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(ref, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(ref, ".json"):
		return "application/json"
	case strings.HasSuffix(ref, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(ref, ".docx"):
		return contentTypeDOCX
	default:
		return "application/octet-stream"
	}
}

// validRef rejects references that could escape a storage root.
func validRef(ref string) bool {
	if ref == "" || len(ref) > 128 {
		return false
	}
	for _, r := range ref {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '.') {
			return false
		}
	}
	return !strings.Contains(ref, "..")
}
