package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore keeps blobs as files under a root directory.
type FSStore struct {
	root string
}

// NewFSStore creates root if needed and returns a store over it.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", root, err)
	}
	return &FSStore{root: root}, nil
}

// Put implements Store. The file is written to a temporary name first and
// renamed, so readers never see a partial blob.
func (s *FSStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	ref, err := NewRef(contentType)
	if err != nil {
		return "", &Error{Message: "failed to allocate reference", Cause: err}
	}

	tmp, err := os.CreateTemp(s.root, ".upload-*")
	if err != nil {
		return "", &Error{Ref: ref, Message: "failed to create file", Cause: err}
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", &Error{Ref: ref, Message: "failed to write file", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", &Error{Ref: ref, Message: "failed to close file", Cause: err}
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.root, ref)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", &Error{Ref: ref, Message: "failed to commit file", Cause: err}
	}
	return ref, nil
}

// Get implements Store.
func (s *FSStore) Get(_ context.Context, ref string) ([]byte, error) {
	if !validRef(ref) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &Error{Ref: ref, Message: "failed to read file", Cause: err}
	}
	return data, nil
}
