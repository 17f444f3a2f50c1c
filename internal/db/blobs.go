package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/applymate/internal/blob"
)

// BlobStore keeps blobs in the blobs table.
type BlobStore struct {
	db *DB
}

var _ blob.Store = (*BlobStore)(nil)

// Blobs returns a blob.Store backed by this database.
func (db *DB) Blobs() *BlobStore {
	return &BlobStore{db: db}
}

// Put implements blob.Store.
func (s *BlobStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	ref, err := blob.NewRef(contentType)
	if err != nil {
		return "", &blob.Error{Message: "failed to allocate reference", Cause: err}
	}
	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO blobs (ref, content_type, data) VALUES ($1, $2, $3)`,
		ref, contentType, data,
	)
	if err != nil {
		return "", &blob.Error{Ref: ref, Message: "failed to insert", Cause: err}
	}
	return ref, nil
}

// Get implements blob.Store.
func (s *BlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var data []byte
	err := s.db.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE ref = $1`, ref).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, &blob.Error{Ref: ref, Message: "failed to read", Cause: err}
	}
	return data, nil
}
