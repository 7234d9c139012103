package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrFileNotFound is returned when a file id has no record
var ErrFileNotFound = errors.New("file not found")

// File is the metadata record for an uploaded audio file
type File struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// FileRegistry maps file ids to on-disk paths and metadata. The worker only
// reads from it; writes come from the upload API.
type FileRegistry struct {
	store *Store
}

// NewFileRegistry creates a registry over the shared store
func NewFileRegistry(s *Store) *FileRegistry {
	return &FileRegistry{store: s}
}

// CreateFile saves uploaded file metadata
func (r *FileRegistry) CreateFile(ctx context.Context, id, filename, path string, size int64, contentType string) error {
	_, err := r.store.db.ExecContext(ctx,
		`INSERT INTO files (id, filename, path, size, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, filename, path, size, contentType, FormatTime(time.Now()),
	)
	return err
}

// GetFile fetches file metadata by id
func (r *FileRegistry) GetFile(ctx context.Context, id string) (*File, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, filename, path, size, content_type, created_at FROM files WHERE id = ?`, id)

	var f File
	var contentType sql.NullString
	var createdAt string
	if err := row.Scan(&f.ID, &f.Filename, &f.Path, &f.Size, &contentType, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	f.ContentType = contentType.String

	ts, err := ParseTime(createdAt)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = ts

	return &f, nil
}

// GetFilePath resolves a file id to its storage path
func (r *FileRegistry) GetFilePath(ctx context.Context, id string) (string, error) {
	f, err := r.GetFile(ctx, id)
	if err != nil {
		return "", err
	}
	return f.Path, nil
}

// ListFiles returns file records ordered newest first
func (r *FileRegistry) ListFiles(ctx context.Context, limit, offset int) ([]*File, error) {
	rows, err := r.store.db.QueryContext(ctx,
		`SELECT id, filename, path, size, content_type, created_at FROM files
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*File
	for rows.Next() {
		var f File
		var contentType sql.NullString
		var createdAt string
		if err := rows.Scan(&f.ID, &f.Filename, &f.Path, &f.Size, &contentType, &createdAt); err != nil {
			return nil, err
		}
		f.ContentType = contentType.String
		ts, err := ParseTime(createdAt)
		if err != nil {
			return nil, err
		}
		f.CreatedAt = ts
		files = append(files, &f)
	}
	return files, rows.Err()
}

// CountFiles returns the number of file records
func (r *FileRegistry) CountFiles(ctx context.Context) (int, error) {
	var n int
	err := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&n)
	return n, err
}

// DeleteFile removes the metadata record (not the blob on disk). Returns
// true if a record was deleted.
func (r *FileRegistry) DeleteFile(ctx context.Context, id string) (bool, error) {
	res, err := r.store.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
