package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRegistry_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	reg := NewFileRegistry(s)
	ctx := context.Background()

	err := reg.CreateFile(ctx, "f1", "meeting.mp3", "/data/uploads/f1.mp3", 2048, "audio/mpeg")
	require.NoError(t, err)

	f, err := reg.GetFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", f.ID)
	assert.Equal(t, "meeting.mp3", f.Filename)
	assert.Equal(t, "/data/uploads/f1.mp3", f.Path)
	assert.Equal(t, int64(2048), f.Size)
	assert.Equal(t, "audio/mpeg", f.ContentType)
	assert.False(t, f.CreatedAt.IsZero())
}

func TestFileRegistry_GetMissing(t *testing.T) {
	s := openTestStore(t)
	reg := NewFileRegistry(s)

	_, err := reg.GetFile(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileRegistry_GetFilePath(t *testing.T) {
	s := openTestStore(t)
	reg := NewFileRegistry(s)
	ctx := context.Background()

	require.NoError(t, reg.CreateFile(ctx, "f1", "a.wav", "/tmp/a.wav", 1, "audio/wav"))

	path, err := reg.GetFilePath(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.wav", path)

	_, err = reg.GetFilePath(ctx, "missing")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileRegistry_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	reg := NewFileRegistry(s)
	ctx := context.Background()

	require.NoError(t, reg.CreateFile(ctx, "f1", "a.wav", "/tmp/a.wav", 1, "audio/wav"))
	err := reg.CreateFile(ctx, "f1", "b.wav", "/tmp/b.wav", 2, "audio/wav")
	assert.Error(t, err)
}

func TestFileRegistry_Delete(t *testing.T) {
	s := openTestStore(t)
	reg := NewFileRegistry(s)
	ctx := context.Background()

	require.NoError(t, reg.CreateFile(ctx, "f1", "a.wav", "/tmp/a.wav", 1, "audio/wav"))

	deleted, err := reg.DeleteFile(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = reg.DeleteFile(ctx, "f1")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = reg.GetFile(ctx, "f1")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileRegistry_ListAndCount(t *testing.T) {
	s := openTestStore(t)
	reg := NewFileRegistry(s)
	ctx := context.Background()

	for _, id := range []string{"f1", "f2", "f3"} {
		require.NoError(t, reg.CreateFile(ctx, id, id+".mp3", "/tmp/"+id+".mp3", 10, "audio/mpeg"))
	}

	files, err := reg.ListFiles(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, files, 3)

	files, err = reg.ListFiles(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	n, err := reg.CountFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
