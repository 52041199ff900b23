package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_WriteRead(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "state/ids.json", []byte(`{"ids":["a"]}`)))
	data, err := s.Read(ctx, "state/ids.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ids":["a"]}`, string(data))

	require.NoError(t, s.Write(ctx, "state/ids.json", []byte(`{"ids":["a","b"]}`)))
	data, err = s.Read(ctx, "state/ids.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ids":["a","b"]}`, string(data))

	entries, err := os.ReadDir(filepath.Join(s.BasePath(), "state"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLocalStorage_NotFound(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.Delete(ctx, "missing.json")
	assert.True(t, errors.Is(err, ErrNotFound))

	ok, err := s.Exists(ctx, "missing.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStorage_List(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "a.md", []byte("a")))
	require.NoError(t, s.Write(ctx, "b.md", []byte("b")))
	require.NoError(t, s.Write(ctx, "sub/c.md", []byte("c")))

	paths, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.md", "b.md"}, paths)

	paths, err = s.List(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/c.md"}, paths)

	paths, err = s.List(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorage_PathsStayInsideBase(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(base, "root"))
	require.NoError(t, err)

	require.NoError(t, s.Write(ctx, "../escape.txt", []byte("x")))
	_, err = os.Stat(filepath.Join(base, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	ok, err := s.Exists(ctx, "escape.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, Options{Type: TypeLocal, LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(ctx, Options{Type: TypeS3})
	assert.Error(t, err)

	_, err = New(ctx, Options{Type: "ftp"})
	assert.Error(t, err)
}
