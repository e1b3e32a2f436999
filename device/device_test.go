package device

import (
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Regexp(t, hexID, a)
	assert.Regexp(t, hexID, b)
	assert.NotEqual(t, a, b)
}

func TestFileStoreCreatesOnce(t *testing.T) {
	s := NewFileStore(t.TempDir())

	first, err := s.LoadOrCreate()
	require.NoError(t, err)
	assert.Regexp(t, hexID, first)

	second, err := s.LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	fi, err := os.Stat(s.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestFileStoreSet(t *testing.T) {
	s := &FileStore{Path: filepath.Join(t.TempDir(), "nested", DefaultFileName)}

	require.NoError(t, s.Set("abc123"))
	id, err := s.LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	b, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	var stored string
	require.NoError(t, msgpack.Unmarshal(b, &stored))
	assert.Equal(t, "abc123", stored)

	assert.ErrorIs(t, s.Set(""), ErrEmptyID)
}

func TestFileStoreCorrupt(t *testing.T) {
	s := NewFileStore(t.TempDir())
	require.NoError(t, os.WriteFile(s.Path, []byte{0xc1}, 0o600))

	_, err := s.LoadOrCreate()
	assert.Error(t, err)

	empty, err := msgpack.Marshal("")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path, empty, 0o600))
	_, err = s.LoadOrCreate()
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore("fixed")
	id, err := s.LoadOrCreate()
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	gen := NewMemoryStore("")
	a, err := gen.LoadOrCreate()
	require.NoError(t, err)
	b, err := gen.LoadOrCreate()
	require.NoError(t, err)
	assert.Regexp(t, hexID, a)
	assert.Equal(t, a, b)
}

type countingStore struct {
	calls atomic.Int32
}

func (s *countingStore) LoadOrCreate() (string, error) {
	s.calls.Add(1)
	return NewID(), nil
}

func TestOnce(t *testing.T) {
	inner := &countingStore{}
	s := Once(inner)

	a, err := s.LoadOrCreate()
	require.NoError(t, err)
	b, err := s.LoadOrCreate()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Same(t, s, Once(s))
}
