package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoad(t *testing.T) {
	s := openMemory(t)
	lines := []string{": square dup * ;", "5 square ."}

	require.NoError(t, s.Save("Squares", lines))

	p, err := s.Load("squares")
	require.NoError(t, err)
	assert.Equal(t, "squares", p.Name)
	assert.Equal(t, lines, p.Lines())
	assert.WithinDuration(t, time.Now(), p.UpdatedAt, time.Minute)
}

func TestSaveReplaces(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Save("demo", []string{"1 ."}))
	require.NoError(t, s.Save("demo", []string{"2 .", "3 ."}))

	p, err := s.Load("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"2 .", "3 ."}, p.Lines())

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names)
}

func TestList(t *testing.T) {
	s := openMemory(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, s.Save(name, []string{"1"}))
	}
	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestDelete(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Save("gone", []string{"1"}))

	require.NoError(t, s.Delete("gone"))
	_, err := s.Load("gone")
	assert.ErrorIs(t, err, ErrProgramNotFound)
	assert.ErrorIs(t, s.Delete("gone"), ErrProgramNotFound)
}

func TestInvalidNames(t *testing.T) {
	s := openMemory(t)
	for _, name := range []string{"", "   ", "two words", string(make([]byte, MaxNameLength+1))} {
		assert.ErrorIs(t, s.Save(name, nil), ErrInvalidName, "name %q", name)
	}
}

func TestEmptyProgram(t *testing.T) {
	s := openMemory(t)
	require.NoError(t, s.Save("empty", nil))

	p, err := s.Load("empty")
	require.NoError(t, err)
	assert.Nil(t, p.Lines())
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("kept", []string{"variable x"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	p, err := s.Load("kept")
	require.NoError(t, err)
	assert.Equal(t, []string{"variable x"}, p.Lines())
}
