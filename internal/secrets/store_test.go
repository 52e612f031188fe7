package secrets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetList(t *testing.T) {
	store := New(t.TempDir())

	require.NoError(t, store.Set("comp-a", "API_TOKEN", "secret-value"))

	v, ok, err := store.Get("comp-a", "API_TOKEN")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "secret-value", v)

	all, err := store.List("comp-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"API_TOKEN": "secret-value"}, all)
}

func TestGetMissingComponentIsNotError(t *testing.T) {
	store := New(t.TempDir())
	_, ok, err := store.Get("nope", "KEY")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetRejectsInvalidKey(t *testing.T) {
	store := New(t.TempDir())
	err := store.Set("comp-a", "not-a-valid-key", "x")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	store := New(t.TempDir())
	require.NoError(t, store.Set("comp-a", "A", "1"))
	require.NoError(t, store.Set("comp-a", "B", "2"))

	require.NoError(t, store.Delete("comp-a", "A"))
	all, err := store.List("comp-a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "2"}, all)

	require.NoError(t, store.DeleteAll("comp-a"))
	all, err = store.List("comp-a")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCacheInvalidatedOnExternalEdit(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	require.NoError(t, store.Set("comp-a", "A", "1"))

	// Simulate a sibling process editing the file directly.
	path := filepath.Join(dir, "comp-a.yaml")
	require.NoError(t, os.WriteFile(path, []byte("A: \"2\"\n"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	v, _, err := store.Get("comp-a", "A")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
}
