package webapi

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/spam-rectifier/lib/rectifier"
)

func saveModel(t *testing.T, path string, texts, labels []string) {
	t.Helper()
	m, err := rectifier.Train(texts, labels, rectifier.DefaultFeatureConfig())
	require.NoError(t, err)
	require.NoError(t, m.Save(path))
}

func TestLoader_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	saveModel(t, path, []string{"free prize"}, []string{"spam"})

	loader, err := NewLoader(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"spam"}, loader.Get().Labels())

	saveModel(t, path, []string{"free prize", "team meeting"}, []string{"spam", "ham"})
	require.NoError(t, loader.Reload())
	assert.Equal(t, []string{"ham", "spam"}, loader.Get().Labels())
}

func TestLoader_ReloadKeepsModelOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.json")
	saveModel(t, path, []string{"free prize"}, []string{"spam"})

	loader, err := NewLoader(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0o600))
	assert.Error(t, loader.Reload())
	assert.Equal(t, []string{"spam"}, loader.Get().Labels(), "previous model should survive a bad reload")
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoader_WatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	saveModel(t, path, []string{"free prize"}, []string{"spam"})

	loader, err := NewLoader(path)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error)
	go func() { done <- loader.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond) // let the watcher start
	saveModel(t, path, []string{"free prize", "team meeting"}, []string{"spam", "ham"})

	assert.Eventually(t, func() bool {
		return len(loader.Get().Labels()) == 2
	}, 2*time.Second, 50*time.Millisecond, "watcher should reload the updated model")

	cancel()
	require.NoError(t, <-done)
}
