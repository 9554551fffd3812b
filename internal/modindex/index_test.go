package modindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/storage"
	"github.com/obsidianmc/controlplane/pkg/logger"
)

func newTestIndex(t *testing.T) (*Index, storage.Store, *events.Bus) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.NewBus()
	idx := New(Config{Store: store, Bus: bus, Log: logger.New()})
	return idx, store, bus
}

func TestRefreshAllIndexesExistingJars(t *testing.T) {
	idx, store, _ := newTestIndex(t)
	serverDir := t.TempDir()
	modsDir := filepath.Join(serverDir, "mods")
	require.NoError(t, os.MkdirAll(modsDir, 0o755))

	writeJar(t, modsDir, "sodium.jar", map[string]string{
		"fabric.mod.json": `{"id": "sodium", "name": "Sodium", "version": "0.5.8"}`,
	})

	require.NoError(t, idx.RefreshAll(context.Background(), "srv1", serverDir))

	mods, err := store.ListServerMods(context.Background(), "srv1")
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "sodium", mods[0].ModID)
	assert.Equal(t, "sodium.jar", mods[0].Filename)
}

func TestRefreshAllRemovesRowsForDeletedJars(t *testing.T) {
	idx, store, _ := newTestIndex(t)
	serverDir := t.TempDir()
	modsDir := filepath.Join(serverDir, "mods")
	require.NoError(t, os.MkdirAll(modsDir, 0o755))

	path := writeJar(t, modsDir, "lithium.jar", map[string]string{
		"fabric.mod.json": `{"id": "lithium", "name": "Lithium", "version": "0.11.2"}`,
	})
	require.NoError(t, idx.RefreshAll(context.Background(), "srv1", serverDir))

	mods, err := store.ListServerMods(context.Background(), "srv1")
	require.NoError(t, err)
	require.Len(t, mods, 1)

	require.NoError(t, os.Remove(path))
	require.NoError(t, idx.RefreshAll(context.Background(), "srv1", serverDir))

	mods, err = store.ListServerMods(context.Background(), "srv1")
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestRefreshAllIsMissingDirectorySafe(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	serverDir := t.TempDir()

	err := idx.RefreshAll(context.Background(), "srv1", serverDir)
	assert.NoError(t, err)
}

func TestWatchIndexesNewlyCreatedJar(t *testing.T) {
	idx, store, bus := newTestIndex(t)
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	serverDir := t.TempDir()
	require.NoError(t, idx.Watch(context.Background(), "srv1", serverDir))
	defer idx.Unwatch("srv1")

	modsDir := filepath.Join(serverDir, "mods")
	writeJar(t, modsDir, "jei.jar", map[string]string{
		"fabric.mod.json": `{"id": "jei", "name": "JEI", "version": "1.0"}`,
	})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == events.KindModIndexed && evt.ModFilename == "jei.jar" {
				mods, err := store.ListServerMods(context.Background(), "srv1")
				require.NoError(t, err)
				require.Len(t, mods, 1)
				assert.Equal(t, "jei", mods[0].ModID)
				return
			}
		case <-deadline:
			t.Fatal("never observed a ModIndexed event for jei.jar")
		}
	}
}

func TestWatchRemovesDeletedJar(t *testing.T) {
	idx, store, bus := newTestIndex(t)
	ch, unsub := bus.Subscribe(16)
	defer unsub()

	serverDir := t.TempDir()
	modsDir := filepath.Join(serverDir, "mods")
	require.NoError(t, os.MkdirAll(modsDir, 0o755))
	path := writeJar(t, modsDir, "jei.jar", map[string]string{
		"fabric.mod.json": `{"id": "jei", "name": "JEI", "version": "1.0"}`,
	})

	require.NoError(t, idx.Watch(context.Background(), "srv1", serverDir))
	defer idx.Unwatch("srv1")

	require.NoError(t, os.Remove(path))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == events.KindModRemoved && evt.ModFilename == "jei.jar" {
				mods, err := store.ListServerMods(context.Background(), "srv1")
				require.NoError(t, err)
				assert.Empty(t, mods)
				return
			}
		case <-deadline:
			t.Fatal("never observed a ModRemoved event for jei.jar")
		}
	}
}

