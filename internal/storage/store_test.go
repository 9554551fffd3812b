package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/models"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "control.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGetServer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	server := &models.Server{
		Name:       "survival",
		Directory:  "servers/survival",
		Loader:     models.ModLoaderVanilla,
		MCVersion:  "1.21.1",
		MinHeapGiB: 2,
		MaxHeapGiB: 4,
	}
	require.NoError(t, store.CreateServer(ctx, server))
	assert.NotEmpty(t, server.ID)

	got, err := store.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, "survival", got.Name)
	assert.Equal(t, models.StatusIdle, got.Status)
}

func TestCreateServerRejectsInvertedHeap(t *testing.T) {
	store := newTestStore(t)
	server := &models.Server{
		Name: "bad", Directory: "servers/bad",
		Loader: models.ModLoaderVanilla, MCVersion: "1.21.1",
		MinHeapGiB: 4, MaxHeapGiB: 2,
	}
	err := store.CreateServer(context.Background(), server)
	require.Error(t, err)
	var heapErr *models.HeapPolicyError
	assert.ErrorAs(t, err, &heapErr)
}

func TestGetServerNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetServer(context.Background(), "does-not-exist")
	assert.True(t, ctlerrors.ErrNotFound.Is(err) || isNotFound(err))
}

func isNotFound(err error) bool {
	e, ok := err.(*ctlerrors.Error)
	return ok && e.Kind == ctlerrors.KindNotFound
}

func TestUpdateServerStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	server := &models.Server{Name: "s", Directory: "servers/s", Loader: models.ModLoaderFabric, MCVersion: "1.20.1", MinHeapGiB: 1, MaxHeapGiB: 2}
	require.NoError(t, store.CreateServer(ctx, server))

	require.NoError(t, store.UpdateServerStatus(ctx, server.ID, models.StatusRunning))
	got, err := store.GetServer(ctx, server.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestUpdateServerStatusUnknownServer(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateServerStatus(context.Background(), "ghost", models.StatusRunning)
	require.Error(t, err)
}

func TestDeleteServerCascadesModsAndSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	server := &models.Server{Name: "s", Directory: "servers/s", Loader: models.ModLoaderForge, MCVersion: "1.20.1", MinHeapGiB: 1, MaxHeapGiB: 2}
	require.NoError(t, store.CreateServer(ctx, server))

	require.NoError(t, store.UpsertMod(ctx, &models.Mod{ServerID: server.ID, Filename: "jei.jar", Name: "JEI"}))
	require.NoError(t, store.CreateBackupSchedule(ctx, &models.BackupSchedule{
		ServerID: server.ID, CadenceAmount: 6, CadenceUnit: models.CadenceHours, Kind: models.BackupIncremental,
	}))

	require.NoError(t, store.DeleteServer(ctx, server.ID))

	mods, err := store.ListServerMods(ctx, server.ID)
	require.NoError(t, err)
	assert.Empty(t, mods)

	scheds, err := store.ListBackupSchedules(ctx, server.ID)
	require.NoError(t, err)
	assert.Empty(t, scheds)

	_, err = store.GetServer(ctx, server.ID)
	assert.Error(t, err)
}

func TestUpsertModReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	server := &models.Server{Name: "s", Directory: "servers/s", Loader: models.ModLoaderFabric, MCVersion: "1.20.1", MinHeapGiB: 1, MaxHeapGiB: 2}
	require.NoError(t, store.CreateServer(ctx, server))

	mod := &models.Mod{ServerID: server.ID, Filename: "sodium.jar", Version: "0.5.0"}
	require.NoError(t, store.UpsertMod(ctx, mod))
	mod.Version = "0.5.8"
	require.NoError(t, store.UpsertMod(ctx, mod))

	mods, err := store.ListServerMods(ctx, server.ID)
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "0.5.8", mods[0].Version)
}

func TestListDueBackupSchedules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	server := &models.Server{Name: "s", Directory: "servers/s", Loader: models.ModLoaderVanilla, MCVersion: "1.20.1", MinHeapGiB: 1, MaxHeapGiB: 2}
	require.NoError(t, store.CreateServer(ctx, server))

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	due := &models.BackupSchedule{ServerID: server.ID, CadenceAmount: 1, CadenceUnit: models.CadenceDays, Kind: models.BackupIncremental, Enabled: true, NextRun: &past}
	notDue := &models.BackupSchedule{ServerID: server.ID, CadenceAmount: 1, CadenceUnit: models.CadenceDays, Kind: models.BackupIncremental, Enabled: true, NextRun: &future}
	disabled := &models.BackupSchedule{ServerID: server.ID, CadenceAmount: 1, CadenceUnit: models.CadenceDays, Kind: models.BackupIncremental, Enabled: false, NextRun: &past}
	require.NoError(t, store.CreateBackupSchedule(ctx, due))
	require.NoError(t, store.CreateBackupSchedule(ctx, notDue))
	require.NoError(t, store.CreateBackupSchedule(ctx, disabled))

	scheds, err := store.ListDueBackupSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	assert.Equal(t, due.ID, scheds[0].ID)
}

func TestNotificationsOrderedNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateNotification(ctx, &models.Notification{Title: "first", Kind: models.NotificationInfo}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.CreateNotification(ctx, &models.Notification{Title: "second", Kind: models.NotificationWarning}))

	notifications, err := store.ListNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 2)
	assert.Equal(t, "second", notifications[0].Title)
}
