// Package storage defines the KVStore capability the control plane consumes
// for persistence: server records, backup schedules and the installed-mod
// index. The core never depends on a concrete database — only on Store.
package storage

import (
	"context"

	"github.com/obsidianmc/controlplane/internal/models"
)

// Store is the persistence capability injected into the lifecycle manager,
// scheduler and mod index. A concrete backend (GormStore in this repo) is a
// reasonable default implementation, not part of the contract itself.
type Store interface {
	// Servers
	CreateServer(ctx context.Context, server *models.Server) error
	GetServer(ctx context.Context, id string) (*models.Server, error)
	ListServers(ctx context.Context) ([]*models.Server, error)
	// UpdateServerStatus persists only the status column; it is the single
	// writer path the lifecycle manager uses so status mutation never races
	// with a full record Save from elsewhere.
	UpdateServerStatus(ctx context.Context, id string, status models.ServerStatus) error
	// UpdateServerInstallOutcome atomically persists ServerJar/ExtraJVMArgs
	// after a successful Forge/NeoForge install.
	UpdateServerInstallOutcome(ctx context.Context, id, serverJar, javaArgs string) error
	UpdateServer(ctx context.Context, server *models.Server) error
	DeleteServer(ctx context.Context, id string) error

	// Backup schedules
	CreateBackupSchedule(ctx context.Context, sched *models.BackupSchedule) error
	ListBackupSchedules(ctx context.Context, serverID string) ([]*models.BackupSchedule, error)
	ListDueBackupSchedules(ctx context.Context) ([]*models.BackupSchedule, error)
	UpdateBackupSchedule(ctx context.Context, sched *models.BackupSchedule) error
	DeleteBackupSchedule(ctx context.Context, id string) error

	// Installed mods
	UpsertMod(ctx context.Context, mod *models.Mod) error
	// UpsertModsBatch writes all of mods in one transaction, as INSERT
	// statements of at most 1000 rows each, for the initial index build over
	// a large mods directory.
	UpsertModsBatch(ctx context.Context, mods []*models.Mod) error
	DeleteMod(ctx context.Context, serverID, filename string) error
	ListServerMods(ctx context.Context, serverID string) ([]*models.Mod, error)

	// Notifications
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error)

	Close() error
}
