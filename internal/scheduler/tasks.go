package scheduler

import (
	"context"
	"time"

	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/minecraft"
	"github.com/obsidianmc/controlplane/internal/models"
	"github.com/obsidianmc/controlplane/internal/storage"
)

// javaVersionRefreshTaskID and backupCheckTaskID name the scheduler's two
// built-in tasks so callers can RemoveTask them if needed.
const (
	javaVersionRefreshTaskID = "java-version-refresh"
	backupCheckTaskID        = "backup-check"
)

// javaVersionRefreshInterval mirrors minecraft.JavaVersionMap's own 72h
// floor; the task simply re-checks ShouldRefresh every interval rather than
// assuming the floor is never missed.
const javaVersionRefreshInterval = 72 * time.Hour

// backupCheckInterval is how often the backup task polls for due schedules;
// the actual per-schedule cadence lives in each BackupSchedule's own
// NextRun, computed by the backup runner after each run.
const backupCheckInterval = time.Minute

// BackupRunner is the seam the Backup Engine satisfies; the scheduler holds
// only this interface to avoid depending on the concrete backup package.
type BackupRunner interface {
	RunScheduled(ctx context.Context, sched *models.BackupSchedule) error
}

// NewJavaVersionRefreshTask builds the task that keeps the Java-Version Map
// warm, refreshing no more often than its own 72h floor permits.
func NewJavaVersionRefreshTask(javaVersions *minecraft.JavaVersionMap, manifest *minecraft.ManifestClient) (*Task, error) {
	return EveryTask(javaVersionRefreshTaskID, javaVersionRefreshInterval, func(ctx context.Context) error {
		if !javaVersions.ShouldRefresh() {
			return nil
		}
		return javaVersions.RefreshAll(ctx, manifest)
	})
}

// NewBackupCheckTask builds the task that polls storage.Store for due
// backup schedules and hands each one to runner. A failed run never
// prevents the others from being attempted; it is logged and reported on
// the bus as events.KindBackupFailed.
func NewBackupCheckTask(store storage.Store, runner BackupRunner, bus *events.Bus) (*Task, error) {
	return EveryTask(backupCheckTaskID, backupCheckInterval, func(ctx context.Context) error {
		due, err := store.ListDueBackupSchedules(ctx)
		if err != nil {
			return err
		}
		for _, sched := range due {
			if err := runner.RunScheduled(ctx, sched); err != nil {
				bus.Publish(events.Event{
					Kind:      events.KindBackupFailed,
					ServerID:  sched.ServerID,
					Timestamp: time.Now(),
					Reason:    err.Error(),
				})
			}
		}
		return nil
	})
}
