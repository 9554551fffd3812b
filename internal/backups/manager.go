package backups

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/models"
	"github.com/obsidianmc/controlplane/internal/storage"
	"github.com/obsidianmc/controlplane/pkg/logger"
)

// Manager lazily builds and caches one Engine per server, resolving each
// server's on-disk directory through storage.Store. It is the concrete type
// the scheduler's BackupRunner interface is satisfied by, and the seam any
// ad-hoc (non-scheduled) backup request goes through too.
type Manager struct {
	cfg         Config
	serversRoot string
	store       storage.Store
	bus         *events.Bus
	log         *logger.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager builds a Manager. serversRoot is joined with a Server's own
// Directory field to locate its on-disk files.
func NewManager(cfg Config, serversRoot string, store storage.Store, bus *events.Bus, log *logger.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		serversRoot: serversRoot,
		store:       store,
		bus:         bus,
		log:         log,
		engines:     make(map[string]*Engine),
	}
}

// Engine returns the (possibly newly built) Engine for serverID.
func (m *Manager) Engine(ctx context.Context, serverID string) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if eng, ok := m.engines[serverID]; ok {
		return eng, nil
	}

	server, err := m.store.GetServer(ctx, serverID)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrNotFound, "resolving server "+serverID, err)
	}

	eng := NewEngine(m.cfg, serverID, filepath.Join(m.serversRoot, server.Directory), m.bus, m.log)
	m.engines[serverID] = eng
	return eng, nil
}

// RunScheduled implements scheduler.BackupRunner: it runs sched's Kind of
// backup, records LastRun/NextRun on the schedule, and applies retention.
// A backup failure is returned unwrapped so the scheduler's own task can
// report events.KindBackupFailed; retention and schedule-bookkeeping
// failures are logged only, since the backup itself already succeeded.
func (m *Manager) RunScheduled(ctx context.Context, sched *models.BackupSchedule) error {
	eng, err := m.Engine(ctx, sched.ServerID)
	if err != nil {
		return err
	}

	desc := fmt.Sprintf("scheduled %s backup", sched.Kind)
	if _, err := eng.Backup(ctx, sched.Kind, desc); err != nil {
		return err
	}

	now := time.Now().UTC()
	sched.LastRun = &now
	next := now.Add(sched.Period())
	sched.NextRun = &next
	if err := m.store.UpdateBackupSchedule(ctx, sched); err != nil {
		m.log.Warn("backups: recording schedule run for %s failed: %v", sched.ID, err)
	}

	retention := m.cfg.DefaultRetentionDays
	if sched.RetentionDays != nil {
		retention = *sched.RetentionDays
	}
	if retention > 0 {
		if err := eng.Prune(ctx, retention); err != nil {
			m.log.Warn("backups: retention prune for %s failed: %v", sched.ServerID, err)
		}
	}

	return nil
}
