package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/models"
)

// PoolConfig tunes the underlying database/sql connection pool. SQLite
// serializes writers regardless, but a small pool still lets concurrent
// readers (mod index listing, notification polling) avoid lock contention.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig mirrors the single-writer nature of SQLite: a handful of
// reader connections, no idle churn.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 8, MaxIdleConns: 4, ConnMaxLifetime: time.Hour}
}

// GormStore is the default Store backed by GORM over SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (and migrates) a SQLite-backed Store at path.
// Passing a config is optional; the zero value falls back to DefaultPoolConfig.
func NewSQLiteStore(path string, cfg ...PoolConfig) (*GormStore, error) {
	pool := DefaultPoolConfig()
	if len(cfg) > 0 {
		pool = cfg[0]
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, fmt.Sprintf("opening store at %s", path), err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "acquiring underlying sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	s := &GormStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(
		&models.Server{},
		&models.BackupSchedule{},
		&models.Mod{},
		&models.Notification{},
	); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "running migrations", err)
	}
	// NextRun is scanned on every scheduler tick; Directory uniqueness is
	// already enforced by the gorm uniqueIndex tag above.
	if err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_backup_schedules_next_run ON backup_schedules(next_run)`).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "creating next_run index", err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- servers ---

func (s *GormStore) CreateServer(ctx context.Context, server *models.Server) error {
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	if err := server.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(server).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "creating server", err)
	}
	return nil
}

func (s *GormStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	var server models.Server
	err := s.db.WithContext(ctx).First(&server, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("server %s", id), err)
	}
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "fetching server", err)
	}
	return &server, nil
}

func (s *GormStore) ListServers(ctx context.Context) ([]*models.Server, error) {
	var servers []*models.Server
	if err := s.db.WithContext(ctx).Order("name").Find(&servers).Error; err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "listing servers", err)
	}
	return servers, nil
}

func (s *GormStore) UpdateServerStatus(ctx context.Context, id string, status models.ServerStatus) error {
	res := s.db.WithContext(ctx).Model(&models.Server{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "updating server status", res.Error)
	}
	if res.RowsAffected == 0 {
		return ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("server %s", id), nil)
	}
	return nil
}

func (s *GormStore) UpdateServerInstallOutcome(ctx context.Context, id, serverJar, javaArgs string) error {
	res := s.db.WithContext(ctx).Model(&models.Server{}).Where("id = ?", id).Updates(map[string]any{
		"server_jar":     serverJar,
		"extra_jvm_args": javaArgs,
	})
	if res.Error != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "updating install outcome", res.Error)
	}
	if res.RowsAffected == 0 {
		return ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("server %s", id), nil)
	}
	return nil
}

func (s *GormStore) UpdateServer(ctx context.Context, server *models.Server) error {
	if err := server.Validate(); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(server).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "updating server", err)
	}
	return nil
}

func (s *GormStore) DeleteServer(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("server_id = ?", id).Delete(&models.Mod{}).Error; err != nil {
			return err
		}
		if err := tx.Where("server_id = ?", id).Delete(&models.BackupSchedule{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Server{}, "id = ?", id).Error; err != nil {
			return err
		}
		return nil
	})
}

// --- backup schedules ---

func (s *GormStore) CreateBackupSchedule(ctx context.Context, sched *models.BackupSchedule) error {
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(sched).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "creating backup schedule", err)
	}
	return nil
}

func (s *GormStore) ListBackupSchedules(ctx context.Context, serverID string) ([]*models.BackupSchedule, error) {
	var scheds []*models.BackupSchedule
	if err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Find(&scheds).Error; err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "listing backup schedules", err)
	}
	return scheds, nil
}

func (s *GormStore) ListDueBackupSchedules(ctx context.Context) ([]*models.BackupSchedule, error) {
	var scheds []*models.BackupSchedule
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).
		Where("enabled = ? AND (next_run IS NULL OR next_run <= ?)", true, now).
		Find(&scheds).Error
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "listing due backup schedules", err)
	}
	return scheds, nil
}

func (s *GormStore) UpdateBackupSchedule(ctx context.Context, sched *models.BackupSchedule) error {
	if err := s.db.WithContext(ctx).Save(sched).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "updating backup schedule", err)
	}
	return nil
}

func (s *GormStore) DeleteBackupSchedule(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.BackupSchedule{}, "id = ?", id).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "deleting backup schedule", err)
	}
	return nil
}

// --- mods ---

func (s *GormStore) UpsertMod(ctx context.Context, mod *models.Mod) error {
	err := s.db.WithContext(ctx).
		Clauses(onConflictUpdateAll("server_id", "filename")).
		Create(mod).Error
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "upserting mod", err)
	}
	return nil
}

// modBatchSize bounds how many rows a single INSERT statement in
// UpsertModsBatch covers; CreateInBatches runs every chunk of one call
// inside a single transaction.
const modBatchSize = 1000

func (s *GormStore) UpsertModsBatch(ctx context.Context, mods []*models.Mod) error {
	if len(mods) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Clauses(onConflictUpdateAll("server_id", "filename")).
		CreateInBatches(mods, modBatchSize).Error
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "batch upserting mods", err)
	}
	return nil
}

func (s *GormStore) DeleteMod(ctx context.Context, serverID, filename string) error {
	err := s.db.WithContext(ctx).
		Where("server_id = ? AND filename = ?", serverID, filename).
		Delete(&models.Mod{}).Error
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "deleting mod", err)
	}
	return nil
}

func (s *GormStore) ListServerMods(ctx context.Context, serverID string) ([]*models.Mod, error) {
	var mods []*models.Mod
	if err := s.db.WithContext(ctx).Where("server_id = ?", serverID).Order("filename").Find(&mods).Error; err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "listing server mods", err)
	}
	return mods, nil
}

// --- notifications ---

func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "creating notification", err)
	}
	return nil
}

func (s *GormStore) ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	var notifications []*models.Notification
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&notifications).Error; err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "listing notifications", err)
	}
	return notifications, nil
}

var _ Store = (*GormStore)(nil)
