// Package models holds the persistent record types the control plane reads
// and writes through the storage.Store capability. Field tags target GORM's
// default SQLite backend but the types themselves carry no backend-specific
// behavior.
package models

import "time"

// ServerStatus is the wire/persistence form of a server's lifecycle state.
// The lifecycle manager checks each operation against the stored status and
// rejects an illegal transition with a StateConflictError; this string enum
// is what gets stored and reported.
type ServerStatus string

const (
	StatusIdle     ServerStatus = "idle"
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusStopping ServerStatus = "stopping"
	StatusStopped  ServerStatus = "stopped"
	StatusCrashed  ServerStatus = "crashed"
	StatusError    ServerStatus = "error"
	StatusHanging  ServerStatus = "hanging"
)

// ModLoader is the build-time distribution kind for a server.
type ModLoader string

const (
	ModLoaderVanilla  ModLoader = "vanilla"
	ModLoaderFabric   ModLoader = "fabric"
	ModLoaderForge    ModLoader = "forge"
	ModLoaderNeoForge ModLoader = "neoforge"
	ModLoaderQuilt    ModLoader = "quilt"
	ModLoaderCustom   ModLoader = "custom"
)

// Server is the identity/build/runtime/policy/status record for one
// supervised Minecraft server.
type Server struct {
	ID        string `json:"id" gorm:"primaryKey"`
	OwnerID   string `json:"owner_id" gorm:"index;not null"`
	Name      string `json:"name" gorm:"not null"`
	Directory string `json:"directory" gorm:"not null;uniqueIndex"` // relative to the servers root

	Loader        ModLoader `json:"loader" gorm:"not null"`
	MCVersion     string    `json:"mc_version" gorm:"not null"`
	LoaderVersion string    `json:"loader_version"`

	JavaExecutable string `json:"java_executable" gorm:"not null;default:java"`
	ExtraJVMArgs   string `json:"extra_jvm_args"`
	MinHeapGiB     int    `json:"min_heap_gib" gorm:"not null;default:1"`
	MaxHeapGiB     int    `json:"max_heap_gib" gorm:"not null;default:2"`
	ServerJar      string `json:"server_jar" gorm:"default:server.jar"`
	ExtraMCArgs    string `json:"extra_mc_args"`

	UPnPOnStart        bool `json:"upnp_on_start"`
	AutoStartOnBoot    bool `json:"auto_start_on_boot"`
	AutoRestartOnCrash bool `json:"auto_restart_on_crash"`

	// HangTimeout overrides the 120s default "no Done line" threshold;
	// zero means use the default.
	HangTimeout time.Duration `json:"hang_timeout"`

	Status ServerStatus `json:"status" gorm:"not null;default:idle"`

	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	LastStarted *time.Time `json:"last_started"`
}

// Validate checks the invariants spec.md places on a Server record that are
// cheap enough to check before every write (the min/max heap ordering).
func (s *Server) Validate() error {
	if s.MinHeapGiB > s.MaxHeapGiB {
		return &HeapPolicyError{Min: s.MinHeapGiB, Max: s.MaxHeapGiB}
	}
	return nil
}

// HeapPolicyError reports an inverted min/max heap configuration.
type HeapPolicyError struct {
	Min, Max int
}

func (e *HeapPolicyError) Error() string {
	return "min heap must not exceed max heap"
}

// BackupCadenceUnit is the unit a BackupSchedule's amount is expressed in.
type BackupCadenceUnit string

const (
	CadenceHours BackupCadenceUnit = "hours"
	CadenceDays  BackupCadenceUnit = "days"
	CadenceWeeks BackupCadenceUnit = "weeks"
)

// BackupKind distinguishes a full incremental snapshot from a world-only
// archive export.
type BackupKind string

const (
	BackupIncremental BackupKind = "incremental"
	BackupWorldOnly   BackupKind = "world_only"
)

// BackupSchedule is the recurring-backup configuration for one server.
type BackupSchedule struct {
	ID       string `json:"id" gorm:"primaryKey"`
	ServerID string `json:"server_id" gorm:"not null;index"`

	CadenceAmount int               `json:"cadence_amount" gorm:"not null"`
	CadenceUnit   BackupCadenceUnit `json:"cadence_unit" gorm:"not null"`
	Kind          BackupKind        `json:"kind" gorm:"not null"`
	Enabled       bool              `json:"enabled" gorm:"not null;default:true"`
	RetentionDays *int              `json:"retention_days"`

	LastRun *time.Time `json:"last_run"`
	NextRun *time.Time `json:"next_run"`
}

// Period converts the cadence into a time.Duration for scheduling math.
func (b *BackupSchedule) Period() time.Duration {
	n := time.Duration(b.CadenceAmount)
	switch b.CadenceUnit {
	case CadenceHours:
		return n * time.Hour
	case CadenceWeeks:
		return n * 7 * 24 * time.Hour
	default:
		return n * 24 * time.Hour
	}
}

// Mod is one installed-mod-jar row, mirrored against the filesystem by the
// installed-mod index.
type Mod struct {
	ServerID    string `json:"server_id" gorm:"primaryKey"`
	Filename    string `json:"filename" gorm:"primaryKey"`
	ModID       string `json:"mod_id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Authors     string `json:"authors"` // comma-joined; the index never needs to query by author
	Description string `json:"description"`
	Icon        []byte `json:"icon,omitempty" gorm:"type:blob"`

	ModrinthID   string `json:"modrinth_id,omitempty"`
	CurseForgeID string `json:"curseforge_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// NotificationKind mirrors the severity levels the teacher's frontend
// distinguishes by color.
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

// NotificationAction is one bit of the fixed actions bitset a Notification
// can offer the operator.
type NotificationAction uint32

const (
	ActionStartServer NotificationAction = 1 << iota
	ActionStopServer
	ActionRestartServer
	ActionViewDetails
	ActionViewMessage
	ActionUpdateNow
	ActionAcceptDecline

	allActions = ActionStartServer | ActionStopServer | ActionRestartServer |
		ActionViewDetails | ActionViewMessage | ActionUpdateNow | ActionAcceptDecline
)

// Has reports whether the bitset includes action.
func (a NotificationAction) Has(action NotificationAction) bool {
	return a&action != 0
}

// Valid reports whether a contains only recognized bits.
func (a NotificationAction) Valid() bool {
	return a&^allActions == 0
}

// Notification is a user-visible record of a lifecycle or backup event.
type Notification struct {
	ID              string             `json:"id" gorm:"primaryKey"`
	Title           string             `json:"title" gorm:"not null"`
	Message         string             `json:"message"`
	Kind            NotificationKind   `json:"kind" gorm:"not null"`
	Actions         NotificationAction `json:"actions"`
	ReferencedServer string            `json:"referenced_server,omitempty"`
	CreatedAt       time.Time          `json:"created_at" gorm:"autoCreateTime"`
}
