// Package events implements the fan-out notification bus every other
// component publishes lifecycle, console and housekeeping activity onto.
// Subscribers get their own buffered channel and a lagging subscriber drops
// events rather than stalling the publisher.
package events

import "time"

// Kind discriminates the Event payload a subscriber should expect.
type Kind string

const (
	KindStatusChanged    Kind = "status_changed"
	KindConsoleOutput    Kind = "console_output"
	KindInstallProgress  Kind = "install_progress"
	KindStarted          Kind = "started"
	KindStopped          Kind = "stopped"
	KindCrashed          Kind = "crashed"
	KindJavaVersionError Kind = "java_version_error"
	KindBackupCompleted  Kind = "backup_completed"
	KindBackupFailed     Kind = "backup_failed"
	KindUPnPUnavailable  Kind = "upnp_unavailable"
	KindModIndexed       Kind = "mod_indexed"
	KindModRemoved       Kind = "mod_removed"
	KindNotification     Kind = "notification"
	// KindDropped is synthetic: the bus emits it into a slot of a
	// subscriber's own channel held back for it, to report how many events
	// that subscriber has missed while lagging. It is never published by
	// callers.
	KindDropped Kind = "dropped"
)

// Event is the envelope published on the bus. ServerID is empty for events
// that are not scoped to a single server (e.g. a global notification).
type Event struct {
	Kind      Kind
	ServerID  string
	Timestamp time.Time

	// Populated according to Kind; zero values elsewhere.
	Status          string // KindStatusChanged
	Line            string // KindConsoleOutput
	Progress        string // KindInstallProgress
	ExitCode        int    // KindCrashed
	RequiredJava    int    // KindJavaVersionError
	DetectedJava    int    // KindJavaVersionError
	BackupID        string // KindBackupCompleted / KindBackupFailed
	Reason          string // KindBackupFailed / KindUPnPUnavailable
	ModFilename     string // KindModIndexed / KindModRemoved
	NotificationID  string // KindNotification
	DroppedCount    int    // KindDropped
}
