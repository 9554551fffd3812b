// Package lifecycle owns the per-server state machine that orchestrates the
// installer clients, the child process supervisor, the UPnP lease manager
// and the event bus into one coherent Start/Stop/Kill/Restart surface.
package lifecycle

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	shellparse "github.com/arkady-emelyanov/go-shellparse"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/installer"
	"github.com/obsidianmc/controlplane/internal/minecraft"
	"github.com/obsidianmc/controlplane/internal/models"
	"github.com/obsidianmc/controlplane/internal/notify"
	"github.com/obsidianmc/controlplane/internal/storage"
	"github.com/obsidianmc/controlplane/internal/supervisor"
	"github.com/obsidianmc/controlplane/internal/upnp"
	"github.com/obsidianmc/controlplane/pkg/logger"
)

// defaultHangTimeout is used when a Server record leaves HangTimeout unset.
const defaultHangTimeout = 120 * time.Second

// stopGrace is how long Stop waits for a "stop" command to end the process
// before escalating to a forced kill.
const stopGrace = 30 * time.Second

// killGrace bounds how long Kill waits for the OS to reap the process tree.
const killGrace = 10 * time.Second

// restartDebounce is the pause Restart takes between the stop and the next
// start, so a crash loop doesn't spin the JVM up faster than the OS can
// tear the previous one down.
const restartDebounce = 3 * time.Second

// Manager owns every running Supervisor and serializes Start/Stop/Kill/
// Restart per server id. Operations on different servers run fully in
// parallel; it is the sole owner of each server's child-process handle.
type Manager struct {
	store        storage.Store
	bus          *events.Bus
	upnpMgr      *upnp.Manager // nil when UPnP discovery failed at startup
	installers   map[models.ModLoader]installer.Client
	javaVersions *minecraft.JavaVersionMap
	notifier     *notify.Publisher
	serversRoot  string
	log          *logger.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu          sync.Mutex
	supervisors map[string]*supervisor.Supervisor
	hangTimers  map[string]*time.Timer
}

// Config bundles a Manager's collaborators.
type Config struct {
	Store        storage.Store
	Bus          *events.Bus
	UPnPManager  *upnp.Manager
	Installers   map[models.ModLoader]installer.Client
	JavaVersions *minecraft.JavaVersionMap
	Notifier     *notify.Publisher
	ServersRoot  string
	Log          *logger.Logger
}

// NewManager constructs a Manager ready to drive servers rooted at
// cfg.ServersRoot.
func NewManager(cfg Config) *Manager {
	return &Manager{
		store:        cfg.Store,
		bus:          cfg.Bus,
		upnpMgr:      cfg.UPnPManager,
		installers:   cfg.Installers,
		javaVersions: cfg.JavaVersions,
		notifier:     cfg.Notifier,
		serversRoot:  cfg.ServersRoot,
		log:          cfg.Log,
		locks:        make(map[string]*sync.Mutex),
		supervisors:  make(map[string]*supervisor.Supervisor),
		hangTimers:   make(map[string]*time.Timer),
	}
}

func (m *Manager) lockFor(serverID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[serverID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[serverID] = l
	}
	return l
}

func (m *Manager) serverDir(server *models.Server) string {
	return filepath.Join(m.serversRoot, server.Directory)
}

func (m *Manager) setStatus(ctx context.Context, serverID string, status models.ServerStatus) error {
	if err := m.store.UpdateServerStatus(ctx, serverID, status); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "persisting server status", err)
	}
	m.bus.Publish(events.Event{
		Kind:      events.KindStatusChanged,
		ServerID:  serverID,
		Timestamp: time.Now(),
		Status:    string(status),
	})
	return nil
}

// Start transitions an Idle/Stopped/Crashed server to Starting: it runs the
// Forge/NeoForge install gate if needed, requests a UPnP lease, spawns the
// supervisor and returns once the process has been launched (not once it is
// Running — callers observe that transition on the bus).
func (m *Manager) Start(ctx context.Context, serverID string) error {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	server, err := m.store.GetServer(ctx, serverID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrNotFound, "loading server record", err)
	}
	switch server.Status {
	case models.StatusIdle, models.StatusStopped, models.StatusCrashed:
	default:
		return &ctlerrors.StateConflictError{ServerID: serverID, Reason: "start requires Idle/Stopped/Crashed, got " + string(server.Status)}
	}

	dir := m.serverDir(server)

	if minecraft.RequiresInstaller(server.Loader) && strings.Contains(strings.ToLower(server.ServerJar), "installer") {
		if err := m.runInstallGate(ctx, server, dir); err != nil {
			_ = m.setStatus(ctx, serverID, models.StatusCrashed)
			m.notifyTerminal(ctx, server, "Install failed", err.Error())
			return err
		}
	}

	if !minecraft.EULAAccepted(dir) {
		if err := minecraft.AcceptEULA(dir); err != nil {
			_ = m.setStatus(ctx, serverID, models.StatusCrashed)
			return err
		}
	}

	// The full-record save runs before the status write so it cannot put
	// the stale loaded status back over Starting.
	now := time.Now()
	server.LastStarted = &now
	_ = m.store.UpdateServer(ctx, server)

	if err := m.setStatus(ctx, serverID, models.StatusStarting); err != nil {
		return err
	}

	if server.UPnPOnStart && m.upnpMgr != nil {
		port := m.readServerPort(dir)
		if _, err := m.upnpMgr.Add(ctx, serverID, uint16(port), uint16(port), upnp.ProtocolTCP, "", ""); err != nil {
			m.log.Warn("upnp: could not map port for server %s: %v", serverID, err)
			m.bus.Publish(events.Event{Kind: events.KindUPnPUnavailable, ServerID: serverID, Timestamp: time.Now(), Reason: err.Error()})
		}
	}

	m.checkJavaPolicy(ctx, server)

	sv := supervisor.New(func(code int) { m.handleExit(serverID, code) })
	sv.OnDoneLine = func() { m.handleDoneLine(serverID) }
	sv.OnJavaVersionError = func() { m.handleJavaVersionError(serverID) }

	opts := supervisor.SpawnOptions{
		JavaExecutable: server.JavaExecutable,
		MinHeapGiB:     server.MinHeapGiB,
		MaxHeapGiB:     server.MaxHeapGiB,
		ExtraJVMArgs:   splitArgs(server.ExtraJVMArgs),
		ServerJar:      server.ServerJar,
		ExtraMCArgs:    splitArgs(server.ExtraMCArgs),
		Dir:            dir,
	}
	if err := sv.Start(ctx, opts); err != nil {
		_ = m.setStatus(ctx, serverID, models.StatusCrashed)
		if m.upnpMgr != nil {
			_ = m.upnpMgr.Remove(ctx, serverID)
		}
		return err
	}

	m.mu.Lock()
	m.supervisors[serverID] = sv
	m.hangTimers[serverID] = time.AfterFunc(hangTimeout(server), func() { m.handleHang(serverID) })
	m.mu.Unlock()

	return nil
}

// Stop sends a graceful "stop" and escalates to a forced kill after
// stopGrace if the process hasn't exited by then.
func (m *Manager) Stop(ctx context.Context, serverID string) error {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	server, err := m.store.GetServer(ctx, serverID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrNotFound, "loading server record", err)
	}
	if server.Status != models.StatusRunning && server.Status != models.StatusHanging {
		return &ctlerrors.StateConflictError{ServerID: serverID, Reason: "stop requires Running/Hanging, got " + string(server.Status)}
	}

	sv := m.supervisorFor(serverID)
	if sv == nil {
		return &ctlerrors.StateConflictError{ServerID: serverID, Reason: "no supervisor for server"}
	}

	if err := m.setStatus(ctx, serverID, models.StatusStopping); err != nil {
		return err
	}
	// handleExit (invoked by the supervisor's waitLoop) performs the actual
	// Stopped/Crashed transition once the process has exited.
	return sv.Stop(ctx, stopGrace)
}

// Kill forces the process tree down immediately, regardless of the server's
// current status, bounded by killGrace. The server is marked Stopping first,
// so handleExit records the exit as Stopped.
func (m *Manager) Kill(ctx context.Context, serverID string) error {
	lock := m.lockFor(serverID)
	lock.Lock()
	defer lock.Unlock()

	sv := m.supervisorFor(serverID)
	if sv == nil || !sv.IsRunning() {
		return nil
	}
	if err := m.setStatus(ctx, serverID, models.StatusStopping); err != nil {
		return err
	}
	return sv.Kill(ctx, killGrace)
}

// Restart waits restartDebounce and then starts the server again. It is
// only valid from Stopped/Crashed and does not stop a running process; to
// restart a running server, call Stop and then Restart.
func (m *Manager) Restart(ctx context.Context, serverID string) error {
	server, err := m.store.GetServer(ctx, serverID)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrNotFound, "loading server record", err)
	}
	if server.Status != models.StatusStopped && server.Status != models.StatusCrashed {
		return &ctlerrors.StateConflictError{ServerID: serverID, Reason: "restart requires Stopped/Crashed, got " + string(server.Status)}
	}

	select {
	case <-time.After(restartDebounce):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Start(ctx, serverID)
}

func (m *Manager) supervisorFor(serverID string) *supervisor.Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supervisors[serverID]
}

func (m *Manager) clearHangTimer(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.hangTimers[serverID]; ok {
		t.Stop()
		delete(m.hangTimers, serverID)
	}
}

func (m *Manager) handleDoneLine(serverID string) {
	m.clearHangTimer(serverID)
	ctx := context.Background()
	if err := m.setStatus(ctx, serverID, models.StatusRunning); err != nil {
		m.log.Error("lifecycle: recording Running status for %s: %v", serverID, err)
		return
	}
	m.bus.Publish(events.Event{Kind: events.KindStarted, ServerID: serverID, Timestamp: time.Now()})
}

func (m *Manager) handleHang(serverID string) {
	ctx := context.Background()
	server, err := m.store.GetServer(ctx, serverID)
	if err != nil || server.Status != models.StatusStarting {
		return
	}
	_ = m.setStatus(ctx, serverID, models.StatusHanging)
}

func (m *Manager) handleJavaVersionError(serverID string) {
	m.bus.Publish(events.Event{Kind: events.KindJavaVersionError, ServerID: serverID, Timestamp: time.Now()})
}

// handleExit is the supervisor's terminal callback: it runs once, off the
// goroutine that reaped the process, and performs the Stopped/Crashed
// transition plus UPnP teardown and notification.
func (m *Manager) handleExit(serverID string, exitCode int) {
	ctx := context.Background()
	m.clearHangTimer(serverID)

	m.mu.Lock()
	delete(m.supervisors, serverID)
	m.mu.Unlock()

	if m.upnpMgr != nil {
		if err := m.upnpMgr.Remove(ctx, serverID); err != nil {
			m.log.Warn("upnp: releasing lease for %s: %v", serverID, err)
		}
	}

	server, err := m.store.GetServer(ctx, serverID)
	if err != nil {
		m.log.Error("lifecycle: loading server %s after exit: %v", serverID, err)
		return
	}

	// A process that exits while Stopping (Stop's forced kill after the
	// grace period, or Kill) is Stopped whatever its exit code.
	if exitCode == 0 || server.Status == models.StatusStopping {
		_ = m.setStatus(ctx, serverID, models.StatusStopped)
		m.bus.Publish(events.Event{Kind: events.KindStopped, ServerID: serverID, Timestamp: time.Now()})
		return
	}

	_ = m.setStatus(ctx, serverID, models.StatusCrashed)
	m.bus.Publish(events.Event{Kind: events.KindCrashed, ServerID: serverID, Timestamp: time.Now(), ExitCode: exitCode})
	m.notifyTerminal(ctx, server, "Server crashed", "exited with code "+strconv.Itoa(exitCode))
}

func (m *Manager) notifyTerminal(ctx context.Context, server *models.Server, title, message string) {
	if m.notifier == nil {
		return
	}
	if _, err := m.notifier.Publish(ctx, title, message, models.NotificationError,
		models.ActionViewDetails|models.ActionRestartServer, server.ID); err != nil {
		m.log.Error("lifecycle: publishing notification for %s: %v", server.ID, err)
	}
}

func (m *Manager) readServerPort(dir string) int {
	props, err := minecraft.LoadServerProperties(dir)
	if err != nil {
		return 25565
	}
	return props.Port()
}

func hangTimeout(server *models.Server) time.Duration {
	if server.HangTimeout > 0 {
		return server.HangTimeout
	}
	return defaultHangTimeout
}

// splitArgs turns an operator-supplied extra-args string into an argv
// slice using shell quoting rules, so a value like `--icon "my server.png"`
// survives as one argument instead of being torn apart at the space.
func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	args, err := shellparse.StringToSlice(s)
	if err != nil {
		return []string{s}
	}
	return args
}
