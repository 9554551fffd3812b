package lifecycle

import (
	"context"
	"time"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/events"
	"github.com/obsidianmc/controlplane/internal/installer"
	"github.com/obsidianmc/controlplane/internal/models"
)

// runInstallGate runs the loader's installer client when Start finds a
// Forge/NeoForge server whose ServerJar names an installer jar. On success the server's ServerJar/ExtraJVMArgs are
// persisted atomically through a single Store call; on failure the record
// is left untouched so a retry starts from the same state.
func (m *Manager) runInstallGate(ctx context.Context, server *models.Server, dir string) error {
	client, ok := m.installers[server.Loader]
	if !ok {
		return ctlerrors.Wrap(ctlerrors.ErrPolicyViolation, "no installer client registered for loader "+string(server.Loader), nil)
	}

	version := installer.VersionInfo{MCVersion: server.MCVersion, LoaderVersion: server.LoaderVersion}
	progress := func(fraction float64, message string) {
		m.bus.Publish(events.Event{
			Kind:      events.KindInstallProgress,
			ServerID:  server.ID,
			Timestamp: time.Now(),
			Progress:  message,
		})
	}

	result, err := client.InstallServer(ctx, dir, version, progress)
	if err != nil {
		return err
	}

	if err := m.store.UpdateServerInstallOutcome(ctx, server.ID, result.ServerJar, result.ExtraJVMArgs); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "persisting install outcome", err)
	}
	server.ServerJar = result.ServerJar
	server.ExtraJVMArgs = result.ExtraJVMArgs
	return nil
}
