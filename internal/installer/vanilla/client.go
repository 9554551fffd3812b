// Package vanilla implements installer.Client against the Mojang version
// manifest: no loader, no installer jar, just a direct server.jar download.
package vanilla

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/installer"
	"github.com/obsidianmc/controlplane/internal/minecraft"
)

// ServerJarFilename is the name every vanilla install writes.
const ServerJarFilename = "server.jar"

// Client lists and installs vanilla server builds straight from Mojang's
// version manifest.
type Client struct {
	manifest *minecraft.ManifestClient
	dl       installer.Downloader
}

// New builds a vanilla installer client. manifest is shared with the
// lifecycle manager's Java-Version Map refresh so both read the same
// cached manifest.
func New(manifest *minecraft.ManifestClient, dl installer.Downloader) *Client {
	return &Client{manifest: manifest, dl: dl}
}

// ListVersions returns every release and snapshot, newest first.
func (c *Client) ListVersions(ctx context.Context) ([]installer.VersionInfo, error) {
	manifest, err := c.manifest.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	versions := make([]installer.VersionInfo, 0, len(manifest.Versions))
	for _, v := range manifest.Versions {
		versions = append(versions, installer.VersionInfo{MCVersion: v.ID, Stable: v.Type == "release"})
	}
	return versions, nil
}

// InstallServer downloads server.jar for version.MCVersion into dir and
// verifies its length against the manifest's reported size.
func (c *Client) InstallServer(ctx context.Context, dir string, version installer.VersionInfo, progress installer.ProgressFunc) (*installer.InstallResult, error) {
	manifest, err := c.manifest.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	entry, ok := manifest.Find(version.MCVersion)
	if !ok {
		return nil, ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("mc version %s", version.MCVersion), nil)
	}
	meta, err := c.manifest.VersionMetadata(ctx, entry.URL)
	if err != nil {
		return nil, err
	}
	if meta.Downloads.Server.URL == "" {
		return nil, ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("no server download for %s", version.MCVersion), nil)
	}

	dest := filepath.Join(dir, ServerJarFilename)
	if err := c.dl.Download(ctx, meta.Downloads.Server.URL, dest, progress); err != nil {
		return nil, err
	}

	if meta.Downloads.Server.Size > 0 {
		info, err := os.Stat(dest)
		if err != nil {
			return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "stat server.jar", err)
		}
		if info.Size() != meta.Downloads.Server.Size {
			return nil, ctlerrors.Wrap(ctlerrors.ErrIO, fmt.Sprintf(
				"server.jar size mismatch: got %d want %d", info.Size(), meta.Downloads.Server.Size), nil)
		}
	}

	return &installer.InstallResult{ServerJar: ServerJarFilename, ExtraJVMArgs: ""}, nil
}

var _ installer.Client = (*Client)(nil)
