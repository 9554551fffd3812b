// Package fabric implements installer.Client against Fabric Meta: pure
// direct-URL downloads, no installer jar to exec.
package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/installer"
)

const (
	baseURL = "https://meta.fabricmc.net/v2/versions"
	// serverJarFilename is the convention Fabric's server-jar endpoint
	// packages (a shaded launcher jar, not a bare fabric-loader jar).
	serverJarFilename = "fabric-server-launch.jar"
)

// loaderEntry and installerEntry mirror /v2/versions/loader and
// /v2/versions/installer: {version, stable, maven[, url]}.
type loaderEntry struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
}

type installerEntry struct {
	Version string `json:"version"`
	Stable  bool   `json:"stable"`
}

// Client lists and installs Fabric loader builds.
type Client struct {
	dl installer.Downloader
}

// New builds a Fabric installer client over the shared transport.
func New(dl installer.Downloader) *Client {
	return &Client{dl: dl}
}

// ListVersions returns one entry per Fabric loader build Fabric Meta
// exposes; MCVersion is left empty since
// Fabric Meta's loader list isn't itself scoped to a single MC version —
// callers supply MCVersion via InstallServer's VersionInfo and this call is
// primarily used to populate the LoaderVersion picker.
func (c *Client) ListVersions(ctx context.Context) ([]installer.VersionInfo, error) {
	var loaders []loaderEntry
	if err := c.getJSON(ctx, baseURL+"/loader", &loaders); err != nil {
		return nil, err
	}
	versions := make([]installer.VersionInfo, 0, len(loaders))
	for _, l := range loaders {
		versions = append(versions, installer.VersionInfo{LoaderVersion: l.Version, Stable: l.Stable})
	}
	return versions, nil
}

// InstallServer downloads the server-jar artifact for
// (mcVersion, loaderVersion), using the latest stable installer build.
func (c *Client) InstallServer(ctx context.Context, dir string, version installer.VersionInfo, progress installer.ProgressFunc) (*installer.InstallResult, error) {
	if version.MCVersion == "" || version.LoaderVersion == "" {
		return nil, ctlerrors.Wrap(ctlerrors.ErrPolicyViolation, "fabric install requires mcVersion and loaderVersion", nil)
	}

	installerVersion, err := c.latestInstallerVersion(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/loader/%s/%s/%s/server/jar", baseURL, version.MCVersion, version.LoaderVersion, installerVersion)
	dest := filepath.Join(dir, serverJarFilename)
	if err := c.dl.Download(ctx, url, dest, progress); err != nil {
		return nil, err
	}

	return &installer.InstallResult{ServerJar: serverJarFilename, ExtraJVMArgs: ""}, nil
}

func (c *Client) latestInstallerVersion(ctx context.Context) (string, error) {
	var installers []installerEntry
	if err := c.getJSON(ctx, baseURL+"/installer", &installers); err != nil {
		return "", err
	}
	for _, i := range installers {
		if i.Stable {
			return i.Version, nil
		}
	}
	if len(installers) > 0 {
		return installers[0].Version, nil
	}
	return "", ctlerrors.Wrap(ctlerrors.ErrNotFound, "no fabric installer versions available", nil)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.dl.Get(ctx, url)
	if err != nil {
		return err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "reading fabric meta response", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrProtocol, "decoding fabric meta response", err)
	}
	return nil
}

var _ installer.Client = (*Client)(nil)
