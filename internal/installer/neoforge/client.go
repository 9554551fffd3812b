// Package neoforge implements installer.Client against NeoForge's Maven
// metadata and jar-exec installer. NeoForge's version strings embed the MC
// version (e.g. "21.1.57" for MC 1.21.1), unlike Forge's separate fields.
package neoforge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/installer"
	"github.com/obsidianmc/controlplane/internal/installer/jarinstaller"
)

const (
	metadataURL      = "https://maven.neoforged.net/api/maven/versions/releases/net/neoforged/neoforge"
	installerJarName = "neoforge-installer.jar"
)

type versionsResponse struct {
	IsSnapshot bool     `json:"isSnapshot"`
	Versions   []string `json:"versions"`
}

// Client lists and installs NeoForge builds.
type Client struct {
	dl             installer.Downloader
	javaExecutable string
}

// New builds a NeoForge installer client.
func New(dl installer.Downloader, javaExecutable string) *Client {
	return &Client{dl: dl, javaExecutable: javaExecutable}
}

// ListVersions returns every published NeoForge build, newest first by
// numeric comparison of the dotted version parts. MCVersion is filled in
// from NeoForge's own "{minor}.{patch}.{build}" scheme via ToMCVersion.
func (c *Client) ListVersions(ctx context.Context) ([]installer.VersionInfo, error) {
	body, err := c.dl.Get(ctx, metadataURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "reading neoforge version metadata", err)
	}

	var resp versionsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, "decoding neoforge version metadata", err)
	}

	versions := make([]installer.VersionInfo, 0, len(resp.Versions))
	for _, v := range resp.Versions {
		versions = append(versions, installer.VersionInfo{LoaderVersion: v, MCVersion: ToMCVersion(v)})
	}
	newer := func(a, b string) bool {
		pa, pb := strings.Split(a, "."), strings.Split(b, ".")
		for k := 0; k < len(pa) && k < len(pb); k++ {
			na, errA := strconv.Atoi(pa[k])
			nb, errB := strconv.Atoi(pb[k])
			if errA == nil && errB == nil && na != nb {
				return na > nb
			}
			if (errA != nil || errB != nil) && pa[k] != pb[k] {
				return pa[k] > pb[k]
			}
		}
		return len(pa) > len(pb)
	}
	sort.SliceStable(versions, func(i, j int) bool { return newer(versions[i].LoaderVersion, versions[j].LoaderVersion) })
	return versions, nil
}

// ToMCVersion derives the Minecraft version a NeoForge loader version
// targets from its "{minecraftMinor}.{minecraftPatch}.{build}" scheme,
// e.g. "21.1.57" -> "1.21.1".
func ToMCVersion(loaderVersion string) string {
	parts := strings.SplitN(loaderVersion, ".", 3)
	if len(parts) < 2 {
		return ""
	}
	return "1." + parts[0] + "." + parts[1]
}

// InstallServer downloads the NeoForge installer jar for loaderVersion,
// execs it, and parses the generated start script.
func (c *Client) InstallServer(ctx context.Context, dir string, version installer.VersionInfo, progress installer.ProgressFunc) (*installer.InstallResult, error) {
	if version.LoaderVersion == "" {
		return nil, ctlerrors.Wrap(ctlerrors.ErrPolicyViolation, "neoforge install requires loaderVersion", nil)
	}

	url := fmt.Sprintf(
		"https://maven.neoforged.net/releases/net/neoforged/neoforge/%s/neoforge-%s-installer.jar",
		version.LoaderVersion, version.LoaderVersion,
	)
	installerPath := filepath.Join(dir, installerJarName)
	if err := c.dl.Download(ctx, url, installerPath, progress); err != nil {
		return nil, err
	}
	defer os.Remove(installerPath)

	if err := jarinstaller.RunInstaller(ctx, c.javaExecutable, installerPath, dir); err != nil {
		return nil, err
	}

	javaArgs, err := jarinstaller.ParseStartScript(dir)
	if err != nil {
		return nil, err
	}

	return &installer.InstallResult{ServerJar: "", ExtraJVMArgs: javaArgs}, nil
}

var _ installer.Client = (*Client)(nil)
