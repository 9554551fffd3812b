// Package forge implements installer.Client against Forge's Maven metadata
// and jar-exec installer.
package forge

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/internal/installer"
	"github.com/obsidianmc/controlplane/internal/installer/jarinstaller"
)

const (
	versionMetadataURL = "https://maven.minecraftforge.net/net/minecraftforge/forge/maven-metadata.json"
	promotionsURL       = "https://maven.minecraftforge.net/net/minecraftforge/forge/promotions_slim.json"
	installerJarName    = "forge-installer.jar"
)

// Client lists and installs Forge builds.
type Client struct {
	dl             installer.Downloader
	javaExecutable string
}

// New builds a Forge installer client. javaExecutable is the java binary
// used to exec the installer jar ("java" if empty).
func New(dl installer.Downloader, javaExecutable string) *Client {
	return &Client{dl: dl, javaExecutable: javaExecutable}
}

// ListVersions returns every (mcVersion, forgeVersion) pair Forge publishes,
// newest first per Maven's own ordering within each MC version's list.
func (c *Client) ListVersions(ctx context.Context) ([]installer.VersionInfo, error) {
	body, err := c.dl.Get(ctx, versionMetadataURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "reading forge maven-metadata.json", err)
	}

	result := gjson.ParseBytes(data)
	if !result.IsObject() {
		return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, "forge maven-metadata.json is not an object", nil)
	}

	var versions []installer.VersionInfo
	result.ForEach(func(mcVersion, builds gjson.Result) bool {
		builds.ForEach(func(_, build gjson.Result) bool {
			versions = append(versions, installer.VersionInfo{
				MCVersion:     mcVersion.String(),
				LoaderVersion: build.String(),
			})
			return true
		})
		return true
	})
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
	sort.SliceStable(versions, func(i, j int) bool { return newer(versions[i].MCVersion, versions[j].MCVersion) })
	return versions, nil
}

// RecommendedVersion resolves the {mc}-recommended (falling back to latest)
// entry from promotions_slim.json.
func (c *Client) RecommendedVersion(ctx context.Context, mcVersion string) (string, error) {
	body, err := c.dl.Get(ctx, promotionsURL)
	if err != nil {
		return "", err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.ErrIO, "reading forge promotions_slim.json", err)
	}

	promotions := gjson.GetBytes(data, "promos")
	if v := promotions.Get(mcVersion + "-recommended"); v.Exists() {
		return v.String(), nil
	}
	if v := promotions.Get(mcVersion + "-latest"); v.Exists() {
		return v.String(), nil
	}
	return "", ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("no forge promotion for %s", mcVersion), nil)
}

// InstallServer downloads the Forge installer jar for
// (mcVersion, loaderVersion), execs it, and parses the resulting start
// script. On any failure the caller's server record must not be mutated —
// this function only ever returns a result on success.
func (c *Client) InstallServer(ctx context.Context, dir string, version installer.VersionInfo, progress installer.ProgressFunc) (*installer.InstallResult, error) {
	if version.MCVersion == "" || version.LoaderVersion == "" {
		return nil, ctlerrors.Wrap(ctlerrors.ErrPolicyViolation, "forge install requires mcVersion and loaderVersion", nil)
	}

	url := fmt.Sprintf(
		"https://maven.minecraftforge.net/net/minecraftforge/forge/%s-%s/forge-%s-%s-installer.jar",
		version.MCVersion, version.LoaderVersion, version.MCVersion, version.LoaderVersion,
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

	serverJar, _ := findServerJar(dir)
	return &installer.InstallResult{ServerJar: serverJar, ExtraJVMArgs: javaArgs}, nil
}

// findServerJar looks for the one non-installer jar Forge's installer
// leaves in dir; returns "" (not an error) when the @libraries style means
// there is no standalone server jar to launch.
func findServerJar(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".jar") && !strings.Contains(name, "installer") {
			return name, nil
		}
	}
	return "", nil
}

var _ installer.Client = (*Client)(nil)
