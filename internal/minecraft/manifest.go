// Package minecraft holds the pieces every installer client and the
// lifecycle manager share about the Minecraft distribution itself: the
// Mojang version manifest, the derived Java-Version Map, and the
// server.properties reader. None of this is loader-specific installation
// logic — that lives under internal/installer/<loader>.
package minecraft

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/obsidianmc/controlplane/internal/cache"
	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

const versionManifestURL = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"

// manifestCacheTTL matches spec.md §4.3: 24h for the Mojang manifest.
const manifestCacheTTL = 24 * time.Hour

const manifestCacheKey = "manifest"

// LatestVersions names the current release and snapshot.
type LatestVersions struct {
	Release  string `json:"release"`
	Snapshot string `json:"snapshot"`
}

// VersionEntry is one row of the top-level manifest.
type VersionEntry struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	URL         string    `json:"url"`
	Time        time.Time `json:"time"`
	ReleaseTime time.Time `json:"releaseTime"`
	SHA1        string    `json:"sha1"`
}

// VersionManifest is the Mojang version_manifest_v2.json document.
type VersionManifest struct {
	Latest   LatestVersions `json:"latest"`
	Versions []VersionEntry `json:"versions"`
}

// Find returns the manifest entry for id, if present.
func (m *VersionManifest) Find(id string) (VersionEntry, bool) {
	for _, v := range m.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return VersionEntry{}, false
}

// ServerDownload is the downloads.server block of a per-version metadata doc.
type ServerDownload struct {
	URL  string `json:"url"`
	SHA1 string `json:"sha1"`
	Size int64  `json:"size"`
}

// VersionMetadata is the per-version JSON document a manifest entry's URL
// points to; only the fields the Vanilla installer and Java-Version Map
// need are modeled.
type VersionMetadata struct {
	JavaVersion struct {
		Component    string `json:"component"`
		MajorVersion int    `json:"majorVersion"`
	} `json:"javaVersion"`
	Downloads struct {
		Server ServerDownload `json:"server"`
	} `json:"downloads"`
}

// ManifestClient fetches the Mojang version manifest, caching it with a TTL,
// and fetches per-version metadata documents uncached on every call. It holds no process-wide state of its own
// — callers construct one and thread it through, per the "no global
// singletons" design note.
type ManifestClient struct {
	httpClient *http.Client
	cache      *cache.TTLCache[string, *VersionManifest]
}

// NewManifestClient builds a client over httpClient (nil uses a 30s-timeout
// default).
func NewManifestClient(httpClient *http.Client) *ManifestClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ManifestClient{
		httpClient: httpClient,
		cache:      cache.NewTTLCache[string, *VersionManifest](),
	}
}

// Fetch returns the version manifest, serving from cache when still fresh.
func (c *ManifestClient) Fetch(ctx context.Context) (*VersionManifest, error) {
	if m, ok := c.cache.Get(manifestCacheKey); ok {
		return m, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, versionManifestURL, nil)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "building manifest request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, "fetching version manifest", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, fmt.Sprintf("manifest status %s", resp.Status), nil)
	}

	var manifest VersionManifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, "decoding version manifest", err)
	}

	c.cache.Set(manifestCacheKey, &manifest, manifestCacheTTL)
	return &manifest, nil
}

// VersionMetadata fetches (uncached — callers cache at the caller's own
// granularity, e.g. JavaVersionMap) the per-version document at url.
func (c *ManifestClient) VersionMetadata(ctx context.Context, url string) (*VersionMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "building version metadata request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrTransientNetwork, "fetching version metadata", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, fmt.Sprintf("version metadata status %s", resp.Status), nil)
	}

	var meta VersionMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrProtocol, "decoding version metadata", err)
	}
	return &meta, nil
}

// RequiredJavaMajor resolves mcVersion's required Java major version,
// following the manifest entry to its per-version metadata document.
func (c *ManifestClient) RequiredJavaMajor(ctx context.Context, mcVersion string) (int, error) {
	manifest, err := c.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	entry, ok := manifest.Find(mcVersion)
	if !ok {
		return 0, ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("mc version %s", mcVersion), nil)
	}
	meta, err := c.VersionMetadata(ctx, entry.URL)
	if err != nil {
		return 0, err
	}
	return meta.JavaVersion.MajorVersion, nil
}
