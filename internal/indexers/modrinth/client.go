// Package modrinth is a trimmed Modrinth API client used only to enrich an
// installed mod row with its Modrinth project id once the jar's SHA1 is
// known. Modpack search/install is an external collaborator's concern (the
// GUI installer, per spec.md's scope) and is not reimplemented here.
package modrinth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

const baseURL = "https://api.modrinth.com/v2"

// Client is a small, stateless HTTP client for the one enrichment call the
// Installed-Mod Index needs.
type Client struct {
	httpClient *http.Client
	userAgent  string
}

// NewClient builds a client. userAgent should identify the control plane
// per Modrinth's API etiquette guidelines.
func NewClient(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		userAgent:  userAgent,
	}
}

// Hashes mirrors the hash block Modrinth attaches to a version file.
type Hashes struct {
	SHA512 string `json:"sha512"`
	SHA1   string `json:"sha1"`
}

// VersionFile is the subset of Modrinth's version-file response the index
// cares about: which project (mod) and version this jar belongs to.
type VersionFile struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"project_id"`
	Name      string   `json:"name"`
	VersionNo string   `json:"version_number"`
	Loaders   []string `json:"loaders"`
}

// LookupBySHA1 resolves an installed jar's SHA1 digest to the Modrinth
// project (mod) id that published it. A 404 is reported as an error that
// matches ctlerrors.ErrNotFound under errors.Is; callers that don't care
// simply skip enrichment on any error.
func (c *Client) LookupBySHA1(ctx context.Context, sha1 string) (*VersionFile, error) {
	url := fmt.Sprintf("%s/version_file/%s?algorithm=sha1", baseURL, sha1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building modrinth lookup request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("modrinth lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ctlerrors.Wrap(ctlerrors.ErrNotFound, fmt.Sprintf("modrinth: no project found for sha1 %s", sha1), nil)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("modrinth lookup: status %s: %s", resp.Status, body)
	}

	var vf VersionFile
	if err := json.NewDecoder(resp.Body).Decode(&vf); err != nil {
		return nil, fmt.Errorf("decoding modrinth version file: %w", err)
	}
	return &vf, nil
}
