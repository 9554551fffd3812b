// Package modindex maintains the per-server table of installed mods,
// derived by parsing each jar under a server's mods directory and kept in
// sync with the filesystem by a watcher.
package modindex

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/obsidianmc/controlplane/internal/models"
)

// maxManifestEntrySize bounds how much of a single zip entry (manifest or
// icon) is read into memory; generous for any legitimate mod metadata file.
const maxManifestEntrySize = 8 << 20

// ParseJar derives a Mod row's loader-reported fields from path, a mod jar.
// It tries, in order, Fabric's fabric.mod.json, Forge/NeoForge's
// META-INF/mods.toml, the legacy mcmod.info array, and finally falls back to
// a filename-derived stub. ServerID and Filename are left unset; the caller
// fills those in since ParseJar doesn't know the server context.
func ParseJar(path string) (*models.Mod, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening jar %s: %w", path, err)
	}
	defer r.Close()

	entries := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		entries[f.Name] = f
	}

	mod := &models.Mod{Filename: filepath.Base(path)}

	switch {
	case entries["fabric.mod.json"] != nil:
		if err := parseFabric(entries, mod); err != nil {
			return nil, err
		}
	case entries["META-INF/mods.toml"] != nil:
		if err := parseForgeToml(entries, mod); err != nil {
			return nil, err
		}
	case entries["mcmod.info"] != nil:
		if err := parseLegacyMcmodInfo(entries, mod); err != nil {
			return nil, err
		}
	default:
		stubMod(path, mod)
	}

	return mod, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxManifestEntrySize))
}

// fabricAuthor matches the two shapes fabric.mod.json allows: a bare string,
// or an object carrying at least a name.
type fabricAuthor struct {
	Name string
}

func (a *fabricAuthor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		a.Name = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	a.Name = obj.Name
	return nil
}

type fabricModJSON struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Version     string       `json:"version"`
	Description string       `json:"description"`
	Authors     []fabricAuthor `json:"authors"`
	Icon        json.RawMessage `json:"icon"`
}

func parseFabric(entries map[string]*zip.File, mod *models.Mod) error {
	raw, err := readEntry(entries["fabric.mod.json"])
	if err != nil {
		return fmt.Errorf("reading fabric.mod.json: %w", err)
	}
	var manifest fabricModJSON
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("parsing fabric.mod.json: %w", err)
	}

	mod.ModID = manifest.ID
	mod.Name = firstNonEmpty(manifest.Name, manifest.ID)
	mod.Version = manifest.Version
	mod.Description = manifest.Description
	mod.Authors = joinAuthors(manifest.Authors)
	mod.Icon = resolveFabricIcon(entries, manifest.Icon)
	return nil
}

func joinAuthors(authors []fabricAuthor) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return strings.Join(names, ", ")
}

// resolveFabricIcon handles fabric.mod.json's "icon" field, which is either a
// single path string or an object mapping pixel sizes to paths; the largest
// declared size is preferred when present as an object.
func resolveFabricIcon(entries map[string]*zip.File, raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var path string
	if err := json.Unmarshal(raw, &path); err == nil {
		return readIconPath(entries, path)
	}
	var sized map[string]string
	if err := json.Unmarshal(raw, &sized); err == nil {
		best, bestSize := "", -1
		for size, p := range sized {
			if n, err := strconv.Atoi(size); err == nil && p != "" && n > bestSize {
				best, bestSize = p, n
			}
		}
		return readIconPath(entries, best)
	}
	return nil
}

func readIconPath(entries map[string]*zip.File, path string) []byte {
	if path == "" {
		return nil
	}
	f, ok := entries[strings.TrimPrefix(path, "/")]
	if !ok {
		return nil
	}
	data, err := readEntry(f)
	if err != nil {
		return nil
	}
	return data
}

// forgeModsToml mirrors the handful of fields the control plane cares about
// from a Forge/NeoForge mods.toml; the full schema carries far more
// (dependencies, update JSON URLs) that this index has no use for.
type forgeModsToml struct {
	Mods []struct {
		ModID       string `toml:"modId"`
		Version     string `toml:"version"`
		DisplayName string `toml:"displayName"`
		Description string `toml:"description"`
		Authors     string `toml:"authors"`
		LogoFile    string `toml:"logoFile"`
	} `toml:"mods"`
}

func parseForgeToml(entries map[string]*zip.File, mod *models.Mod) error {
	raw, err := readEntry(entries["META-INF/mods.toml"])
	if err != nil {
		return fmt.Errorf("reading mods.toml: %w", err)
	}
	var manifest forgeModsToml
	if _, err := toml.Decode(string(raw), &manifest); err != nil {
		return fmt.Errorf("parsing mods.toml: %w", err)
	}
	if len(manifest.Mods) == 0 {
		return fmt.Errorf("mods.toml has no [[mods]] entries")
	}

	m := manifest.Mods[0]
	mod.ModID = m.ModID
	mod.Name = firstNonEmpty(m.DisplayName, m.ModID)
	// A version of literal "${file.jarVersion}" means Forge injects the real
	// version from the jar manifest at load time; this index has no
	// classloader to ask, so it's left as reported rather than guessed.
	mod.Version = m.Version
	mod.Description = m.Description
	mod.Authors = m.Authors
	if m.LogoFile != "" {
		mod.Icon = readIconPath(entries, m.LogoFile)
	}
	return nil
}

// legacyMcmodEntry is the pre-mods.toml Forge manifest format: a top-level
// JSON array of mod descriptors.
type legacyMcmodEntry struct {
	ModID       string   `json:"modid"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	AuthorList  []string `json:"authorList"`
	LogoFile    string   `json:"logoFile"`
}

func parseLegacyMcmodInfo(entries map[string]*zip.File, mod *models.Mod) error {
	raw, err := readEntry(entries["mcmod.info"])
	if err != nil {
		return fmt.Errorf("reading mcmod.info: %w", err)
	}
	var list []legacyMcmodEntry
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("parsing mcmod.info: %w", err)
	}
	if len(list) == 0 {
		return fmt.Errorf("mcmod.info has no entries")
	}

	e := list[0]
	mod.ModID = e.ModID
	mod.Name = firstNonEmpty(e.Name, e.ModID)
	mod.Version = e.Version
	mod.Description = e.Description
	mod.Authors = strings.Join(e.AuthorList, ", ")
	if e.LogoFile != "" {
		mod.Icon = readIconPath(entries, strings.TrimPrefix(e.LogoFile, "/"))
	}
	return nil
}

// stubMod fills a Mod row for a jar whose format this index doesn't
// recognize: id is the filename stem, version is the unknown sentinel.
func stubMod(path string, mod *models.Mod) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	mod.ModID = stem
	mod.Name = stem
	mod.Version = "0.0.0"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
