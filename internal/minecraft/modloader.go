package minecraft

import (
	"path/filepath"
	"strings"

	"github.com/obsidianmc/controlplane/internal/models"
)

// LoaderInfo describes the on-disk conventions a loader expects: where its
// mods live, where its configs live, and what file extensions count as a
// mod for IsValidModFile.
type LoaderInfo struct {
	Name            string
	DisplayName     string
	ModsDirectory   string
	ConfigDirectory string
	FileExtensions  []string
}

// GetLoaderInfo returns the on-disk layout convention for loader.
func GetLoaderInfo(loader models.ModLoader) LoaderInfo {
	switch loader {
	case models.ModLoaderVanilla:
		return LoaderInfo{Name: string(loader), DisplayName: "Vanilla"}
	case models.ModLoaderForge:
		return LoaderInfo{Name: string(loader), DisplayName: "Forge", ModsDirectory: "mods", ConfigDirectory: "config", FileExtensions: []string{".jar"}}
	case models.ModLoaderNeoForge:
		return LoaderInfo{Name: string(loader), DisplayName: "NeoForge", ModsDirectory: "mods", ConfigDirectory: "config", FileExtensions: []string{".jar"}}
	case models.ModLoaderFabric:
		return LoaderInfo{Name: string(loader), DisplayName: "Fabric", ModsDirectory: "mods", ConfigDirectory: "config", FileExtensions: []string{".jar"}}
	case models.ModLoaderQuilt:
		return LoaderInfo{Name: string(loader), DisplayName: "Quilt", ModsDirectory: "mods", ConfigDirectory: "config", FileExtensions: []string{".jar"}}
	case models.ModLoaderCustom:
		return LoaderInfo{Name: string(loader), DisplayName: "Custom", ModsDirectory: "mods", ConfigDirectory: "config", FileExtensions: []string{".jar"}}
	default:
		return LoaderInfo{Name: string(loader), DisplayName: string(loader)}
	}
}

// GetModsPath returns the directory the installed-mod index should watch
// for serverDataPath, or "" for loaders that don't support mods.
func GetModsPath(serverDataPath string, loader models.ModLoader) string {
	info := GetLoaderInfo(loader)
	if info.ModsDirectory == "" {
		return ""
	}
	return filepath.Join(serverDataPath, info.ModsDirectory)
}

// GetConfigPath returns the directory a loader's config files live in.
func GetConfigPath(serverDataPath string, loader models.ModLoader) string {
	info := GetLoaderInfo(loader)
	if info.ConfigDirectory == "" {
		return serverDataPath
	}
	return filepath.Join(serverDataPath, info.ConfigDirectory)
}

// IsValidModFile reports whether filename's extension is one the loader
// treats as an installable mod.
func IsValidModFile(filename string, loader models.ModLoader) bool {
	info := GetLoaderInfo(loader)
	if len(info.FileExtensions) == 0 {
		return false
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, validExt := range info.FileExtensions {
		if ext == validExt {
			return true
		}
	}
	return false
}

// RequiresInstaller reports whether loader ships a jar-exec installer that
// must run before the server can be started (Forge/NeoForge), as opposed to
// a directly-downloadable server jar (Vanilla/Fabric).
func RequiresInstaller(loader models.ModLoader) bool {
	return loader == models.ModLoaderForge || loader == models.ModLoaderNeoForge
}

// GetAllLoaders returns layout info for every loader the control plane
// recognizes, in the order they're declared in models.ModLoader.
func GetAllLoaders() []LoaderInfo {
	loaders := []models.ModLoader{
		models.ModLoaderVanilla,
		models.ModLoaderFabric,
		models.ModLoaderForge,
		models.ModLoaderNeoForge,
		models.ModLoaderQuilt,
		models.ModLoaderCustom,
	}
	infos := make([]LoaderInfo, len(loaders))
	for i, loader := range loaders {
		infos[i] = GetLoaderInfo(loader)
	}
	return infos
}
