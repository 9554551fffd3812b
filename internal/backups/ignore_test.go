package backups

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIgnoreFile(t *testing.T, contents string) *IgnoreSet {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ignoreFileName)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	set, err := LoadIgnoreSet(path)
	require.NoError(t, err)
	return set
}

func TestIgnoreSetMissingFileIgnoresNothing(t *testing.T) {
	set, err := LoadIgnoreSet(filepath.Join(t.TempDir(), ".obakignore"))
	require.NoError(t, err)
	assert.False(t, set.Ignored("world/level.dat", false))
}

func TestIgnoreSetBasicPatterns(t *testing.T) {
	set := writeIgnoreFile(t, "logs/\n*.tmp\nignored.txt\n")

	assert.True(t, set.Ignored("logs", true))
	assert.True(t, set.Ignored("logs/latest.log", false))
	assert.True(t, set.Ignored("nested/logs/latest.log", false))
	assert.True(t, set.Ignored("scratch.tmp", false))
	assert.True(t, set.Ignored("nested/scratch.tmp", false))
	assert.True(t, set.Ignored("ignored.txt", false))

	assert.False(t, set.Ignored("server.jar", false))
	assert.False(t, set.Ignored("world/level.dat", false))
	// "logs/" is dir-only: a file literally named "logs" doesn't match it.
	assert.False(t, set.Ignored("logs", false))
}

func TestIgnoreSetComments(t *testing.T) {
	set := writeIgnoreFile(t, "# comment\n\n*.tmp\n")
	assert.True(t, set.Ignored("a.tmp", false))
	assert.False(t, set.Ignored("a.txt", false))
}

func TestIgnoreSetNegation(t *testing.T) {
	set := writeIgnoreFile(t, "*.log\n!important.log\n")
	assert.True(t, set.Ignored("debug.log", false))
	assert.False(t, set.Ignored("important.log", false))
}

func TestIgnoreSetAnchoredPattern(t *testing.T) {
	set := writeIgnoreFile(t, "/server.jar\n")
	assert.True(t, set.Ignored("server.jar", false))
	assert.False(t, set.Ignored("mods/server.jar", false))
}

func TestIgnoreSetDoubleStar(t *testing.T) {
	set := writeIgnoreFile(t, "cache/**/*.bin\n")
	// "**" matches zero or more directories, so both a nested and a direct
	// child under cache/ match, same as gitignore.
	assert.True(t, set.Ignored("cache/a/b/data.bin", false))
	assert.True(t, set.Ignored("cache/data.bin", false))
	assert.False(t, set.Ignored("other/data.bin", false))
}
