package minecraft

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProperties(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.properties"), []byte(contents), 0o644))
}

func TestLoadServerPropertiesParsesKeyValuePairsAndSkipsComments(t *testing.T) {
	dir := t.TempDir()
	writeProperties(t, dir, "#Minecraft server properties\nserver-port=25566\nmotd=hello world\n\n# a comment\ngamemode=survival\n")

	props, err := LoadServerProperties(dir)
	require.NoError(t, err)
	assert.Equal(t, "25566", props.GetString("server-port", ""))
	assert.Equal(t, "hello world", props.GetString("motd", ""))
	assert.Equal(t, "survival", props.GetString("gamemode", ""))
}

func TestLoadServerPropertiesMissingFileErrors(t *testing.T) {
	_, err := LoadServerProperties(t.TempDir())
	require.Error(t, err)
}

func TestGetStringFallsBackToDefaultForMissingKey(t *testing.T) {
	props := ServerProperties{}
	assert.Equal(t, "fallback", props.GetString("missing", "fallback"))
}

func TestPortDefaultsWhenServerPortMissing(t *testing.T) {
	props := ServerProperties{}
	assert.Equal(t, defaultServerPort, props.Port())
}

func TestPortParsesValidServerPort(t *testing.T) {
	props := ServerProperties{"server-port": "25570"}
	assert.Equal(t, 25570, props.Port())
}

func TestPortFallsBackOnMalformedServerPort(t *testing.T) {
	props := ServerProperties{"server-port": "not-a-port"}
	assert.Equal(t, defaultServerPort, props.Port())
}

func TestPortFallsBackOnOutOfRangeServerPort(t *testing.T) {
	props := ServerProperties{"server-port": "99999"}
	assert.Equal(t, defaultServerPort, props.Port())
}
