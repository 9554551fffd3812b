package minecraft

import (
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

const eulaFilename = "eula.txt"

var eulaTrueLine = regexp.MustCompile(`(?im)^\s*eula\s*=\s*true\s*$`)

// eulaBoilerplate mirrors the comment line the vanilla server itself writes
// into a fresh eula.txt, so a server directory the control plane populates
// looks the same as one a human ran once by hand.
const eulaBoilerplate = "#By changing the setting below to TRUE you are indicating your agreement to our EULA (https://aka.ms/MinecraftEULA).\n"

// AcceptEULA writes an eula.txt accepting Mojang's EULA into dir. The
// lifecycle manager's Start calls it whenever dir has no accepted eula.txt;
// no acceptance policy is checked, so acceptance is always automatic.
func AcceptEULA(dir string) error {
	path := filepath.Join(dir, eulaFilename)
	content := eulaBoilerplate + "#" + time.Now().UTC().Format(time.RFC1123) + "\neula=true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "writing eula.txt", err)
	}
	return nil
}

// EULAAccepted reports whether dir/eula.txt contains a case-insensitive
// "eula=true" line. A missing file is treated as not-accepted, not an error.
func EULAAccepted(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, eulaFilename))
	if err != nil {
		return false
	}
	return eulaTrueLine.Match(data)
}
