// Package jarinstaller holds the exec-and-parse machinery Forge and
// NeoForge share: run the loader's installer jar, then recover the launch
// arguments from whichever start script it generated.
package jarinstaller

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
)

// argfileToken matches the @libraries/... argfile reference Forge/NeoForge
// installers emit into their generated start script, anywhere on a line.
// Per spec.md §9's open question, a failed scan is reported as ErrScriptParse
// rather than guessed at.
var argfileToken = regexp.MustCompile(`@libraries[^\s"]*`)

// RunInstaller execs `java -jar installerJar -installServer` with dir as
// the working directory and waits for it to exit. A non-zero exit is
// reported as ctlerrors.ErrInstallerFailed carrying the exit code.
func RunInstaller(ctx context.Context, javaExecutable, installerJar, dir string) error {
	if javaExecutable == "" {
		javaExecutable = "java"
	}
	cmd := exec.CommandContext(ctx, javaExecutable, "-jar", installerJar, "-installServer")
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return ctlerrors.Wrap(ctlerrors.ErrIO, "exec'ing installer jar", err)
	}
	return &ctlerrors.InstallerFailedError{ExitCode: exitErr.ExitCode()}
}

// startScriptName returns the generated script name for the host OS.
func startScriptName() string {
	if runtime.GOOS == "windows" {
		return "run.bat"
	}
	return "run.sh"
}

// ParseStartScript reads the installer-generated start script in dir and
// extracts the @libraries/... argfile token. A missing or unparseable
// script is ctlerrors.ErrScriptParse, never a best-effort guess.
func ParseStartScript(dir string) (string, error) {
	path := filepath.Join(dir, startScriptName())
	f, err := os.Open(path)
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.ErrScriptParse, "opening generated start script", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if m := argfileToken.FindString(scanner.Text()); m != "" {
			return m, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", ctlerrors.Wrap(ctlerrors.ErrScriptParse, "scanning start script", err)
	}
	return "", ctlerrors.Wrap(ctlerrors.ErrScriptParse, "no @libraries token found in "+path, nil)
}
