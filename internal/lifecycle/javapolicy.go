package lifecycle

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"

	"github.com/obsidianmc/controlplane/internal/models"
)

// javaVersionLineRe extracts the major version number `java -version`
// prints to stderr, across both the legacy "1.8.0_xxx" and modern "17.0.x"
// forms.
var javaVersionLineRe = regexp.MustCompile(`version "(?:1\.)?(\d+)`)

// checkJavaPolicy is a non-gating hint: if the Java-Version Map has an
// opinion about server.MCVersion and the configured javaExecutable reports
// a major version different from the one the map records for that runtime,
// it is logged but the spawn proceeds
// regardless — the authoritative signal is the JavaVersionError the
// supervisor raises by scanning the child's own output.
func (m *Manager) checkJavaPolicy(ctx context.Context, server *models.Server) {
	if m.javaVersions == nil {
		return
	}
	label, ok := m.javaVersions.LabelFor(server.MCVersion)
	if !ok {
		return
	}
	rng, ok := m.javaVersions.RangeFor(label)
	if !ok {
		return
	}

	javaExecutable := server.JavaExecutable
	if javaExecutable == "" {
		javaExecutable = "java"
	}
	major, err := detectJavaMajor(ctx, javaExecutable)
	if err != nil {
		m.log.Warn("lifecycle: could not determine java major version for %s (%s): %v", server.ID, javaExecutable, err)
		return
	}
	// rng.MajorVersion is the Java major version Mojang's manifest records
	// for the runtime label server.MCVersion maps to; logging the mismatch
	// is all this policy does today, per spec's "hint, not a hard gate"
	// resolution — the authoritative signal is the JavaVersionError the
	// supervisor raises from the child's own stderr.
	if rng.MajorVersion != 0 && major != rng.MajorVersion {
		m.log.Warn("lifecycle: server %s (MC %s) is configured with java %q reporting major version %d, but runtime %q requires major version %d",
			server.ID, server.MCVersion, javaExecutable, major, label, rng.MajorVersion)
	}
}

// detectJavaMajor execs `java -version` and parses the major version number
// from its stderr output (the JVM writes its banner there, not stdout).
func detectJavaMajor(ctx context.Context, javaExecutable string) (int, error) {
	cmd := exec.CommandContext(ctx, javaExecutable, "-version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return 0, err
		}
	}
	m := javaVersionLineRe.FindSubmatch(out)
	if m == nil {
		return 0, errNoVersionLine
	}
	return strconv.Atoi(string(m[1]))
}

var errNoVersionLine = versionParseError{}

type versionParseError struct{}

func (versionParseError) Error() string { return "could not find a version line in java -version output" }
