//go:build !windows

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/obsidianmc/controlplane/pkg/logger"
)

// watchSupportBundleSignal arranges for SIGUSR1 to dump the logger's
// recent-lines buffer to a timestamped file in the OS temp dir, so an
// operator can pull a snapshot of what the daemon was doing without
// restarting it.
func watchSupportBundleSignal(log *logger.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGUSR1)
	go func() {
		for range sig {
			path := filepath.Join(os.TempDir(), fmt.Sprintf("controlplane-support-%d.log", time.Now().Unix()))
			f, err := os.Create(path)
			if err != nil {
				log.Error("support bundle: creating %s: %v", path, err)
				continue
			}
			if err := log.WriteSupportBundle(f); err != nil {
				log.Error("support bundle: writing %s: %v", path, err)
			} else {
				log.Info("support bundle: wrote recent logs to %s", path)
			}
			f.Close()
		}
	}()
}
