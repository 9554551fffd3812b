//go:build windows

package main

import "github.com/obsidianmc/controlplane/pkg/logger"

// watchSupportBundleSignal is a no-op on Windows: there is no POSIX
// SIGUSR1 to catch, and os/signal on this platform can't deliver one.
func watchSupportBundleSignal(log *logger.Logger) {}
