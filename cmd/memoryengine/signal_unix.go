//go:build !windows

package main

import (
	"os"
	"syscall"
)

// terminationSignals lists the signals that trigger a graceful shutdown.
// SIGTERM is what systemd sends on `systemctl stop`; the scheduler's Stop
// waits for in-flight extraction jobs to drain before this process exits.
var terminationSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
