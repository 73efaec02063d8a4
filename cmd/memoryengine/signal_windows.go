//go:build windows

package main

import "os"

// terminationSignals lists the signals that trigger a graceful shutdown.
// syscall.SIGTERM isn't delivered on Windows, so os.Interrupt (Ctrl+C) is
// the only wakeup that drains the scheduler's in-flight jobs before exit.
var terminationSignals = []os.Signal{os.Interrupt}
