//go:build unix

package main

import (
	"os"
	"syscall"
)

// shutdownSignals includes SIGTERM so process managers and containers stop the bot cleanly.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}
