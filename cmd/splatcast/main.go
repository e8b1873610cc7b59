// Package main implements the splatcast gateway binary. Splatcast is a
// multi-tenant event-streaming gateway: producers publish schema-versioned
// JSON events over HTTP, the gateway validates and optionally transforms
// them onto JetStream, and subscribers follow topics over WebSocket with
// replay from a historical timestamp.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "splatcast"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}
