// Package logtest initialises the process logger into a throwaway directory
// for package tests.
package logtest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"portfoliorelay/internal/config"

	"github.com/LixenWraith/logger"
)

// Main wraps testing.M.Run with logger setup and teardown.
func Main(m *testing.M, name string) {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", name+"-log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create log directory: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default().Logging
	cfg.Name = name
	cfg.Directory = dir
	cfg.MinDiskFreeMB = 1
	if err := logger.Init(ctx, &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
	}

	code := m.Run()

	_ = logger.Shutdown(ctx)
	_ = os.RemoveAll(dir)
	os.Exit(code)
}
