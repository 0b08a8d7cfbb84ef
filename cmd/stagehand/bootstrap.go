package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alexisbeaulieu97/stagehand/internal/app"
	"github.com/alexisbeaulieu97/stagehand/internal/config"
)

func loadConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := config.Default()
		return &cfg, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", abs)
	}
	return config.ParseConfig(abs)
}

func openService(ctx context.Context, cfg *config.Config, flags *rootFlags, logs io.Writer) (*app.Service, error) {
	opts := app.BootstrapOptions{
		Build:     buildInfo(),
		LogWriter: logs,
	}
	if flags.verbose {
		opts.LogLevel = "debug"
	}
	return app.Open(ctx, cfg, opts)
}
