package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/alexisbeaulieu97/stagehand/internal/audit"
	"github.com/alexisbeaulieu97/stagehand/internal/config"
	"github.com/alexisbeaulieu97/stagehand/internal/installer"
	"github.com/alexisbeaulieu97/stagehand/internal/logger"
	"github.com/alexisbeaulieu97/stagehand/internal/metrics"
	"github.com/alexisbeaulieu97/stagehand/internal/registry"
	"github.com/alexisbeaulieu97/stagehand/internal/transfer"
)

// BootstrapOptions adjust Open for a particular front end.
type BootstrapOptions struct {
	Build BuildInfo
	// LogWriter receives log output. Defaults to stdout.
	LogWriter io.Writer
	// LogLevel overrides the configured level when set.
	LogLevel string
}

// Open builds a production Service: configured logger with an in-memory tail,
// SQLite audit store (in-memory when no path is configured), Prometheus collectors and the go-git add-on cloner.
func Open(ctx context.Context, cfg *config.Config, opts BootstrapOptions) (*Service, error) {
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	recorder := logger.NewRecorder(0)
	log, err := logger.New(logger.Options{
		Level:         level,
		HumanReadable: cfg.Logging.Format == "console",
		Writer:        opts.LogWriter,
		Recorder:      recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var store audit.Store = audit.NewMemoryStore(0, audit.WithDropLogger(log.WithComponent("audit")))
	if cfg.Audit.Path != "" {
		sqlite, err := audit.OpenSQLite(ctx, cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		store = sqlite
	}

	history, err := registry.NewRegistry(filepath.Join(cfg.Pipeline.WorkDir, registry.FileName))
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("open installation history: %w", err)
	}

	svc, err := NewService(Options{
		Config:   cfg,
		Log:      log,
		Recorder: recorder,
		Audit:    store,
		Metrics:  metrics.New(cfg.Metrics),
		History:  history,
		Build:    opts.Build,
		Transfer: transfer.New(
			transfer.WithChunkSize(cfg.Pipeline.ChunkSize),
			transfer.WithLogger(log),
		),
		Cloner: installer.GitCloner{Depth: 1},
	})
	if err != nil {
		if c, ok := store.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return svc, nil
}
