package config

import (
	"os"
	"path/filepath"
	"time"
)

// Feature flag names understood by the installation stages.
const (
	FeatureBackup    = "backup"
	FeatureShortcuts = "shortcuts"
	FeatureAddToPath = "add_to_path"
)

// DefaultAllowedCommands is the operation allow-list used when the config omits one.
var DefaultAllowedCommands = []string{
	"status", "version", "check", "info", "help", "list",
	"health", "metrics", "logs", "users", "sessions", "audit",
}

// DefaultDangerousPatterns is the substring denylist used when the config omits one.
var DefaultDangerousPatterns = []string{
	"&", "|", ";", "`", "$", ">", "<", "(", ")", "{", "}",
	"rm", "del", "format", "sudo", "su", "passwd",
}

// Default returns a configuration populated with built-in values.
// ParseConfig decodes the YAML document on top of it.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	base := filepath.Join(home, ".stagehand")

	return Config{
		Version: "1.0",
		Name:    "stagehand",
		Policy: PolicyConfig{
			AllowedCommands:   append([]string(nil), DefaultAllowedCommands...),
			DangerousPatterns: append([]string(nil), DefaultDangerousPatterns...),
			MaxCommandLength:  1000,
			MatchMode:         "prefix",
		},
		Pipeline: PipelineConfig{
			MaxRetries:        3,
			StageTimeout:      10 * time.Minute,
			PausePollInterval: 100 * time.Millisecond,
			ChunkSize:         32 * 1024,
			WorkDir:           filepath.Join(base, "work"),
		},
		Requirements: RequirementsConfig{
			MinDiskSpaceMB:   1024,
			RequiredCommands: []string{},
			OptionalCommands: []string{"git"},
		},
		Audit: AuditConfig{
			Path: filepath.Join(base, "audit.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "stagehand",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8420",
		},
	}
}
