package config

import (
	"time"
)

// Config represents the full stagehand configuration document.
// A parsed Config is treated as immutable and handed by value or pointer to constructors.
type Config struct {
	Version      string             `yaml:"version" validate:"required,semver"`
	Name         string             `yaml:"name" validate:"required,min=1,max=100"`
	Policy       PolicyConfig       `yaml:"policy"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Requirements RequirementsConfig `yaml:"requirements"`
	Bundle       BundleConfig       `yaml:"bundle"`
	Audit        AuditConfig        `yaml:"audit"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Server       ServerConfig       `yaml:"server"`
	Profiles     []Profile          `yaml:"profiles" validate:"required,min=1,dive"`
}

// PolicyConfig holds the command allow-list and denylist.
type PolicyConfig struct {
	AllowedCommands   []string `yaml:"allowed_commands" validate:"required,min=1,dive,op_name"`
	DangerousPatterns []string `yaml:"dangerous_patterns" validate:"omitempty,dive,required"`
	MaxCommandLength  int      `yaml:"max_command_length" validate:"min=1,max=65536"`
	MatchMode         string   `yaml:"match_mode" validate:"oneof=prefix exact"`
}

// PipelineConfig tunes the installation pipeline.
type PipelineConfig struct {
	MaxRetries        int           `yaml:"max_retries" validate:"min=0,max=20"`
	StageTimeout      time.Duration `yaml:"stage_timeout" validate:"min=1s"`
	PausePollInterval time.Duration `yaml:"pause_poll_interval" validate:"min=1ms,max=10s"`
	ChunkSize         int           `yaml:"chunk_size" validate:"min=1024,max=16777216"`
	WorkDir           string        `yaml:"work_dir" validate:"required"`
}

// RequirementsConfig lists the preflight checks run before an installation.
type RequirementsConfig struct {
	MinDiskSpaceMB   uint64   `yaml:"min_disk_space_mb"`
	RequiredCommands []string `yaml:"required_commands" validate:"omitempty,dive,required"`
	OptionalCommands []string `yaml:"optional_commands" validate:"omitempty,dive,required"`
}

// BundleConfig describes where the installable bundle comes from.
type BundleConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	Checksum    string `yaml:"checksum,omitempty" validate:"omitempty,checksum"`
	ShortcutDir string `yaml:"shortcut_dir,omitempty"`
}

// AuditConfig selects the audit sink. An empty Path keeps events in memory only.
type AuditConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace" validate:"metric_name"`
}

// ServerConfig configures the HTTP front end.
type ServerConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// Profile is a named selection of components and feature flags.
type Profile struct {
	Name         string          `yaml:"name" validate:"required,profile_name"`
	Description  string          `yaml:"description,omitempty"`
	Components   []string        `yaml:"components" validate:"required,min=1,dive,required"`
	Destination  string          `yaml:"destination" validate:"required"`
	DiskSpaceMB  uint64          `yaml:"disk_space_mb,omitempty"`
	Features     map[string]bool `yaml:"features,omitempty"`
	Repositories []Repository    `yaml:"repositories,omitempty" validate:"omitempty,dive"`
}

// Repository is a git-hosted add-on cloned into the destination during apply.
type Repository struct {
	Name string `yaml:"name" validate:"required,profile_name"`
	URL  string `yaml:"url" validate:"required,git_url"`
	Ref  string `yaml:"ref,omitempty"`
}

// Feature reports whether the named feature flag is enabled.
func (p Profile) Feature(name string) bool {
	return p.Features[name]
}

// Clone returns a deep copy so callers cannot mutate shared configuration.
func (p Profile) Clone() Profile {
	out := p
	out.Components = append([]string(nil), p.Components...)
	out.Repositories = append([]Repository(nil), p.Repositories...)
	if p.Features != nil {
		out.Features = make(map[string]bool, len(p.Features))
		for k, v := range p.Features {
			out.Features[k] = v
		}
	}
	return out
}

// Profile looks up a profile by name and returns a copy of it.
func (c *Config) Profile(name string) (Profile, bool) {
	if c == nil {
		return Profile{}, false
	}
	for _, p := range c.Profiles {
		if p.Name == name {
			return p.Clone(), true
		}
	}
	return Profile{}, false
}

// ProfileNames lists the configured profile names in declaration order.
func (c *Config) ProfileNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		names = append(names, p.Name)
	}
	return names
}
