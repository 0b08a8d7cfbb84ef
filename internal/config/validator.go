package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	stagehanderrors "github.com/alexisbeaulieu97/stagehand/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	semverPattern      = regexp.MustCompile(`^\d+\.\d+(?:\.\d+)?(?:-[0-9A-Za-z-.]+)?(?:\+[0-9A-Za-z-.]+)?$`)
	opNamePattern      = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	profileNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
	metricNamePattern  = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	sshGitPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+:[a-zA-Z0-9._/~-]+$`)

	// digest lengths in hex characters
	checksumAlgorithms = map[string]int{"sha256": 64, "sha512": 128, "blake2b-256": 64}
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return semverPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("op_name", func(fl validator.FieldLevel) bool {
			return opNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("profile_name", func(fl validator.FieldLevel) bool {
			return profileNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("metric_name", func(fl validator.FieldLevel) bool {
			return metricNamePattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("checksum", func(fl validator.FieldLevel) bool {
			return ValidChecksum(fl.Field().String())
		})

		_ = v.RegisterValidation("git_url", func(fl validator.FieldLevel) bool {
			raw := strings.TrimSpace(fl.Field().String())
			if raw == "" {
				return false
			}
			if parsed, err := url.Parse(raw); err == nil {
				switch strings.ToLower(parsed.Scheme) {
				case "http", "https", "ssh", "git":
					return parsed.Host != ""
				case "file":
					return parsed.Path != ""
				}
			}
			if sshGitPattern.MatchString(raw) {
				return true
			}
			return strings.HasPrefix(raw, "/")
		})

		validateInst = v
	})

	return validateInst
}

// ValidChecksum reports whether value has the form "<algo>:<hex>" or is a bare sha256 hex digest.
func ValidChecksum(value string) bool {
	algo, digest, found := strings.Cut(value, ":")
	if !found {
		algo, digest = "sha256", value
	}
	size, ok := checksumAlgorithms[strings.ToLower(algo)]
	if !ok || len(digest) != size {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// ValidateConfig performs schema and cross-field validation on the configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return stagehanderrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	allowed := make(map[string]struct{}, len(cfg.Policy.AllowedCommands))
	for i, name := range cfg.Policy.AllowedCommands {
		if _, exists := allowed[name]; exists {
			return stagehanderrors.NewValidationError(fmt.Sprintf("policy.allowed_commands[%d]", i), fmt.Sprintf("duplicate command %q", name), nil)
		}
		allowed[name] = struct{}{}
	}

	profiles := make(map[string]struct{}, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		if _, exists := profiles[p.Name]; exists {
			return stagehanderrors.NewValidationError(fieldForProfile(i, "name"), fmt.Sprintf("duplicate profile %q", p.Name), nil)
		}
		profiles[p.Name] = struct{}{}

		repos := make(map[string]struct{}, len(p.Repositories))
		for j, repo := range p.Repositories {
			if _, exists := repos[repo.Name]; exists {
				return stagehanderrors.NewValidationError(fieldForProfile(i, fmt.Sprintf("repositories[%d].name", j)), fmt.Sprintf("duplicate repository %q", repo.Name), nil)
			}
			repos[repo.Name] = struct{}{}
		}
	}

	return nil
}

func convertValidationError(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return stagehanderrors.NewValidationError(field, msg, err)
	}

	return stagehanderrors.NewValidationError("config", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	lowered := make([]string, 0, len(parts))
	for _, part := range parts {
		lowered = append(lowered, toSnake(part))
	}
	return strings.Join(lowered, ".")
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && isLowerOrDigit(name[i-1]) {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isLowerOrDigit(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func fieldForProfile(index int, field string) string {
	return fmt.Sprintf("profiles[%d].%s", index, field)
}
