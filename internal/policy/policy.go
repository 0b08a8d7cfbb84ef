package policy

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/alexisbeaulieu97/stagehand/internal/config"
)

// MatchMode controls how a normalized command is compared with the allow-list.
type MatchMode string

const (
	// MatchPrefix accepts any command that starts with an allowed name ("statusx" passes as "status").
	MatchPrefix MatchMode = "prefix"
	// MatchExact accepts only commands equal to an allowed name.
	MatchExact MatchMode = "exact"
)

// Reasons reported in ValidationResult.
const (
	ReasonEmpty     = "Command cannot be empty"
	ReasonDangerous = "Command contains dangerous patterns"
	ReasonValid     = "Command is valid"
)

// ValidationResult is the outcome of validating a single command.
type ValidationResult struct {
	Accepted bool
	Reason   string
	// Operation is the allow-listed name the command matched. Empty when rejected.
	Operation string
}

// Validator decides whether operator input may be dispatched.
// It holds only immutable copies of its lists and is safe for concurrent use.
type Validator struct {
	allowed   []string // longest first
	dangerous []string
	maxLength int
	mode      MatchMode
	listing   string
}

// New builds a Validator from the policy section of the configuration.
func New(cfg config.PolicyConfig) *Validator {
	allowed := make([]string, 0, len(cfg.AllowedCommands))
	for _, name := range cfg.AllowedCommands {
		allowed = append(allowed, strings.ToLower(strings.TrimSpace(name)))
	}

	v := &Validator{
		allowed:   append([]string(nil), allowed...),
		dangerous: append([]string(nil), cfg.DangerousPatterns...),
		maxLength: cfg.MaxCommandLength,
		mode:      MatchMode(cfg.MatchMode),
		listing:   strings.Join(allowed, ", "),
	}
	if v.mode == "" {
		v.mode = MatchPrefix
	}
	sort.SliceStable(v.allowed, func(i, j int) bool {
		return len(v.allowed[i]) > len(v.allowed[j])
	})
	return v
}

// Validate checks raw operator input. It never executes or interprets the text.
func (v *Validator) Validate(raw string) ValidationResult {
	if strings.TrimSpace(raw) == "" {
		return reject(ReasonEmpty)
	}

	if v.maxLength > 0 && utf8.RuneCountInString(raw) > v.maxLength {
		return reject(fmt.Sprintf("Command too long (max %d chars)", v.maxLength))
	}

	operation, ok := v.match(Normalize(raw))
	if !ok {
		return reject("Command not allowed. Allowed commands: " + v.listing)
	}

	// applied to the raw text so casing and padding cannot hide a pattern
	for _, pattern := range v.dangerous {
		if pattern != "" && strings.Contains(raw, pattern) {
			return reject(ReasonDangerous)
		}
	}

	return ValidationResult{Accepted: true, Reason: ReasonValid, Operation: operation}
}

// Allowed reports whether name is an allow-listed operation.
func (v *Validator) Allowed(name string) bool {
	name = Normalize(name)
	for _, candidate := range v.allowed {
		if candidate == name {
			return true
		}
	}
	return false
}

// Operations lists the allow-listed operation names in configuration order.
func (v *Validator) Operations() []string {
	if v.listing == "" {
		return nil
	}
	return strings.Split(v.listing, ", ")
}

func (v *Validator) match(normalized string) (string, bool) {
	for _, candidate := range v.allowed {
		switch v.mode {
		case MatchExact:
			if normalized == candidate {
				return candidate, true
			}
		default:
			if strings.HasPrefix(normalized, candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// Normalize trims surrounding whitespace and lower-cases the command.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func reject(reason string) ValidationResult {
	return ValidationResult{Accepted: false, Reason: reason}
}
