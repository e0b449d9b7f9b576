package plm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"golang.org/x/mod/semver"
)

// ValidationFailure describes one plugin that failed validation and why.
type ValidationFailure struct {
	// Name is the plugin's registry key.
	Name string `json:"name"`

	// Reason is a human-readable description of the failure.
	Reason string `json:"reason"`
}

// ValidationSummary aggregates the outcome of validating every registry entry.
type ValidationSummary struct {
	// ValidPlugins is the number of entries that passed all checks.
	ValidPlugins int `json:"valid_plugins"`

	// InvalidPlugins is the number of entries with at least one failure.
	InvalidPlugins int `json:"invalid_plugins"`

	// Failures lists each failing plugin with its first failure reason.
	Failures []ValidationFailure `json:"failures,omitempty"`
}

// TotalPlugins returns the number of entries examined.
func (s ValidationSummary) TotalPlugins() int {
	return s.ValidPlugins + s.InvalidPlugins
}

// AllValid reports whether every examined entry passed validation.
func (s ValidationSummary) AllValid() bool {
	return s.InvalidPlugins == 0
}

// Rule is a compiled validation rule evaluated against each registry entry.
//
// Rules are written as CEL expressions over the variables:
//
//	name    string          the plugin's registry key
//	version string          the plugin's declared version
//	state   string          the entry's lifecycle state name
//	enabled bool            whether the plugin's config enables it
//	config  map(string,dyn) the plugin's config settings, empty if none
//
// The expression must evaluate to a bool; false marks the plugin invalid.
type Rule struct {
	name string
	expr string
	prg  cel.Program
}

// Name returns the rule's identifier, used in failure reasons.
func (r Rule) Name() string { return r.name }

var (
	ruleEnvOnce sync.Once
	ruleEnv     *cel.Env
	ruleEnvErr  error
)

func validationEnv() (*cel.Env, error) {
	ruleEnvOnce.Do(func() {
		ruleEnv, ruleEnvErr = cel.NewEnv(
			cel.Variable("name", cel.StringType),
			cel.Variable("version", cel.StringType),
			cel.Variable("state", cel.StringType),
			cel.Variable("enabled", cel.BoolType),
			cel.Variable("config", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return ruleEnv, ruleEnvErr
}

// CompileRule compiles a CEL expression into a validation rule.
func CompileRule(name, expr string) (Rule, error) {
	if name == "" {
		return Rule{}, fmt.Errorf("rule name cannot be empty")
	}

	env, err := validationEnv()
	if err != nil {
		return Rule{}, fmt.Errorf("failed to build rule environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Rule{}, fmt.Errorf("rule %s: expression must evaluate to bool, got %s", name, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", name, err)
	}

	return Rule{name: name, expr: expr, prg: prg}, nil
}

// MustCompileRule is CompileRule that panics on error, for rule tables
// declared at package init.
func MustCompileRule(name, expr string) Rule {
	r, err := CompileRule(name, expr)
	if err != nil {
		panic(err)
	}
	return r
}

// validator checks registry entries for internal consistency and evaluates
// custom rules. Validation is a pure read: it never mutates entries and
// reports all problems instead of stopping at the first.
type validator struct {
	registry *Registry
	logger   *slog.Logger
	rules    []Rule
}

func newValidator(registry *Registry, logger *slog.Logger, rules []Rule) *validator {
	return &validator{registry: registry, logger: logger, rules: rules}
}

// ValidateAll examines every registry entry, including retired ones, and
// returns a summary. Each failing plugin contributes one failure carrying
// its first problem.
func (v *validator) ValidateAll(ctx context.Context) ValidationSummary {
	v.registry.mu.RLock()
	snapshot := make([]*entry, 0, len(v.registry.order))
	for _, name := range v.registry.order {
		snapshot = append(snapshot, v.registry.entries[name])
	}
	v.registry.mu.RUnlock()

	var summary ValidationSummary
	for _, e := range snapshot {
		if reason := v.validateEntry(ctx, e); reason != "" {
			summary.InvalidPlugins++
			summary.Failures = append(summary.Failures, ValidationFailure{Name: e.name, Reason: reason})
			v.logger.Warn("plugin failed validation",
				slog.String("name", e.name),
				slog.String("reason", reason),
			)
		} else {
			summary.ValidPlugins++
		}
	}
	return summary
}

// validateEntry returns an empty string when the entry is valid, otherwise
// the first failure reason found.
func (v *validator) validateEntry(ctx context.Context, e *entry) string {
	md := e.plugin.Metadata()

	if md.Name != e.name {
		return fmt.Sprintf("metadata name %q does not match registry key %q", md.Name, e.name)
	}
	if md.Version == "" {
		return "metadata declares no version"
	}
	canonical := md.Version
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}
	if !semver.IsValid(canonical) {
		return fmt.Sprintf("metadata version %q is not valid semver", md.Version)
	}

	state := e.currentState()
	if !state.Valid() {
		return fmt.Sprintf("undefined lifecycle state %d", int(state))
	}

	cfg := e.pluginConfig()
	if cfg != nil && cfg.Name != e.name {
		return fmt.Sprintf("config name %q does not match registry key %q", cfg.Name, e.name)
	}

	enabled := true
	settings := map[string]any{}
	if cfg != nil {
		enabled = cfg.Enabled
		if cfg.Config != nil {
			settings = cfg.Config
		}
	}

	for _, rule := range v.rules {
		out, _, err := rule.prg.ContextEval(ctx, map[string]any{
			"name":    e.name,
			"version": md.Version,
			"state":   state.String(),
			"enabled": enabled,
			"config":  settings,
		})
		if err != nil {
			return fmt.Sprintf("rule %s: %v", rule.name, err)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return fmt.Sprintf("rule %s: expression did not yield bool", rule.name)
		}
		if !ok {
			return fmt.Sprintf("rule %s failed", rule.name)
		}
	}

	return ""
}
