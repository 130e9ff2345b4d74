package plugin

import (
	"context"
	"errors"
	"fmt"
)

// Plugin is the capability contract every swarm participant implements.
// Evaluate is the sole business-logic hook: given arbitrary structured
// context it returns at minimum decision, confidence and reasoning keys.
// Recoverable evaluator failures must be reported as confidence 0 with the
// error embedded in reasoning, never as a returned error.
type Plugin interface {
	Initialize(ctx context.Context) error
	Evaluate(ctx context.Context, evalCtx map[string]any) (map[string]any, error)
	Execute(ctx context.Context, operation string, args map[string]any) (any, error)
	Cleanup(ctx context.Context) error
}

var (
	// ErrNotInitialized is returned by Evaluate before Initialize has run.
	ErrNotInitialized = errors.New("plugin not initialized")
	// ErrUnsupportedOperation is returned by Execute for unknown operation names.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrPluginNotFound means no search location yielded an implementation.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrNoPluginFactory means a manifest matched but no registered factory conforms.
	ErrNoPluginFactory = errors.New("no plugin factory for manifest")
)

// ConfigError reports a malformed on-disk descriptor. It is fatal to that
// one plugin's load only.
type ConfigError struct {
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("plugin %s: invalid descriptor: %v", e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is the plugin descriptor, created at load time and immutable
// thereafter.
type Config struct {
	Name           string         `yaml:"name"`
	Role           string         `yaml:"role"`
	Capabilities   []string       `yaml:"capabilities"`
	SystemPrompt   string         `yaml:"system_prompt"`
	CustomSettings map[string]any `yaml:"custom_settings"`
}

// DefaultConfig is the descriptor used when no agent.yaml exists for a
// plugin: role falls back to the plugin name.
func DefaultConfig(name string) Config {
	return Config{
		Name:           name,
		Role:           name,
		Capabilities:   []string{},
		CustomSettings: map[string]any{},
	}
}

// Setting returns a custom setting with a fallback default.
func (c Config) Setting(key string, def any) any {
	if c.CustomSettings == nil {
		return def
	}
	if v, ok := c.CustomSettings[key]; ok {
		return v
	}
	return def
}

// SettingFloat reads a numeric custom setting, tolerating the types yaml
// decoding produces.
func (c Config) SettingFloat(key string, def float64) float64 {
	switch v := c.Setting(key, def).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}
