package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mtzanidakis/sminos/internal/chain"
	"github.com/mtzanidakis/sminos/internal/llm"
	"github.com/mtzanidakis/sminos/internal/market"
)

// Factory constructs a plugin instance from its descriptor. Factories are
// registered explicitly; there is no reflection-based scanning.
type Factory func(deps Deps, cfg Config) (Plugin, error)

// SecretResolver resolves a named secret to its plaintext value. Custom
// settings of the form "secret:<name>" are resolved through it at load time.
type SecretResolver func(name string) (string, error)

// Deps are the shared collaborators handed to plugin factories. The loader
// never inspects what a plugin does with them.
type Deps struct {
	LLM     llm.Client
	Market  market.Source
	Chain   chain.Client
	Secrets SecretResolver
}

// Instance is a live plugin together with its immutable descriptor.
type Instance struct {
	Plugin
	Config Config
}

// Loader discovers plugin implementations across registered factories and
// manifest directories, and manages a name-keyed registry of live
// instances. At most one instance is alive per name.
type Loader struct {
	mu        sync.Mutex
	deps      Deps
	dirs      []string
	factories map[string]Factory
	loaded    map[string]*Instance
}

func NewLoader(deps Deps, dirs []string) *Loader {
	return &Loader{
		deps:      deps,
		dirs:      dirs,
		factories: make(map[string]Factory),
		loaded:    make(map[string]*Instance),
	}
}

// Register adds a factory under a name. Later registrations replace
// earlier ones.
func (l *Loader) Register(name string, f Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.factories[name] = f
}

// Load resolves, constructs and initializes the named plugin. Get-or-create
// semantics: if the name already has a live instance it is returned
// unchanged and Initialize does not run again. When override is nil the
// descriptor is read from disk, defaulting to DefaultConfig(name).
func (l *Loader) Load(ctx context.Context, name string, override *Config) (*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadLocked(ctx, name, override)
}

func (l *Loader) loadLocked(ctx context.Context, name string, override *Config) (*Instance, error) {
	if inst, ok := l.loaded[name]; ok {
		return inst, nil
	}

	cfg, err := l.resolveConfig(name, override)
	if err != nil {
		return nil, err
	}

	factory, err := l.resolveFactory(name, cfg)
	if err != nil {
		return nil, err
	}

	if err := l.resolveSecrets(name, &cfg); err != nil {
		return nil, err
	}

	p, err := factory(l.deps, cfg)
	if err != nil {
		return nil, fmt.Errorf("construct plugin %s: %w", name, err)
	}

	if err := p.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize plugin %s: %w", name, err)
	}

	inst := &Instance{Plugin: p, Config: cfg}
	l.loaded[name] = inst
	slog.Info("plugin loaded", "name", name, "role", cfg.Role)
	return inst, nil
}

// resolveFactory scans the ordered candidate locations and takes the first
// match: exact factory name, then manifest-backed names, then the
// "<name>-agent" suffix convention.
func (l *Loader) resolveFactory(name string, cfg Config) (Factory, error) {
	if f, ok := l.factories[name]; ok {
		return f, nil
	}
	if l.manifestExists(name) {
		// A manifest names this plugin but nothing registered serves it.
		if f, ok := l.factories[cfg.Role]; ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoPluginFactory, name)
	}
	if f, ok := l.factories[name+"-agent"]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

func (l *Loader) resolveConfig(name string, override *Config) (Config, error) {
	if override != nil {
		cfg := *override
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Role == "" {
			cfg.Role = cfg.Name
		}
		return cfg, nil
	}

	for _, dir := range l.dirs {
		path := filepath.Join(dir, name, "agent.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, &ConfigError{Name: name, Err: err}
		}

		cfg := DefaultConfig(name)
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, &ConfigError{Name: name, Err: err}
		}
		if cfg.Name == "" {
			cfg.Name = name
		}
		if cfg.Role == "" {
			cfg.Role = cfg.Name
		}
		return cfg, nil
	}

	return DefaultConfig(name), nil
}

func (l *Loader) manifestExists(name string) bool {
	for _, dir := range l.dirs {
		if _, err := os.Stat(filepath.Join(dir, name, "agent.yaml")); err == nil {
			return true
		}
	}
	return false
}

// resolveSecrets rewrites "secret:<name>" custom settings into their
// plaintext values. A missing secret fails the load: a plugin running with
// a dangling credential reference would only fail later and less clearly.
func (l *Loader) resolveSecrets(name string, cfg *Config) error {
	if l.deps.Secrets == nil {
		return nil
	}
	for key, value := range cfg.CustomSettings {
		ref, ok := value.(string)
		if !ok || !strings.HasPrefix(ref, "secret:") {
			continue
		}
		plaintext, err := l.deps.Secrets(strings.TrimPrefix(ref, "secret:"))
		if err != nil {
			return fmt.Errorf("plugin %s: resolve secret for %s: %w", name, key, err)
		}
		cfg.CustomSettings[key] = plaintext
	}
	return nil
}

// LoadAll discovers every plugin name across all search locations and loads
// each. Discovered names are deduplicated into a set, so no ordering is
// implied between plugins. A failure loading one plugin is logged and
// skipped.
func (l *Loader) LoadAll(ctx context.Context) []*Instance {
	l.mu.Lock()
	defer l.mu.Unlock()

	names := make(map[string]struct{})
	for name := range l.factories {
		names[strings.TrimSuffix(name, "-agent")] = struct{}{}
	}
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(dir, e.Name(), "agent.yaml")); err == nil {
				names[e.Name()] = struct{}{}
			}
		}
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	instances := make([]*Instance, 0, len(ordered))
	for _, name := range ordered {
		inst, err := l.loadLocked(ctx, name, nil)
		if err != nil {
			slog.Warn("skipping plugin", "name", name, "error", err)
			continue
		}
		instances = append(instances, inst)
	}
	return instances
}

// Unload cleans up and removes the named plugin. No-op if absent.
func (l *Loader) Unload(ctx context.Context, name string) error {
	l.mu.Lock()
	inst, ok := l.loaded[name]
	if ok {
		delete(l.loaded, name)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}
	if err := inst.Cleanup(ctx); err != nil {
		return fmt.Errorf("cleanup plugin %s: %w", name, err)
	}
	slog.Info("plugin unloaded", "name", name)
	return nil
}

// Get returns a loaded plugin by name.
func (l *Loader) Get(name string) (*Instance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inst, ok := l.loaded[name]
	return inst, ok
}

// List returns the loaded plugins sorted by name.
func (l *Loader) List() []*Instance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Instance, 0, len(l.loaded))
	for _, inst := range l.loaded {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Name < out[j].Config.Name })
	return out
}

// Cleanup unloads every registered plugin, continuing past individual
// failures.
func (l *Loader) Cleanup(ctx context.Context) {
	l.mu.Lock()
	names := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		names = append(names, name)
	}
	l.mu.Unlock()

	for _, name := range names {
		if err := l.Unload(ctx, name); err != nil {
			slog.Warn("plugin cleanup failed", "name", name, "error", err)
		}
	}
}
