package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/fenceline/fenceline/internal/permission"
)

// Plugin is an immutable, cloneable handle to a compiled WASM module plus
// its static configuration and granted permissions. Multiple Plugin
// Instances may share one Plugin; the underlying wazero.CompiledModule is
// reused across every instance created from it.
type Plugin struct {
	name        string
	runtime     wazero.Runtime
	compiled    wazero.CompiledModule
	configJSON  []byte
	permissions permission.Set
	weight      float64

	hostOnce   sync.Once
	hostErr    error
	nextInstID atomic.Uint64
	instances  sync.Map // instance name -> *PluginInstance
}

// Option configures Plugin construction.
type Option func(*pluginOptions)

type pluginOptions struct {
	weight      float64
	permissions permission.Set
	config      any
	memoryPages uint32
}

func defaultPluginOptions() pluginOptions {
	return pluginOptions{weight: 1.0, memoryPages: 256}
}

// WithWeight sets the plugin's Evidence Algebra weight (default 1.0).
func WithWeight(w float64) Option {
	return func(o *pluginOptions) { o.weight = w }
}

// WithPermissions sets the plugin's granted capability set (default
// empty: no environment, HTTP, or state access).
func WithPermissions(p permission.Set) Option {
	return func(o *pluginOptions) { o.permissions = p }
}

// WithConfig sets the guest configuration value, serialized to JSON at
// construction time and exposed to the guest via get_config.
func WithConfig(cfg any) Option {
	return func(o *pluginOptions) { o.config = cfg }
}

// WithMemoryLimitPages bounds the guest's linear memory, in 64KiB pages
// (default 256 pages / 16MiB), mirroring the teacher runtime's own
// WithMemoryLimit option.
func WithMemoryLimitPages(pages uint32) Option {
	return func(o *pluginOptions) { o.memoryPages = pages }
}

func newRuntimeConfig(opts pluginOptions) wazero.RuntimeConfig {
	cfg := wazero.NewRuntimeConfig().
		WithDebugInfoEnabled(true).
		WithCoreFeatures(api.CoreFeaturesV2)
	if opts.memoryPages > 0 {
		cfg = cfg.WithMemoryLimitPages(opts.memoryPages)
	}
	return cfg
}

func buildPlugin(ctx context.Context, name string, wasmBytes []byte, opts pluginOptions) (*Plugin, error) {
	configJSON := []byte("null")
	if opts.config != nil {
		b, err := json.Marshal(opts.config)
		if err != nil {
			return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("serialize guest config: %w", err)}
		}
		configJSON = b
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, newRuntimeConfig(opts))
	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("compile module: %w", err)}
	}

	weight := opts.weight
	if weight <= 0 {
		weight = 1.0
	}

	return &Plugin{
		name:        name,
		runtime:     runtime,
		compiled:    compiled,
		configJSON:  configJSON,
		permissions: opts.permissions,
		weight:      weight,
	}, nil
}

// FromBinary compiles a Plugin from a raw WASM binary module.
func FromBinary(ctx context.Context, name string, wasmBytes []byte, opts ...Option) (*Plugin, error) {
	o := defaultPluginOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return buildPlugin(ctx, name, wasmBytes, o)
}

// FromFile compiles a Plugin from a file on disk. Files ending in ".wat"
// are compiled through the WAT toolchain first; anything else is read as
// a raw binary module.
func FromFile(ctx context.Context, name, path string, opts ...Option) (*Plugin, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("read %s: %w", path, err)}
	}
	if filepath.Ext(path) == ".wat" {
		return FromWAT(ctx, name, string(raw), opts...)
	}
	return FromBinary(ctx, name, raw, opts...)
}

// FromWAT compiles a Plugin from textual WASM (WAT) source. wazero has no
// built-in WAT front end, so this shells out to the wat2wasm binary from
// the WABT toolchain (the same tool the wazero project itself recommends
// for producing test fixtures) and compiles the resulting binary module.
func FromWAT(ctx context.Context, name, wat string, opts ...Option) (*Plugin, error) {
	dir, err := os.MkdirTemp("", "fenceline-wat-*")
	if err != nil {
		return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("create temp dir: %w", err)}
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "module.wat")
	outPath := filepath.Join(dir, "module.wasm")
	if err := os.WriteFile(inPath, []byte(wat), 0o600); err != nil {
		return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("write wat source: %w", err)}
	}

	cmd := exec.CommandContext(ctx, "wat2wasm", inPath, "--output", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("wat2wasm: %w: %s", err, out)}
	}

	wasmBytes, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &PluginLoadError{Name: name, Err: fmt.Errorf("read compiled module: %w", err)}
	}

	o := defaultPluginOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return buildPlugin(ctx, name, wasmBytes, o)
}

// Name returns the plugin's reference name.
func (p *Plugin) Name() string { return p.name }

// Weight returns the plugin's configured Evidence Algebra weight.
func (p *Plugin) Weight() float64 { return p.weight }

// Permissions returns the plugin's granted capability set.
func (p *Plugin) Permissions() permission.Set { return p.permissions }

// Close releases the plugin's wazero runtime and everything compiled
// under it. No further Plugin Instances may be created afterward.
func (p *Plugin) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}
