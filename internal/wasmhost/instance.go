package wasmhost

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// phase identifies where a Plugin Instance sits in its lifecycle state
// machine (§4.9).
type phase int

const (
	phaseCreated phase = iota
	phaseStarted
	phaseRequested
	phaseRequestDecided
	phaseResponseDecided
	phaseFinalized
)

func (p phase) String() string {
	switch p {
	case phaseCreated:
		return "created"
	case phaseStarted:
		return "started"
	case phaseRequested:
		return "requested"
	case phaseRequestDecided:
		return "request_decided"
	case phaseResponseDecided:
		return "response_decided"
	case phaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// PluginInstance is one live WASM sandbox bound to one Request Context.
// It exposes the phase entry points named in §4.9 and is poisoned on the
// first guest-invocation failure; a poisoned instance must not be
// advanced further.
type PluginInstance struct {
	plugin *Plugin
	rc     *RequestContext
	module api.Module

	gkMalloc api.Function
	gkFree   api.Function

	startFn                 api.Function
	onRequestFn             api.Function
	onRequestDecisionFn     api.Function
	onResponseDecisionFn    api.Function
	onDecisionFeedbackFn    api.Function

	phase     phase
	poisoned  bool
	poisonErr error
}

// NewPluginInstance instantiates a fresh WASM sandbox from plugin,
// bound to rc. The guest's imports are resolved against plugin's shared
// "gk" host module, instantiated lazily on first use.
func NewPluginInstance(ctx context.Context, plugin *Plugin, rc *RequestContext) (*PluginInstance, error) {
	if err := plugin.ensureHostModule(ctx); err != nil {
		return nil, &PluginInstantiationError{Name: plugin.name, Err: err}
	}

	instName := fmt.Sprintf("%s-%d", plugin.name, plugin.nextInstID.Add(1))
	cfg := wazero.NewModuleConfig().
		WithName(instName).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithArgs(plugin.name).
		WithStartFunctions() // disable auto-run of _start; start() drives it explicitly

	module, err := plugin.runtime.InstantiateModule(ctx, plugin.compiled, cfg)
	if err != nil {
		return nil, &PluginInstantiationError{Name: plugin.name, Err: fmt.Errorf("instantiate guest module: %w", err)}
	}

	gkMalloc := module.ExportedFunction("gk_malloc")
	gkFree := module.ExportedFunction("gk_free")
	startFn := module.ExportedFunction("_start")
	if gkMalloc == nil || gkFree == nil || startFn == nil {
		module.Close(ctx)
		return nil, &PluginInstantiationError{
			Name: plugin.name,
			Err:  fmt.Errorf("guest module must export gk_malloc, gk_free, and _start"),
		}
	}

	inst := &PluginInstance{
		plugin:               plugin,
		rc:                   rc,
		module:                module,
		gkMalloc:             gkMalloc,
		gkFree:               gkFree,
		startFn:              startFn,
		onRequestFn:          module.ExportedFunction("on_request"),
		onRequestDecisionFn:  module.ExportedFunction("on_request_decision"),
		onResponseDecisionFn: module.ExportedFunction("on_response_decision"),
		onDecisionFeedbackFn: module.ExportedFunction("on_decision_feedback"),
		phase:                phaseCreated,
	}
	plugin.instances.Store(instName, inst)
	return inst, nil
}

// ensureHostModule instantiates the "gk" host module exactly once per
// Plugin, binding host_call and log the way the teacher's wazero runtime
// binds its own single "gk" namespace.
func (p *Plugin) ensureHostModule(ctx context.Context) error {
	p.hostOnce.Do(func() {
		_, err := p.runtime.NewHostModuleBuilder("gk").
			NewFunctionBuilder().WithFunc(p.hostCall).Export("host_call").
			NewFunctionBuilder().WithFunc(p.hostLog).Export("log").
			Instantiate(ctx)
		p.hostErr = err
	})
	return p.hostErr
}

// hostCall is the guest-imported host_call function. wazero binds mod to
// the calling guest instance, so memory reads/writes and gk_malloc/
// gk_free calls below operate on that instance's own linear memory.
func (p *Plugin) hostCall(ctx context.Context, mod api.Module, fnPtr, fnLen, argsPtr, argsLen uint32) uint64 {
	inst := p.lookupInstance(mod.Name())
	if inst == nil {
		return 0
	}

	fnName := readString(mod, fnPtr, fnLen)
	argsJSON := readBytes(mod, argsPtr, argsLen)

	result, err := dispatch(ctx, inst.rc, fnName, argsJSON)
	if err != nil {
		inst.poison(fnName, err)
		panic(hostAbort{err})
	}
	if len(result) == 0 {
		return 0
	}

	ptr, length, werr := inst.writeToGuest(ctx, result)
	if werr != nil {
		inst.poison(fnName, werr)
		panic(hostAbort{werr})
	}
	return (uint64(ptr) << 32) | uint64(length)
}

// hostLog is the guest-imported log function; level follows the
// teacher's 0=debug/1=info/2=warn/3=error convention.
func (p *Plugin) hostLog(ctx context.Context, mod api.Module, level uint32, msgPtr, msgLen uint32) {
	inst := p.lookupInstance(mod.Name())
	if inst == nil {
		return
	}
	msg := readString(mod, msgPtr, msgLen)
	switch level {
	case 0:
		inst.rc.logger.Debug(msg, "plugin", p.name)
	case 2:
		inst.rc.logger.Warn(msg, "plugin", p.name)
	case 3:
		inst.rc.logger.Error(msg, "plugin", p.name)
	default:
		inst.rc.logger.Info(msg, "plugin", p.name)
	}
}

func (p *Plugin) lookupInstance(name string) *PluginInstance {
	v, ok := p.instances.Load(name)
	if !ok {
		return nil
	}
	return v.(*PluginInstance)
}

// hostAbort is the value a host function panics with to abort the guest
// invocation. wazero recovers the panic and wraps it, as an error, into
// the error fn.Call returns; Unwrap lets run's caller reach the typed
// error dispatch produced with errors.As instead of reconstructing it
// from a string.
type hostAbort struct {
	err error
}

func (a hostAbort) Error() string { return a.err.Error() }

func (a hostAbort) Unwrap() error { return a.err }

// HasRequestHandler reports whether the guest exports on_request.
func (pi *PluginInstance) HasRequestHandler() bool { return pi.onRequestFn != nil }

// HasRequestDecisionHandler reports whether the guest exports
// on_request_decision.
func (pi *PluginInstance) HasRequestDecisionHandler() bool { return pi.onRequestDecisionFn != nil }

// HasResponseDecisionHandler reports whether the guest exports
// on_response_decision.
func (pi *PluginInstance) HasResponseDecisionHandler() bool { return pi.onResponseDecisionFn != nil }

// HasDecisionFeedbackHandler reports whether the guest exports
// on_decision_feedback.
func (pi *PluginInstance) HasDecisionFeedbackHandler() bool { return pi.onDecisionFeedbackFn != nil }

// Poisoned reports whether a prior guest invocation failed; a poisoned
// instance must not be advanced further.
func (pi *PluginInstance) Poisoned() (bool, error) { return pi.poisoned, pi.poisonErr }

// Weight returns the backing plugin's configured Evidence Algebra weight.
func (pi *PluginInstance) Weight() float64 { return pi.plugin.Weight() }

// Decision snapshots the Request Context's current accumulators and tags.
func (pi *PluginInstance) Decision() (d struct {
	Accept, Restrict, Unknown float64
}, tags []string) {
	dec, t := pi.rc.Decision()
	return struct{ Accept, Restrict, Unknown float64 }{dec.Accept, dec.Restrict, dec.Unknown}, t
}

// Start invokes the mandatory _start entry point, transitioning
// [Created] -> [Started]. It is always invoked exactly once.
func (pi *PluginInstance) Start(ctx context.Context) error {
	return pi.run(ctx, phaseStarted, "start", pi.startFn)
}

// OnRequest invokes on_request if the guest exports it, transitioning
// [Started] -> [Requested] either way.
func (pi *PluginInstance) OnRequest(ctx context.Context) error {
	return pi.run(ctx, phaseRequested, "on_request", pi.onRequestFn)
}

// OnRequestDecision invokes on_request_decision if the guest exports it,
// transitioning [Requested] -> [RequestDecided] either way.
func (pi *PluginInstance) OnRequestDecision(ctx context.Context) error {
	return pi.run(ctx, phaseRequestDecided, "on_request_decision", pi.onRequestDecisionFn)
}

// OnResponseDecision invokes on_response_decision if the guest exports
// it, transitioning [RequestDecided] -> [ResponseDecided] either way. The
// Host-Mutable Context's Response slot must be set before this is called.
func (pi *PluginInstance) OnResponseDecision(ctx context.Context) error {
	return pi.run(ctx, phaseResponseDecided, "on_response_decision", pi.onResponseDecisionFn)
}

// OnDecisionFeedback invokes on_decision_feedback if the guest exports
// it, transitioning [ResponseDecided] -> [Finalized] either way. The
// Host-Mutable Context's combined decision/tags/outcome slots must be set
// before this is called.
func (pi *PluginInstance) OnDecisionFeedback(ctx context.Context) error {
	return pi.run(ctx, phaseFinalized, "on_decision_feedback", pi.onDecisionFeedbackFn)
}

func (pi *PluginInstance) run(ctx context.Context, next phase, name string, fn api.Function) (err error) {
	if pi.poisoned {
		return &PluginExecutionError{Phase: name, Err: fmt.Errorf("instance is poisoned: %w", pi.poisonErr)}
	}
	if fn == nil {
		// Optional phase with no guest export: a no-op transition.
		pi.phase = next
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			if abort, ok := r.(hostAbort); ok {
				err = &PluginExecutionError{Phase: name, Err: abort.err}
				return
			}
			err = &PluginExecutionError{Phase: name, Err: fmt.Errorf("guest trap: %v", r)}
			pi.poison(name, err)
		}
	}()

	if _, callErr := fn.Call(ctx); callErr != nil {
		execErr := &PluginExecutionError{Phase: name, Err: callErr}
		pi.poison(name, execErr)
		return execErr
	}
	pi.phase = next
	return nil
}

func (pi *PluginInstance) poison(phaseName string, err error) {
	pi.poisoned = true
	pi.poisonErr = err
	pi.rc.logger.Error("plugin execution poisoned", "plugin", pi.plugin.name, "phase", phaseName, "err", err)
}

// Close releases the guest module instance. It does not close the
// shared Plugin or its runtime.
func (pi *PluginInstance) Close(ctx context.Context) error {
	pi.plugin.instances.Delete(pi.module.Name())
	return pi.module.Close(ctx)
}

// writeToGuest allocates length(data) bytes in the guest's own memory via
// its exported gk_malloc and copies data into it, returning the pointer
// and length for packing into host_call's return value.
func (pi *PluginInstance) writeToGuest(ctx context.Context, data []byte) (uint32, uint32, error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	results, err := pi.gkMalloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, 0, fmt.Errorf("gk_malloc: %w", err)
	}
	ptr := uint32(results[0])
	if !pi.module.Memory().Write(ptr, data) {
		return 0, 0, fmt.Errorf("write guest memory: out of bounds at %d, len %d", ptr, len(data))
	}
	return ptr, uint32(len(data)), nil
}

// readString reads a UTF-8 string out of mod's linear memory.
func readString(mod api.Module, ptr, length uint32) string {
	return string(readBytes(mod, ptr, length))
}

// readBytes reads length bytes out of mod's linear memory at ptr. An
// out-of-bounds read or a zero length/ptr yields an empty slice rather
// than a panic, matching the teacher runtime's defensive memory helpers.
func readBytes(mod api.Module, ptr, length uint32) []byte {
	if ptr == 0 || length == 0 {
		return nil
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
