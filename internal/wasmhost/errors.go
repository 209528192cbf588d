package wasmhost

import "fmt"

// PluginLoadError reports a failure compiling a Plugin from WAT, binary,
// or file source, or serializing its guest configuration.
type PluginLoadError struct {
	Name string
	Err  error
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("plugin %q: load: %v", e.Name, e.Err)
}

func (e *PluginLoadError) Unwrap() error { return e.Err }

// PluginInstantiationError reports a failure resolving imports or
// constructing the wazero runtime/linker for a Plugin Instance.
type PluginInstantiationError struct {
	Name string
	Err  error
}

func (e *PluginInstantiationError) Error() string {
	return fmt.Sprintf("plugin %q: instantiate: %v", e.Name, e.Err)
}

func (e *PluginInstantiationError) Unwrap() error { return e.Err }

// ContextInstantiationError reports a failure constructing the sandbox
// environment for a Request Context.
type ContextInstantiationError struct {
	Err error
}

func (e *ContextInstantiationError) Error() string {
	return fmt.Sprintf("request context: %v", e.Err)
}

func (e *ContextInstantiationError) Unwrap() error { return e.Err }

// PluginExecutionError reports a guest trap, fuel exhaustion, a missing
// handler that was explicitly invoked, or a host-call-initiated abort
// (including a permission denial). The instance that produced it is
// poisoned and must not be advanced further.
type PluginExecutionError struct {
	Phase string
	Err   error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("plugin execution failed at phase %q: %v", e.Phase, e.Err)
}

func (e *PluginExecutionError) Unwrap() error { return e.Err }

// PermissionDenied reports a Host ABI call outside its permission set.
// Scope is one of "env", "http", "state".
type PermissionDenied struct {
	Scope string
	Key   string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("permission denied: %s access to %q", e.Scope, e.Key)
}

// RemoteStoreError reports a connection, timeout, or script failure from
// the Remote Store Gateway.
type RemoteStoreError struct {
	Err error
}

func (e *RemoteStoreError) Error() string {
	return fmt.Sprintf("remote store: %v", e.Err)
}

func (e *RemoteStoreError) Unwrap() error { return e.Err }

// OutboundHTTPError reports a malformed URL, unsupported method, or
// network failure from the Outbound HTTP Gateway.
type OutboundHTTPError struct {
	Err error
}

func (e *OutboundHTTPError) Error() string {
	return fmt.Sprintf("outbound http: %v", e.Err)
}

func (e *OutboundHTTPError) Unwrap() error { return e.Err }

// HostStateError reports a read of an unset Host-Mutable Context slot.
type HostStateError struct {
	Slot string
}

func (e *HostStateError) Error() string {
	return fmt.Sprintf("host state: %q is not set for the current phase", e.Slot)
}
