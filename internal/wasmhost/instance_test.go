package wasmhost

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/decision"
	"github.com/fenceline/fenceline/internal/permission"
)

// blankSlateWAT exports only the mandatory _start entry point and no
// optional phase handlers, matching spec scenario 1 ("blank slate").
const blankSlateWAT = `
(module
  (memory (export "memory") 1)
  (func (export "gk_malloc") (param i32) (result i32) (i32.const 0))
  (func (export "gk_free") (param i32))
  (func (export "_start"))
)
`

// setDecisionWAT calls host_call("set_decision", ...) from _start with a
// decision literal baked into a data segment, exercising the full guest
// -> host_call -> dispatch -> RequestContext round trip through wazero.
const setDecisionWAT = `
(module
  (import "gk" "host_call" (func $host_call (param i32 i32 i32 i32) (result i64)))
  (memory (export "memory") 1)
  (data (i32.const 32) "set_decision")
  (data (i32.const 48) "{\"accept\":0,\"restrict\":1,\"unknown\":0}")
  (func (export "gk_malloc") (param i32) (result i32) (i32.const 1024))
  (func (export "gk_free") (param i32))
  (func (export "_start")
    (call $host_call (i32.const 32) (i32.const 12) (i32.const 48) (i32.const 37))
    drop)
)
`

// permissionDeniedWAT calls host_call("get_env_bytes", ...) for a key
// outside the plugin's env permission set, which must abort the guest
// invocation with PermissionDenied and poison the instance.
const permissionDeniedWAT = `
(module
  (import "gk" "host_call" (func $host_call (param i32 i32 i32 i32) (result i64)))
  (memory (export "memory") 1)
  (data (i32.const 32) "get_env_bytes")
  (data (i32.const 48) "{\"key\":\"SECRET\"}")
  (func (export "gk_malloc") (param i32) (result i32) (i32.const 1024))
  (func (export "gk_free") (param i32))
  (func (export "_start")
    (call $host_call (i32.const 32) (i32.const 13) (i32.const 48) (i32.const 16))
    drop)
)
`

func newTestInstance(t *testing.T, wat string, perms permission.Set) (*PluginInstance, *RequestContext) {
	t.Helper()
	ctx := context.Background()
	p, err := FromWAT(ctx, "fixture", wat, WithPermissions(perms))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close(ctx) })

	rc := NewRequestContext(p, RequestInterface{Method: "GET", URI: "/"}, nil, nil, nil, nil, nil)
	inst, err := NewPluginInstance(ctx, p, rc)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close(ctx) })
	return inst, rc
}

func TestInstanceBlankSlateLeavesDecisionUnset(t *testing.T) {
	inst, rc := newTestInstance(t, blankSlateWAT, permission.Set{})

	require.NoError(t, inst.Start(context.Background()))
	assert.False(t, inst.HasRequestHandler())
	assert.False(t, inst.HasRequestDecisionHandler())
	assert.False(t, inst.HasResponseDecisionHandler())
	assert.False(t, inst.HasDecisionFeedbackHandler())

	d, tags := rc.Decision()
	assert.Equal(t, decision.Unset, d)
	assert.Empty(t, tags)

	poisoned, _ := inst.Poisoned()
	assert.False(t, poisoned)
}

func TestInstanceSetDecisionRoundTrip(t *testing.T) {
	inst, rc := newTestInstance(t, setDecisionWAT, permission.Set{})

	require.NoError(t, inst.Start(context.Background()))

	d, _ := rc.Decision()
	assert.Equal(t, 0.0, d.Accept)
	assert.Equal(t, 1.0, d.Restrict)
	assert.Equal(t, 0.0, d.Unknown)
}

func TestInstancePermissionDeniedPoisonsInstance(t *testing.T) {
	inst, _ := newTestInstance(t, permissionDeniedWAT, permission.Set{})

	err := inst.Start(context.Background())
	require.Error(t, err)

	var denied *PermissionDenied
	require.True(t, errors.As(err, &denied), "expected PermissionDenied in the error chain, got %v", err)
	assert.Equal(t, "env", denied.Scope)
	assert.Equal(t, "SECRET", denied.Key)

	poisoned, poisonErr := inst.Poisoned()
	assert.True(t, poisoned)
	assert.Error(t, poisonErr)

	// A poisoned instance must not be advanced further.
	advanceErr := inst.OnRequest(context.Background())
	require.Error(t, advanceErr)
}
