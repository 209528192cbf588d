package wasmhost

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenceline/fenceline/internal/decision"
	"github.com/fenceline/fenceline/internal/outbound"
	"github.com/fenceline/fenceline/internal/permission"
)

type fakeDoer struct {
	resp *http.Response
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) { return f.resp, nil }

func TestDispatchGetConfig(t *testing.T) {
	rc := NewRequestContext(testPlugin(permission.Set{}), RequestInterface{}, nil, nil, nil, nil, nil)
	out, err := dispatch(context.Background(), rc, "get_config", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"threshold":1}`, string(out))
}

func TestDispatchParamValueRoundTrip(t *testing.T) {
	rc := NewRequestContext(testPlugin(permission.Set{}), RequestInterface{}, nil, nil, nil, nil, nil)

	missing, err := dispatch(context.Background(), rc, "get_param_value", []byte(`{"key":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(missing))

	_, err = dispatch(context.Background(), rc, "set_param_value", []byte(`{"key":"x","value":"hello"}`))
	require.NoError(t, err)

	out, err := dispatch(context.Background(), rc, "get_param_value", []byte(`{"key":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, string(out))
}

func TestDispatchEnvPermission(t *testing.T) {
	perms := permission.Set{Env: []string{"ALLOWED"}}
	rc := NewRequestContext(testPlugin(perms), RequestInterface{}, nil, nil, nil, nil, nil)
	rc.WithEnvLookup(func(name string) (string, bool) {
		if name == "ALLOWED" {
			return "secret-value", true
		}
		return "", false
	})

	out, err := dispatch(context.Background(), rc, "get_env_bytes", []byte(`{"key":"ALLOWED"}`))
	require.NoError(t, err)
	assert.Equal(t, "secret-value", string(out))

	_, err = dispatch(context.Background(), rc, "get_env_bytes", []byte(`{"key":"SECRET"}`))
	var denied *PermissionDenied
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "env", denied.Scope)
}

func TestDispatchOutboundFlow(t *testing.T) {
	perms := permission.Set{HTTP: []string{"example.com"}}
	rc := NewRequestContext(testPlugin(perms), RequestInterface{}, nil, nil,
		outbound.NewGatewayWithClient(&fakeDoer{resp: &http.Response{
			StatusCode: 201,
			Header:     http.Header{"X-Id": []string{"7"}},
			Body:       io.NopCloser(strings.NewReader("created")),
		}}), nil, nil)

	prep, err := dispatch(context.Background(), rc, "prepare_request", []byte(`{"method":"post","url":"https://example.com/x"}`))
	require.NoError(t, err)
	var prepOut struct {
		RequestID uint64 `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(prep, &prepOut))

	_, err = dispatch(context.Background(), rc, "add_request_header",
		mustJSON(t, map[string]any{"id": prepOut.RequestID, "name": "X-Trace", "value": []byte("abc")}))
	require.NoError(t, err)

	respJSON, err := dispatch(context.Background(), rc, "set_request_body",
		mustJSON(t, map[string]any{"id": prepOut.RequestID, "body": []byte("payload")}))
	require.NoError(t, err)

	var resp ResponseInterface
	require.NoError(t, json.Unmarshal(respJSON, &resp))
	assert.Equal(t, 201, resp.Status)
	assert.Equal(t, []byte("created"), resp.Body.Chunk)
	assert.True(t, resp.Body.EndOfStream)
}

func TestDispatchOutboundDeniedHost(t *testing.T) {
	rc := NewRequestContext(testPlugin(permission.Set{}), RequestInterface{}, nil, nil, nil, nil, nil)
	_, err := dispatch(context.Background(), rc, "prepare_request", []byte(`{"method":"get","url":"https://evil.example.com"}`))
	var denied *PermissionDenied
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "http", denied.Scope)
}

func TestDispatchDecisionAndTags(t *testing.T) {
	rc := NewRequestContext(testPlugin(permission.Set{}), RequestInterface{}, nil, nil, nil, nil, nil)

	_, err := dispatch(context.Background(), rc, "set_decision", mustJSON(t, decision.Decision{Accept: 0, Restrict: 1, Unknown: 0}))
	require.NoError(t, err)
	_, err = dispatch(context.Background(), rc, "set_tags", mustJSON(t, []string{"evil"}))
	require.NoError(t, err)

	d, tags := rc.Decision()
	assert.Equal(t, 1.0, d.Restrict)
	assert.Equal(t, []string{"evil"}, tags)
}

func TestDispatchCombinedSlotsBeforeSet(t *testing.T) {
	rc := NewRequestContext(testPlugin(permission.Set{}), RequestInterface{}, nil, nil, nil, nil, nil)
	_, err := dispatch(context.Background(), rc, "get_combined_decision", nil)
	var hse *HostStateError
	require.True(t, errors.As(err, &hse))
}

func TestDispatchCombinedSlotsAfterSet(t *testing.T) {
	hmc := NewHostMutableContext()
	hmc.SetCombined(decision.Decision{Unknown: 1}, []string{})
	hmc.SetOutcome(OutcomeTrusted)
	rc := NewRequestContext(testPlugin(permission.Set{}), RequestInterface{}, nil, nil, nil, nil, hmc)

	out, err := dispatch(context.Background(), rc, "get_outcome", nil)
	require.NoError(t, err)
	assert.Equal(t, `"trusted"`, string(out))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
