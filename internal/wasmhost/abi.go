package wasmhost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fenceline/fenceline/internal/decision"
	"github.com/fenceline/fenceline/internal/jsonvalue"
	"github.com/fenceline/fenceline/internal/store"
)

// dispatch is the single capability interface a sandbox imports, bound
// once at instance construction (§9 "Dynamic dispatch of host imports").
// fn names the Host ABI method (§4.10); argsJSON is its JSON-encoded
// arguments. Calls documented as returning raw "bytes" in the spec (
// get_config, get_env_bytes, get_remote_state) return their payload
// unwrapped; every other call returns its result JSON-encoded. A
// returned error always aborts the guest invocation that triggered it.
func dispatch(ctx context.Context, rc *RequestContext, fn string, argsJSON []byte) ([]byte, error) {
	switch fn {
	case "get_config":
		return rc.configJSON, nil

	case "get_param_value":
		var args struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("get_param_value: %w", err)
		}
		return json.Marshal(rc.shared.Get(args.Key))

	case "set_param_value":
		var args struct {
			Key   string          `json:"key"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("set_param_value: %w", err)
		}
		var v jsonvalue.Value
		if err := json.Unmarshal(args.Value, &v); err != nil {
			return nil, fmt.Errorf("set_param_value: %w", err)
		}
		rc.shared.Set(args.Key, v)
		return nil, nil

	case "get_env_bytes":
		var args struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("get_env_bytes: %w", err)
		}
		if !rc.permissions.EnvAllowed(args.Key) {
			return nil, &PermissionDenied{Scope: "env", Key: args.Key}
		}
		val, _ := rc.env(args.Key)
		return []byte(val), nil

	case "get_request":
		return json.Marshal(rc.request)

	case "get_response":
		resp, err := rc.hmc.Response()
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)

	case "get_client_ip":
		if rc.forwardedIP == nil {
			return json.Marshal(nil)
		}
		return json.Marshal(rc.forwardedIP.Addr)

	case "prepare_request":
		var args struct {
			Method string `json:"method"`
			URL    string `json:"url"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("prepare_request: %w", err)
		}
		if !rc.permissions.HTTPAllowed(args.URL) {
			return nil, &PermissionDenied{Scope: "http", Key: args.URL}
		}
		id, err := rc.outboundTbl.PrepareRequest(args.Method, args.URL)
		if err != nil {
			return nil, &OutboundHTTPError{Err: err}
		}
		return json.Marshal(struct {
			RequestID uint64 `json:"request_id"`
		}{id})

	case "add_request_header":
		var args struct {
			ID    uint64 `json:"id"`
			Name  string `json:"name"`
			Value []byte `json:"value"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("add_request_header: %w", err)
		}
		if err := rc.outboundTbl.AddRequestHeader(args.ID, args.Name, string(args.Value)); err != nil {
			return nil, &OutboundHTTPError{Err: err}
		}
		return nil, nil

	case "set_request_body":
		var args struct {
			ID   uint64 `json:"id"`
			Body []byte `json:"body"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("set_request_body: %w", err)
		}
		if rc.outboundGW == nil {
			return nil, &OutboundHTTPError{Err: fmt.Errorf("no outbound gateway configured")}
		}
		resp, err := rc.outboundTbl.SetRequestBody(ctx, rc.outboundGW, args.ID, args.Body)
		if err != nil {
			return nil, &OutboundHTTPError{Err: err}
		}
		headers := make([]Header, len(resp.Headers))
		for i, h := range resp.Headers {
			headers[i] = Header{Name: h.Name, Value: []byte(h.Value)}
		}
		return json.Marshal(ResponseInterface{
			Status:  resp.Status,
			Version: "HTTP/1.1",
			Headers: headers,
			Body:    wholeBody(resp.Body),
		})

	case "set_decision":
		var d decision.Decision
		if err := json.Unmarshal(argsJSON, &d); err != nil {
			return nil, fmt.Errorf("set_decision: %w", err)
		}
		rc.setDecision(d)
		return nil, nil

	case "set_tags":
		var tags []string
		if err := json.Unmarshal(argsJSON, &tags); err != nil {
			return nil, fmt.Errorf("set_tags: %w", err)
		}
		rc.setTags(tags)
		return nil, nil

	case "get_combined_decision":
		d, err := rc.hmc.CombinedDecision()
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)

	case "get_combined_tags":
		tags, err := rc.hmc.CombinedTags()
		if err != nil {
			return nil, err
		}
		return json.Marshal(tags)

	case "get_outcome":
		o, err := rc.hmc.Outcome()
		if err != nil {
			return nil, err
		}
		return json.Marshal(o)

	case "get_remote_state":
		key, err := stateKey(argsJSON, rc)
		if err != nil {
			return nil, err
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		val, err := rc.store.Get(ctx, key)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return val, nil

	case "set_remote_state":
		var args struct {
			Key   string `json:"key"`
			Value []byte `json:"value"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("set_remote_state: %w", err)
		}
		if !rc.permissions.StateAllowed(args.Key) {
			return nil, &PermissionDenied{Scope: "state", Key: args.Key}
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		if err := rc.store.Set(ctx, args.Key, args.Value); err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return nil, nil

	case "increment_remote_state":
		key, err := stateKey(argsJSON, rc)
		if err != nil {
			return nil, err
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		v, err := rc.store.Incr(ctx, key, 1)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return json.Marshal(v)

	case "increment_remote_state_by":
		var args struct {
			Key   string `json:"key"`
			Delta int64  `json:"delta"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("increment_remote_state_by: %w", err)
		}
		if !rc.permissions.StateAllowed(args.Key) {
			return nil, &PermissionDenied{Scope: "state", Key: args.Key}
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		v, err := rc.store.Incr(ctx, args.Key, args.Delta)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return json.Marshal(v)

	case "set_remote_ttl":
		var args struct {
			Key        string `json:"key"`
			TTLSeconds int64  `json:"ttl_secs"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("set_remote_ttl: %w", err)
		}
		if !rc.permissions.StateAllowed(args.Key) {
			return nil, &PermissionDenied{Scope: "state", Key: args.Key}
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		if err := rc.store.Expire(ctx, args.Key, args.TTLSeconds); err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return nil, nil

	case "increment_rate_limit":
		var args struct {
			Key    string `json:"key"`
			Delta  int64  `json:"delta"`
			Window int64  `json:"window"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("increment_rate_limit: %w", err)
		}
		if !rc.permissions.StateAllowed(args.Key) {
			return nil, &PermissionDenied{Scope: "state", Key: args.Key}
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		res, err := rc.store.IncrementRateLimit(ctx, args.Key, args.Delta, time.Duration(args.Window)*time.Second)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return json.Marshal(RateInterface{Attempts: res.Attempts, Expiration: res.Expiration})

	case "check_rate_limit":
		key, err := stateKey(argsJSON, rc)
		if err != nil {
			return nil, err
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		res, err := rc.store.CheckRateLimit(ctx, key)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		if !res.IsSet {
			return json.Marshal(nil)
		}
		return json.Marshal(RateInterface{Attempts: res.Attempts, Expiration: res.Expiration})

	case "increment_breaker":
		var args struct {
			Key          string `json:"key"`
			SuccessDelta int64  `json:"success_delta"`
			FailureDelta int64  `json:"failure_delta"`
			Window       int64  `json:"window"`
		}
		if err := json.Unmarshal(argsJSON, &args); err != nil {
			return nil, fmt.Errorf("increment_breaker: %w", err)
		}
		if !rc.permissions.StateAllowed(args.Key) {
			return nil, &PermissionDenied{Scope: "state", Key: args.Key}
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		res, err := rc.store.IncrementBreaker(ctx, args.Key, args.SuccessDelta, args.FailureDelta, time.Duration(args.Window)*time.Second)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		return json.Marshal(breakerInterfaceOf(res))

	case "check_breaker":
		key, err := stateKey(argsJSON, rc)
		if err != nil {
			return nil, err
		}
		if rc.store == nil {
			return nil, &RemoteStoreError{Err: fmt.Errorf("no remote store configured")}
		}
		res, err := rc.store.CheckBreaker(ctx, key)
		if err != nil {
			return nil, &RemoteStoreError{Err: err}
		}
		if !res.IsSet {
			return json.Marshal(nil)
		}
		return json.Marshal(breakerInterfaceOf(res))

	default:
		return nil, fmt.Errorf("unknown host call %q", fn)
	}
}

// stateKey unmarshals the common {"key": ...} argument shape used by
// every state-scoped call that takes no other argument, and checks it
// against the state permission set.
func stateKey(argsJSON []byte, rc *RequestContext) (string, error) {
	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return "", fmt.Errorf("decode state key: %w", err)
	}
	if !rc.permissions.StateAllowed(args.Key) {
		return "", &PermissionDenied{Scope: "state", Key: args.Key}
	}
	return args.Key, nil
}

func breakerInterfaceOf(res store.BreakerResult) BreakerInterface {
	return BreakerInterface{
		Generation:         res.Generation,
		Successes:          res.Successes,
		Failures:           res.Failures,
		ConsecutiveSuccess: res.ConsecutiveSuccess,
		ConsecutiveFailure: res.ConsecutiveFailure,
		Expiration:         res.Expiration,
	}
}
