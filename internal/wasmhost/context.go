package wasmhost

import (
	"log/slog"
	"os"
	"sync"

	"github.com/fenceline/fenceline/internal/decision"
	"github.com/fenceline/fenceline/internal/jsonvalue"
	"github.com/fenceline/fenceline/internal/outbound"
	"github.com/fenceline/fenceline/internal/permission"
	"github.com/fenceline/fenceline/internal/store"
)

// EnvLookup resolves an environment variable name to its value, the way
// the sandbox environment inherits the host's. Tests inject a fake in
// place of os.LookupEnv.
type EnvLookup func(name string) (string, bool)

// RequestContext owns the per-request, per-plugin state backing one
// Plugin Instance: the sandbox environment, the plugin's serialized
// guest configuration and permission set, a handle to the Shared Params
// map (shared across every plugin instance of the same request), the
// frozen Request, the forwarded client IP if known, an optional Remote
// Store handle, the Outbound Request Table, the decision accumulators,
// the mutable tag list, and a handle to the Host-Mutable Context.
type RequestContext struct {
	plugin      *Plugin
	permissions permission.Set
	configJSON  []byte

	shared *jsonvalue.SharedParams

	request     RequestInterface
	forwardedIP *ForwardedIP

	store        *store.Gateway
	outboundGW   *outbound.Gateway
	outboundTbl  *outbound.Table

	hmc *HostMutableContext

	env    EnvLookup
	logger *slog.Logger

	mu          sync.Mutex
	decisionAcc decision.Decision
	tags        []string
}

// NewRequestContext builds a Request Context for one plugin instance of
// one request. Decision accumulators start at Unset ((0,0,1)) with an
// empty tag list, per §3/§8's freshness invariant. storeGateway and
// outboundGW may be nil if the router has no remote store or outbound
// HTTP collaborator wired up; any Host ABI call needing one then fails
// with RemoteStoreError/OutboundHTTPError rather than a nil panic.
func NewRequestContext(
	plugin *Plugin,
	req RequestInterface,
	shared *jsonvalue.SharedParams,
	storeGateway *store.Gateway,
	outboundGW *outbound.Gateway,
	forwardedIP *ForwardedIP,
	hmc *HostMutableContext,
) *RequestContext {
	if shared == nil {
		shared = jsonvalue.NewSharedParams()
	}
	if hmc == nil {
		hmc = NewHostMutableContext()
	}
	return &RequestContext{
		plugin:      plugin,
		permissions: plugin.Permissions(),
		configJSON:  plugin.configJSON,
		shared:      shared,
		request:     req,
		forwardedIP: forwardedIP,
		store:       storeGateway,
		outboundGW:  outboundGW,
		outboundTbl: outbound.NewTable(),
		hmc:         hmc,
		env:         os.LookupEnv,
		logger:      slog.Default(),
		decisionAcc: decision.Unset,
		tags:        []string{},
	}
}

// WithEnvLookup overrides the environment-variable resolver, primarily
// for tests.
func (rc *RequestContext) WithEnvLookup(lookup EnvLookup) *RequestContext {
	rc.env = lookup
	return rc
}

// WithLogger overrides the Request Context's logger (default
// slog.Default()), mirroring hostapi_prod.go's WithLogger option.
func (rc *RequestContext) WithLogger(logger *slog.Logger) *RequestContext {
	if logger != nil {
		rc.logger = logger
	}
	return rc
}

// Decision snapshots the current accumulators and tag list.
func (rc *RequestContext) Decision() (decision.Decision, []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	tags := make([]string, len(rc.tags))
	copy(tags, rc.tags)
	return rc.decisionAcc, tags
}

// setDecision overwrites the accumulators; called by the Host ABI's
// set_decision.
func (rc *RequestContext) setDecision(d decision.Decision) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.decisionAcc = d
}

// setTags overwrites the tag list; called by the Host ABI's set_tags.
func (rc *RequestContext) setTags(tags []string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.tags = tags
}

// HostMutableContext returns the handle to the shared Host-Mutable
// Context this instance reads from.
func (rc *RequestContext) HostMutableContext() *HostMutableContext { return rc.hmc }
