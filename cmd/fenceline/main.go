// Command fenceline drives a single compiled plugin through the Plugin
// Instance phase state machine against a JSON request fixture, the way
// the external router would, but without a real HTTP server or plugin
// scheduler in front of it. It exists to exercise the plugin host core
// end-to-end from the command line during development.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fenceline/fenceline/internal/decision"
	"github.com/fenceline/fenceline/internal/engineconfig"
	"github.com/fenceline/fenceline/internal/jsonvalue"
	"github.com/fenceline/fenceline/internal/outbound"
	"github.com/fenceline/fenceline/internal/permission"
	"github.com/fenceline/fenceline/internal/store"
	"github.com/fenceline/fenceline/internal/wasmhost"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fenceline",
		Short: "Drive a WASM plugin through the fenceline request-security decision engine",
	}
	root.AddCommand(newRunCmd())
	return root
}

type runOptions struct {
	pluginPath     string
	requestPath    string
	manifestPath   string
	configPath     string
	weight         float64
	responseStatus int
	redisAddr      string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{weight: 1.0, responseStatus: 200}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compile a plugin and drive it through start/request/decision/response/feedback against a request fixture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlugin(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.pluginPath, "plugin", "", "path to a .wasm or .wat plugin module (required)")
	cmd.Flags().StringVar(&opts.requestPath, "request", "", "path to a JSON request fixture (required)")
	cmd.Flags().StringVar(&opts.manifestPath, "permissions", "", "path to a plugin manifest YAML file granting env/http/state permissions")
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to an engine configuration YAML file")
	cmd.Flags().Float64Var(&opts.weight, "weight", 1.0, "the plugin's Evidence Algebra weight")
	cmd.Flags().IntVar(&opts.responseStatus, "response-status", 200, "the interior-service response status to expose from the response phase onward")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", "", "remote store address; leave empty to run without a Remote Store Gateway")
	cmd.MarkFlagRequired("plugin")
	cmd.MarkFlagRequired("request")
	return cmd
}

// requestFixture is the on-disk JSON shape `run` reads; it is friendlier
// to hand-author than wasmhost.RequestInterface's wire format and is
// translated into one before the phases run.
type requestFixture struct {
	Method   string            `json:"method"`
	URI      string            `json:"uri"`
	Version  string            `json:"version"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	ClientIP string            `json:"client_ip"`
}

func runPlugin(ctx context.Context, opts *runOptions) error {
	correlationID := uuid.New().String()
	logger := slog.Default().With("correlation_id", correlationID)

	cfg, err := engineconfig.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	perms := permission.Set{}
	if opts.manifestPath != "" {
		perms, err = permission.FromManifest(opts.manifestPath)
		if err != nil {
			return fmt.Errorf("load permissions: %w", err)
		}
	}

	req, forwardedIP, err := loadRequestFixture(opts.requestPath)
	if err != nil {
		return fmt.Errorf("load request fixture: %w", err)
	}

	plugin, err := wasmhost.FromFile(ctx, pluginName(opts.pluginPath), opts.pluginPath,
		wasmhost.WithPermissions(perms),
		wasmhost.WithWeight(opts.weight),
		wasmhost.WithMemoryLimitPages(cfg.MemoryLimitPages),
	)
	if err != nil {
		return fmt.Errorf("load plugin: %w", err)
	}
	defer plugin.Close(ctx)

	var storeGW *store.Gateway
	if opts.redisAddr != "" {
		storeCfg := store.DefaultGatewayConfig(opts.redisAddr)
		storeCfg.DialTimeout = cfg.RedisDialTimeout
		storeCfg.CallTimeout = cfg.RedisCallTimeout
		storeCfg.PoolSize = cfg.RedisPoolSize
		storeGW = store.NewGateway(storeCfg, store.SystemClock{})
	}
	outboundGW := outbound.NewGateway(cfg.OutboundTimeout)

	shared := jsonvalue.NewSharedParams()
	hmc := wasmhost.NewHostMutableContext()
	rc := wasmhost.NewRequestContext(plugin, req, shared, storeGW, outboundGW, forwardedIP, hmc)
	rc.WithLogger(logger)

	inst, err := wasmhost.NewPluginInstance(ctx, plugin, rc)
	if err != nil {
		return fmt.Errorf("instantiate plugin: %w", err)
	}
	defer inst.Close(ctx)

	if err := inst.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if err := inst.OnRequest(ctx); err != nil {
		return fmt.Errorf("on_request: %w", err)
	}

	if err := inst.OnRequestDecision(ctx); err != nil {
		return fmt.Errorf("on_request_decision: %w", err)
	}

	hmc.SetResponse(wasmhost.ResponseInterface{
		Status:  opts.responseStatus,
		Version: "HTTP/1.1",
		Headers: nil,
		Body:    wasmhost.BodyChunk{EndOfStream: true},
	})
	if err := inst.OnResponseDecision(ctx); err != nil {
		return fmt.Errorf("on_response_decision: %w", err)
	}

	// A single-plugin run combines trivially: the Evidence Algebra applied
	// to one decision scales its accept/restrict mass by the plugin's weight
	// and renormalizes it (with weight 1.0 the decision passes through).
	d, tags := inst.Decision()
	combined := decision.Combine([]decision.Decision{{Accept: d.Accept, Restrict: d.Restrict, Unknown: d.Unknown}}, []float64{plugin.Weight()})
	outcome := classify(combined)
	hmc.SetCombined(combined, tags)
	hmc.SetOutcome(outcome)
	if err := inst.OnDecisionFeedback(ctx); err != nil {
		return fmt.Errorf("on_decision_feedback: %w", err)
	}

	return printResult(combined, tags, outcome)
}

// classify is a demonstration threshold policy only; the core never
// computes Outcomes itself (spec §9: thresholds are the router's
// concern).
func classify(d decision.Decision) wasmhost.Outcome {
	switch {
	case d.Restrict >= 0.75:
		return wasmhost.OutcomeRestricted
	case d.Restrict >= 0.4:
		return wasmhost.OutcomeSuspected
	case d.Accept >= 0.75:
		return wasmhost.OutcomeTrusted
	default:
		return wasmhost.OutcomeAccepted
	}
}

func printResult(d decision.Decision, tags []string, outcome wasmhost.Outcome) error {
	out := struct {
		Decision decision.Decision `json:"decision"`
		Tags     []string          `json:"tags"`
		Outcome  wasmhost.Outcome  `json:"outcome"`
	}{Decision: d, Tags: tags, Outcome: outcome}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadRequestFixture(path string) (wasmhost.RequestInterface, *wasmhost.ForwardedIP, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return wasmhost.RequestInterface{}, nil, err
	}
	var fx requestFixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		return wasmhost.RequestInterface{}, nil, err
	}

	version := fx.Version
	if version == "" {
		version = "HTTP/1.1"
	}
	headers := make([]wasmhost.Header, 0, len(fx.Headers))
	for name, value := range fx.Headers {
		headers = append(headers, wasmhost.Header{Name: name, Value: []byte(value)})
	}
	body := []byte(fx.Body)
	req := wasmhost.RequestInterface{
		Method:  fx.Method,
		URI:     fx.URI,
		Version: version,
		Headers: headers,
		Body: wasmhost.BodyChunk{
			Chunk:       body,
			ChunkStart:  0,
			ChunkLength: int64(len(body)),
			EndOfStream: true,
		},
	}

	var forwardedIP *wasmhost.ForwardedIP
	if fx.ClientIP != "" {
		if ip := parseIP(fx.ClientIP); ip != nil {
			forwardedIP = &wasmhost.ForwardedIP{Addr: *ip}
		}
	}
	return req, forwardedIP, nil
}

func pluginName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimSuffix(base, ".wasm"), ".wat")
}

// parseIP converts a textual IPv4/IPv6 address into the Host ABI's
// tagged IP variant, or nil if it cannot be parsed.
func parseIP(s string) *wasmhost.IP {
	addr := net.ParseIP(s)
	if addr == nil {
		return nil
	}
	if v4 := addr.To4(); v4 != nil {
		var octets [4]uint8
		copy(octets[:], v4)
		return &wasmhost.IP{V4: &octets}
	}
	v6 := addr.To16()
	if v6 == nil {
		return nil
	}
	var segments [8]uint16
	for i := 0; i < 8; i++ {
		segments[i] = uint16(v6[i*2])<<8 | uint16(v6[i*2+1])
	}
	return &wasmhost.IP{V6: &segments}
}
