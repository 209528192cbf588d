// Package store implements the Script Registry and the Remote Store
// Gateway: connection-pooled, metrics-instrumented access to an external
// key-value store that supports atomic multi-key scripting and
// per-key TTLs.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Clock supplies the current time used for rate-limit and breaker
// windows. The host clock is always used, never the store's own clock,
// so windows track the service rather than the store.
type Clock interface {
	Now() time.Time
}

// SystemClock is the Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// RateResult is the result of a rate-limit script invocation. A nil
// Attempts/Expiration pair (IsSet == false) means "no record" per
// check_rate_limit's contract.
type RateResult struct {
	Attempts   int64
	Expiration int64
	IsSet      bool
}

// BreakerResult is the result of a breaker script invocation. IsSet is
// false when the breaker has no recorded generation yet.
type BreakerResult struct {
	Generation          int64
	Successes           int64
	Failures            int64
	ConsecutiveSuccess  int64
	ConsecutiveFailure  int64
	Expiration          int64
	IsSet               bool
}

// GatewayConfig configures a Gateway's connection pool and timeouts.
type GatewayConfig struct {
	Addr            string
	PoolSize        int
	DialTimeout     time.Duration
	CallTimeout     time.Duration // default 5s, per spec's concurrency model
	AcquireTimeout  time.Duration
}

// DefaultGatewayConfig returns sane pool defaults in the style of the
// teacher's database pool defaults.
func DefaultGatewayConfig(addr string) GatewayConfig {
	return GatewayConfig{
		Addr:           addr,
		PoolSize:       16,
		DialTimeout:    5 * time.Second,
		CallTimeout:    5 * time.Second,
		AcquireTimeout: 5 * time.Second,
	}
}

// metrics are the Remote Store Gateway's Prometheus instruments, grounded
// on the teacher's connection-pool PoolMetrics shape but adapted to a
// scripted key-value store rather than SQL.
type metrics struct {
	callDuration prometheus.Histogram
	callErrors   prometheus.Counter
	scriptCalls  *prometheus.CounterVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers the instruments with the default Prometheus
// registry on first use and returns the same set to every Gateway.
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "fenceline_store_call_duration_seconds",
				Help:    "Remote store call duration",
				Buckets: prometheus.DefBuckets,
			}),
			callErrors: promauto.NewCounter(prometheus.CounterOpts{
				Name: "fenceline_store_call_errors_total",
				Help: "Total remote store call errors",
			}),
			scriptCalls: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fenceline_store_script_calls_total",
				Help: "Total script invocations by name",
			}, []string{"script"}),
		}
	})
	return sharedMetrics
}

// Cmdable is the subset of redis.Cmdable the Gateway depends on; it lets
// tests substitute a fake in place of a real *redis.Client without
// standing up a Redis server.
type Cmdable interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Gateway wraps a connection-pooled remote store client plus the Script
// Registry. All methods are synchronous blocking I/O; failures surface as
// a *Error and abort the calling Host ABI invocation.
type Gateway struct {
	client  Cmdable
	clock   Clock
	timeout time.Duration
	metrics *metrics
}

// NewGateway constructs a Gateway backed by a real pooled redis.Client.
func NewGateway(cfg GatewayConfig, clock Clock) *Gateway {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
		PoolTimeout: cfg.AcquireTimeout,
	})
	if clock == nil {
		clock = SystemClock{}
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{client: client, clock: clock, timeout: timeout, metrics: newMetrics()}
}

// NewGatewayWithClient builds a Gateway over an already-constructed
// Cmdable, primarily for tests substituting a fake client.
func NewGatewayWithClient(client Cmdable, clock Clock, timeout time.Duration) *Gateway {
	if clock == nil {
		clock = SystemClock{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gateway{client: client, clock: clock, timeout: timeout, metrics: newMetrics()}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) observe(op string, err error) {
	if err != nil && err != redis.Nil {
		g.metrics.callErrors.Inc()
	}
}

// Get returns the raw bytes stored at key. A missing key returns
// (nil, nil) rather than an error.
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	timer := prometheus.NewTimer(g.metrics.callDuration)
	defer timer.ObserveDuration()

	val, err := g.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	g.observe("get", err)
	if err != nil {
		return nil, wrapErr("get", err)
	}
	return val, nil
}

// Set stores bytes at key with no expiration.
func (g *Gateway) Set(ctx context.Context, key string, value []byte) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	timer := prometheus.NewTimer(g.metrics.callDuration)
	defer timer.ObserveDuration()

	err := g.client.Set(ctx, key, value, 0).Err()
	g.observe("set", err)
	if err != nil {
		return wrapErr("set", err)
	}
	return nil
}

// Incr adds delta to the counter at key, returning the new value.
func (g *Gateway) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	timer := prometheus.NewTimer(g.metrics.callDuration)
	defer timer.ObserveDuration()

	v, err := g.client.IncrBy(ctx, key, delta).Result()
	g.observe("incr", err)
	if err != nil {
		return 0, wrapErr("incr", err)
	}
	return v, nil
}

// Expire sets a TTL in seconds on key.
func (g *Gateway) Expire(ctx context.Context, key string, ttlSeconds int64) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	timer := prometheus.NewTimer(g.metrics.callDuration)
	defer timer.ObserveDuration()

	err := g.client.Expire(ctx, key, time.Duration(ttlSeconds)*time.Second).Err()
	g.observe("expire", err)
	if err != nil {
		return wrapErr("expire", err)
	}
	return nil
}

// IncrementRateLimit executes the increment_rate_limit script.
func (g *Gateway) IncrementRateLimit(ctx context.Context, key string, delta int64, window time.Duration) (RateResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	g.metrics.scriptCalls.WithLabelValues("increment_rate_limit").Inc()

	now := g.clock.Now().Unix()
	res, err := incrementRateLimitScript.Run(ctx, g.client, []string{key}, delta, int64(window.Seconds()), now).Result()
	g.observe("increment_rate_limit", err)
	if err != nil {
		return RateResult{}, wrapErr("increment_rate_limit", err)
	}
	attempts, expiration, ok := parseRatePair(res)
	return RateResult{Attempts: attempts, Expiration: expiration, IsSet: ok}, nil
}

// CheckRateLimit executes the check_rate_limit script.
func (g *Gateway) CheckRateLimit(ctx context.Context, key string) (RateResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	g.metrics.scriptCalls.WithLabelValues("check_rate_limit").Inc()

	now := g.clock.Now().Unix()
	res, err := checkRateLimitScript.Run(ctx, g.client, []string{key}, now).Result()
	g.observe("check_rate_limit", err)
	if err != nil {
		return RateResult{}, wrapErr("check_rate_limit", err)
	}
	attempts, expiration, ok := parseRatePair(res)
	return RateResult{Attempts: attempts, Expiration: expiration, IsSet: ok}, nil
}

// IncrementBreaker executes the increment_breaker script.
func (g *Gateway) IncrementBreaker(ctx context.Context, key string, successDelta, failureDelta int64, window time.Duration) (BreakerResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	g.metrics.scriptCalls.WithLabelValues("increment_breaker").Inc()

	now := g.clock.Now().Unix()
	res, err := incrementBreakerScript.Run(ctx, g.client, []string{key}, successDelta, failureDelta, int64(window.Seconds()), now).Result()
	g.observe("increment_breaker", err)
	if err != nil {
		return BreakerResult{}, wrapErr("increment_breaker", err)
	}
	return parseBreakerTuple(res), nil
}

// CheckBreaker executes the check_breaker script.
func (g *Gateway) CheckBreaker(ctx context.Context, key string) (BreakerResult, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()
	g.metrics.scriptCalls.WithLabelValues("check_breaker").Inc()

	res, err := checkBreakerScript.Run(ctx, g.client, []string{key}).Result()
	g.observe("check_breaker", err)
	if err != nil {
		return BreakerResult{}, wrapErr("check_breaker", err)
	}
	return parseBreakerTuple(res), nil
}

func parseRatePair(res any) (attempts, expiration int64, ok bool) {
	items, isSlice := res.([]any)
	if !isSlice || len(items) != 2 || items[0] == nil || items[1] == nil {
		return 0, 0, false
	}
	return toInt64(items[0]), toInt64(items[1]), true
}

func parseBreakerTuple(res any) BreakerResult {
	items, isSlice := res.([]any)
	if !isSlice || len(items) != 6 || items[0] == nil {
		return BreakerResult{}
	}
	return BreakerResult{
		Generation:         toInt64(items[0]),
		Successes:          toInt64(items[1]),
		Failures:           toInt64(items[2]),
		ConsecutiveSuccess: toInt64(items[3]),
		ConsecutiveFailure: toInt64(items[4]),
		Expiration:         toInt64(items[5]),
		IsSet:              true,
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
