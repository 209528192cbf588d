package store

import "github.com/redis/go-redis/v9"

// The four atomic routines of the Script Registry, ported from the
// reference Lua bodies. The host always supplies the clock timestamp as
// an argument; these scripts never call Redis' own TIME command, so rate
// windows track the service's clock rather than the store's.
//
// Both rate-limit scripts use the canonical ":ex" expiration-key suffix
// (resolved Open Question, see DESIGN.md); check_rate_limit never issues
// a DEL on an expired key, relying on the Redis-side TTL to reclaim it.
var (
	incrementRateLimitScript = redis.NewScript(`
local counter_key = "rl:" .. KEYS[1]
local increment_delta = tonumber(ARGV[1])
local expiration_window = tonumber(ARGV[2])
local timestamp = tonumber(ARGV[3])
local expiration_key = counter_key .. ":ex"
local expiration = tonumber(redis.call("get", expiration_key))
local next_expiration = timestamp + expiration_window
if not expiration or timestamp > expiration then
    redis.call("set", expiration_key, next_expiration)
    redis.call("set", counter_key, 0)
    redis.call("expireat", expiration_key, next_expiration + 1)
    redis.call("expireat", counter_key, next_expiration + 1)
    expiration = next_expiration
end
local attempts = redis.call("incrby", counter_key, increment_delta)
return { attempts, expiration }
`)

	checkRateLimitScript = redis.NewScript(`
local counter_key = "rl:" .. KEYS[1]
local expiration_key = counter_key .. ":ex"
local timestamp = tonumber(ARGV[1])
local attempts = tonumber(redis.call("get", counter_key))
local expiration = nil
if attempts then
    expiration = tonumber(redis.call("get", expiration_key))
    if not expiration or timestamp > expiration then
        attempts = nil
        expiration = nil
    end
end
return { attempts, expiration }
`)

	incrementBreakerScript = redis.NewScript(`
local generation_key = "bk:g:" .. KEYS[1]
local success_key = "bk:s:" .. KEYS[1]
local failure_key = "bk:f:" .. KEYS[1]
local consec_success_key = "bk:cs:" .. KEYS[1]
local consec_failure_key = "bk:cf:" .. KEYS[1]
local success_delta = tonumber(ARGV[1])
local failure_delta = tonumber(ARGV[2])
local expiration_window = tonumber(ARGV[3])
local timestamp = tonumber(ARGV[4])
local expiration = timestamp + expiration_window
local generation = redis.call("incrby", generation_key, 1)
local successes = 0
local failures = 0
local consec_successes = 0
local consec_failures = 0
if success_delta > 0 then
    successes = redis.call("incrby", success_key, success_delta)
    failures = tonumber(redis.call("get", failure_key)) or 0
    consec_successes = redis.call("incrby", consec_success_key, success_delta)
    redis.call("set", consec_failure_key, 0)
    consec_failures = 0
else
    successes = tonumber(redis.call("get", success_key)) or 0
    failures = redis.call("incrby", failure_key, failure_delta)
    redis.call("set", consec_success_key, 0)
    consec_successes = 0
    consec_failures = redis.call("incrby", consec_failure_key, failure_delta)
end
redis.call("expireat", generation_key, expiration + 1)
redis.call("expireat", success_key, expiration + 1)
redis.call("expireat", failure_key, expiration + 1)
redis.call("expireat", consec_success_key, expiration + 1)
redis.call("expireat", consec_failure_key, expiration + 1)
return { generation, successes, failures, consec_successes, consec_failures, expiration }
`)

	checkBreakerScript = redis.NewScript(`
local generation_key = "bk:g:" .. KEYS[1]
local success_key = "bk:s:" .. KEYS[1]
local failure_key = "bk:f:" .. KEYS[1]
local consec_success_key = "bk:cs:" .. KEYS[1]
local consec_failure_key = "bk:cf:" .. KEYS[1]
local generation = tonumber(redis.call("get", generation_key))
if not generation then
    return { nil, nil, nil, nil, nil, nil }
end
local successes = tonumber(redis.call("get", success_key)) or 0
local failures = tonumber(redis.call("get", failure_key)) or 0
local consec_successes = tonumber(redis.call("get", consec_success_key)) or 0
local consec_failures = tonumber(redis.call("get", consec_failure_key)) or 0
local expiration = tonumber(redis.call("expiretime", success_key)) - 1
return { generation, successes, failures, consec_successes, consec_failures, expiration }
`)
)
