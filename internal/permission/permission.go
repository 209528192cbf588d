// Package permission implements the declarative capability grants attached
// to a plugin: allowlists of environment variable names, outbound HTTP
// hosts, and remote-store key prefixes.
package permission

import (
	"net/url"
	"strings"
)

// Set is the three allowlists gating a plugin's Host ABI calls. A field
// left nil or empty grants nothing for that category; there are no
// wildcards.
type Set struct {
	// Env holds exact environment variable names the plugin may read.
	Env []string
	// HTTP holds exact host names (scheme-less) the plugin may reach with
	// outbound requests.
	HTTP []string
	// State holds key prefixes the plugin may read/write in the remote
	// store; membership is prefix match.
	State []string
}

// EnvAllowed reports whether name is an exact match in the env allowlist.
func (s Set) EnvAllowed(name string) bool {
	for _, n := range s.Env {
		if n == name {
			return true
		}
	}
	return false
}

// HTTPAllowed reports whether rawURL's host is an exact match in the HTTP
// allowlist. A malformed URL is never allowed.
func (s Set) HTTPAllowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	for _, h := range s.HTTP {
		if h == host {
			return true
		}
	}
	return false
}

// StateAllowed reports whether key has any allowlisted prefix.
func (s Set) StateAllowed(key string) bool {
	for _, p := range s.State {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}
