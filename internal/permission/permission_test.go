package permission

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnvAllowed(t *testing.T) {
	s := Set{Env: []string{"API_KEY"}}
	if !s.EnvAllowed("API_KEY") {
		t.Error("expected API_KEY allowed")
	}
	if s.EnvAllowed("SECRET") {
		t.Error("expected SECRET denied")
	}
}

func TestHTTPAllowed(t *testing.T) {
	s := Set{HTTP: []string{"example.com"}}
	if !s.HTTPAllowed("https://example.com/path") {
		t.Error("expected example.com allowed")
	}
	if s.HTTPAllowed("https://evil.example.com/path") {
		t.Error("expected subdomain denied (exact host match only)")
	}
	if s.HTTPAllowed("not a url at all ::") {
		t.Error("malformed URL should never be allowed")
	}
}

func TestStateAllowedPrefix(t *testing.T) {
	s := Set{State: []string{"rl:", "bk:"}}
	if !s.StateAllowed("rl:ip:1.2.3.4") {
		t.Error("expected rl: prefix allowed")
	}
	if s.StateAllowed("other:key") {
		t.Error("expected other: denied")
	}
}

func TestFromManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.yaml")
	contents := `
name: example
version: 1.0.0
permissions:
  env:
    - API_KEY
  http:
    - example.com
  state:
    - "rl:"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	set, err := FromManifest(path)
	if err != nil {
		t.Fatalf("FromManifest: %v", err)
	}
	if !set.EnvAllowed("API_KEY") {
		t.Error("expected API_KEY parsed from manifest")
	}
	if !set.HTTPAllowed("https://example.com") {
		t.Error("expected example.com parsed from manifest")
	}
	if !set.StateAllowed("rl:foo") {
		t.Error("expected rl: prefix parsed from manifest")
	}
}
