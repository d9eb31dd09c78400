package sandbox

import (
	"strings"
	"testing"
)

func TestProcessEnv_ScrubsNodeAndNpmVars(t *testing.T) {
	t.Setenv("NODE_OPTIONS", "--max-old-space-size=8192")
	t.Setenv("NODE_REPL_HISTORY", "/tmp/history")
	t.Setenv("npm_config_registry", "http://localhost:4873")
	t.Setenv("EDITOR", "vim")

	env := processEnv(3100)

	for _, kv := range env {
		for _, banned := range []string{"NODE_OPTIONS=", "NODE_REPL_", "npm_"} {
			if strings.HasPrefix(kv, banned) {
				t.Errorf("scrubbed variable leaked: %q", kv)
			}
		}
	}

	want := map[string]bool{
		"EDITOR=vim": false,
		"PORT=3100":  false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, seen := range want {
		if !seen {
			t.Errorf("missing %q", kv)
		}
	}
}

func TestProcessEnv_ResetsPath(t *testing.T) {
	t.Setenv("PATH", "/opt/fnm/shims:/usr/bin")
	t.Setenv("HOME", "/home/dev")

	var path string
	for _, kv := range processEnv(3000) {
		if v, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = v
		}
	}
	want := basePATH + ":/home/dev/.local/bin"
	if path != want {
		t.Errorf("PATH = %q, want %q", path, want)
	}
}

func TestHasReadySentinel(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"  ✓ Ready in 2.1s", true},
		{"- Local:   http://localhost:3000", true},
		{"▲ Next.js 15.0.0", false},
		{"Compiled / in 300ms", false},
	}
	for _, tt := range tests {
		if got := hasReadySentinel(tt.line); got != tt.want {
			t.Errorf("hasReadySentinel(%q) = %v", tt.line, got)
		}
	}
}
