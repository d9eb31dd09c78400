package sandbox

import (
	"os"
	"strconv"
	"strings"
)

// basePATH is the fixed search path preview subprocesses run with. The
// daemon's own PATH may carry version-manager shims that resolve to the
// wrong toolchain inside a workspace.
const basePATH = "/usr/local/bin:/usr/bin:/bin:/usr/sbin:/sbin"

// droppedEnvPrefixes are inherited variables that leak daemon state
// into npm and node. npm_* covers npm lifecycle exports when the
// daemon itself was launched from a package script.
var droppedEnvPrefixes = []string{
	"NODE_OPTIONS",
	"NODE_REPL_",
	"npm_",
}

// processEnv builds the scrubbed environment for a preview subprocess.
func processEnv(port int) []string {
	env := make([]string, 0, len(os.Environ())+3)
	for _, kv := range os.Environ() {
		if dropEnvVar(kv) {
			continue
		}
		env = append(env, kv)
	}

	path := basePATH
	if home := os.Getenv("HOME"); home != "" {
		path += ":" + home + "/.local/bin"
	}
	env = append(env,
		"PATH="+path,
		"PORT="+strconv.Itoa(port),
		"BROWSER=none",
	)
	return env
}

func dropEnvVar(kv string) bool {
	name, _, ok := strings.Cut(kv, "=")
	if !ok {
		return true
	}
	if name == "PATH" || name == "PORT" || name == "BROWSER" {
		return true
	}
	for _, prefix := range droppedEnvPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
