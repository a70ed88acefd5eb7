package service

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/stackctl/internal/logger"
)

// Default ports for the managed pair. Configuration may override both;
// the port probe needs them even when nothing else is configured.
const (
	DefaultBackendPort  = 8000
	DefaultFrontendPort = 8080
)

// Descriptor describes one managed service. It is immutable after
// construction: build it once from config and pass it by value.
// A service without a DrainPath does not support graceful drain and is
// always stopped directly.
type Descriptor struct {
	Name       string        `json:"name"`
	Port       int           `json:"port"`
	HealthPath string        `json:"health_path"` // liveness probe path, e.g. /health
	DrainPath  string        `json:"drain_path"`  // empty means no drain support
	LogPath    string        `json:"log_path"`    // append-only log the backend writes
	Command    string        `json:"command"`     // start command (shell string)
	WorkDir    string        `json:"work_dir"`
	Log        logger.Config `json:"log"` // capture config for stdout/stderr
}

// Drainable reports whether the service advertises a drain endpoint.
func (d Descriptor) Drainable() bool { return d.DrainPath != "" }

// BaseURL returns the local HTTP base for probe requests.
func (d Descriptor) BaseURL() string { return fmt.Sprintf("http://127.0.0.1:%d", d.Port) }

// DefaultBackend returns the descriptor for the API service with the
// stock probe paths. The drain endpoint matches the backend contract:
// POST returns {status, message} and begins save-then-exit.
func DefaultBackend() Descriptor {
	return Descriptor{
		Name:       "backend",
		Port:       DefaultBackendPort,
		HealthPath: "/health",
		DrainPath:  "/shutdown",
	}
}

// DefaultFrontend returns the descriptor for the static file server.
// It has no drain path and no log sink; it is always stopped directly.
func DefaultFrontend() Descriptor {
	return Descriptor{
		Name: "frontend",
		Port: DefaultFrontendPort,
	}
}

// BuildCommand constructs an *exec.Cmd for the descriptor's Command.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'uvicorn app:api'"), avoiding double-wrapping.
func (d Descriptor) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(d.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if after, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", after)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>"
// at the beginning of cmdStr. It preserves the substring after "-c " verbatim,
// stripping one pair of wrapping quotes so the script itself reaches the shell.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
