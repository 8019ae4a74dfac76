// File path: internal/api/setup_handler.go
package api

import (
	"fmt"
	"net/http"
	"strings"
)

// publicOrigin derives the externally visible base URL from proxy headers,
// falling back to localhost on the configured port.
func (s *Server) publicOrigin(r *http.Request) string {
	host := r.Host
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Host")); forwarded != "" {
		host = forwarded
	}
	if host == "" {
		return fmt.Sprintf("http://localhost:%d", s.cfg.Port)
	}
	proto := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto"))
	if proto == "" {
		proto = "http"
	}
	return proto + "://" + host
}

// handleHookScript serves the installer that wires a local agent CLI to this
// service. The script hard-codes the derived origin and, when the caller
// supplied one, the api key.
func (s *Server) handleHookScript(w http.ResponseWriter, r *http.Request) {
	origin := s.publicOrigin(r)
	apiKey := strings.TrimSpace(r.Header.Get("x-api-key"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(r.URL.Query().Get("key"))
	}
	if apiKey == "" {
		apiKey = "$AGENT_DOG_API_KEY"
	}

	script := fmt.Sprintf(`#!/bin/sh
# agent-dog hook installer. Pipes agent lifecycle hooks to %[1]s.
set -eu

ORIGIN="%[1]s"
API_KEY="%[2]s"
SETTINGS="$HOME/.claude/settings.json"
HOOK_CMD="curl -s -X POST \"$ORIGIN/api/ingest\" -H 'Content-Type: application/json' -H \"x-api-key: $API_KEY\" -d @-"

mkdir -p "$HOME/.claude"
if [ ! -f "$SETTINGS" ]; then
  echo '{}' > "$SETTINGS"
fi

python3 - "$SETTINGS" "$HOOK_CMD" <<'PY'
import json, sys
path, cmd = sys.argv[1], sys.argv[2]
with open(path) as f:
    settings = json.load(f)
hooks = settings.setdefault("hooks", {})
for name in ("SessionStart", "UserPromptSubmit", "PreToolUse", "PostToolUse", "Stop", "SessionEnd"):
    hooks[name] = [{"hooks": [{"type": "command", "command": cmd}]}]
with open(path, "w") as f:
    json.dump(settings, f, indent=2)
PY

echo "Hooks installed. Events will stream to $ORIGIN"
`, origin, apiKey)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="hook.sh"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(script))
}
