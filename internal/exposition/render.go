// Package exposition renders the agent info document into the Prometheus
// text exposition consumed by the scraper. The output layout is a wire
// contract: autoscaling consumers parse these exact metric names, so the
// text is assembled by hand rather than through a collector registry.
package exposition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matillion-public/agent-metrics-exporter/internal/agent"
)

// RunningStatus is the one agentStatus value that maps to an up status.
const RunningStatus = "RUNNING"

// Render converts an info document into exposition text. It never fails:
// absent or malformed fields degrade to defaults (version/commit "unknown",
// timestamp "0", status 0, counts 0). A nil info renders as entirely
// defaulted. Rendering is deterministic; equal inputs produce identical
// bytes.
func Render(info *agent.Info) string {
	if info == nil {
		info = &agent.Info{}
	}

	var b strings.Builder
	lines := []string{
		"# HELP app_version_info Application version information.",
		"# TYPE app_version_info gauge",
		fmt.Sprintf("app_version_info{version=%q, commit_hash=%q, build_timestamp=%q} 1",
			stringOr(info.BuildInfo.Version, "unknown"),
			stringOr(info.BuildInfo.CommitHash, "unknown"),
			timestampString(info.BuildInfo.BuildTimestamp)),
		"# HELP app_agent_status Shows if the agent is running. (1 for running, 0 for not)",
		"# TYPE app_agent_status gauge",
		fmt.Sprintf("app_agent_status %d", statusValue(info.AgentStatus)),
		"# HELP app_active_task_count The number of active tasks.",
		"# TYPE app_active_task_count gauge",
		"app_active_task_count " + numberOrZero(info.ActiveTaskCount),
		"# HELP app_active_request_count The number of active requests.",
		"# TYPE app_active_request_count gauge",
		"app_active_request_count " + numberOrZero(info.ActiveRequestCount),
		"# HELP app_open_sessions_count The number of open sessions.",
		"# TYPE app_open_sessions_count gauge",
		"app_open_sessions_count " + numberOrZero(info.OpenSessionsCount),
	}
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}

// Fallback returns the minimal zeroed document served when no metrics can be
// fetched. It keeps the horizontal-scaling signals parseable at all times.
func Fallback() string {
	return strings.Join([]string{
		"# HELP app_active_task_count The number of active tasks.",
		"# TYPE app_active_task_count gauge",
		"app_active_task_count 0",
		"# HELP app_active_request_count The number of active requests.",
		"# TYPE app_active_request_count gauge",
		"app_active_request_count 0",
		"# HELP app_agent_status Shows if the agent is running. (1 for running, 0 for not)",
		"# TYPE app_agent_status gauge",
		"app_agent_status 0",
	}, "\n")
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func statusValue(status string) int {
	if status == RunningStatus {
		return 1
	}
	return 0
}

// timestampString formats the build timestamp, which upstream agents have
// shipped as both a JSON number and a string.
func timestampString(v any) string {
	switch t := v.(type) {
	case nil:
		return "0"
	case string:
		if t == "" {
			return "0"
		}
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func numberOrZero(n json.Number) string {
	if n.String() == "" {
		return "0"
	}
	return n.String()
}
