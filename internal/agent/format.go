package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/claudebot/internal/domain"
)

const (
	toolArgsPreviewLen = 200
	denialInputLen     = 100
)

// ErrorBlockPrefix starts every formatted failure block.
const ErrorBlockPrefix = "[Error]"

// FormatEvent renders an event as a progress line. The bool is false when the
// event has nothing to show; the line is never empty when it is true.
func FormatEvent(ev Event) (string, bool) {
	switch e := ev.(type) {
	case *InitEvent:
		return fmt.Sprintf("[init] model: %s | tools: %s", e.Model, strings.Join(e.Tools, ", ")), true

	case *AssistantEvent:
		var parts []string
		for _, block := range e.Content {
			switch {
			case block.Text != "":
				parts = append(parts, block.Text)
			case block.Type == "tool_use":
				args := domain.Ellipsize(compactJSON(block.Input), toolArgsPreviewLen)
				parts = append(parts, fmt.Sprintf("[tool_call] %s(%s)", block.Name, args))
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, "\n"), true

	default:
		return "", false
	}
}

// FormatResultError renders the diagnostic block for an unsuccessful result.
func FormatResultError(e *ResultEvent) string {
	stopReason := e.StopReason
	if stopReason == "" {
		stopReason = "null"
	}
	lines := []string{
		fmt.Sprintf("%s subtype: %s", ErrorBlockPrefix, e.Subtype),
		"stop_reason: " + stopReason,
		fmt.Sprintf("num_turns: %d", e.NumTurns),
		fmt.Sprintf("duration: %dms", e.DurationMS),
		"cost: $" + strconv.FormatFloat(e.TotalCostUSD, 'f', -1, 64),
	}
	if len(e.Errors) > 0 {
		lines = append(lines, "errors: "+strings.Join(e.Errors, " | "))
	}
	if len(e.PermissionDenials) > 0 {
		denials := make([]string, 0, len(e.PermissionDenials))
		for _, d := range e.PermissionDenials {
			input := domain.TruncateRunes(compactJSON(d.ToolInput), denialInputLen)
			denials = append(denials, fmt.Sprintf("%s(%s)", d.ToolName, input))
		}
		lines = append(lines, "permission_denied: "+strings.Join(denials, ", "))
	}
	return strings.Join(lines, "\n")
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
