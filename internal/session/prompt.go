package session

import (
	"fmt"
	"sort"
	"strings"
)

// renderPrompt builds the next turn's prompt as a pure function of the
// task, the (already-clamped) context text, the enabled tool catalog,
// and a deterministic summary of prior turns. It never includes a
// prior turn's full code — only its tagged observation and a preview
// of stdout/stderr bounded by previewChars — so prompt size grows with
// turn count, not with how much output each turn produced.
func renderPrompt(task, contextText string, toolNames []string, turns []Turn, previewChars int64) string {
	var b strings.Builder

	b.WriteString("Task:\n")
	b.WriteString(task)
	b.WriteString("\n\n")

	if contextText != "" {
		b.WriteString("Context:\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}

	b.WriteString("Available tools: ")
	b.WriteString(strings.Join(toolNames, ", "))
	b.WriteString("\n\n")

	if len(turns) > 0 {
		b.WriteString("Prior turns:\n")
		for i, t := range turns {
			fmt.Fprintf(&b, "Turn %d: %s\n", i+1, summarizeObservation(t.Observation, previewChars))
		}
		b.WriteString("\n")
	}

	b.WriteString("Reply with either a fenced Go code block to run next, or FINAL(\"your answer\") to end the session.\n")
	return b.String()
}

func summarizeObservation(o Observation, previewChars int64) string {
	switch o.Kind {
	case ObsFinal:
		return "final answer given: " + preview(o.Answer, previewChars)
	case ObsCodeResult:
		parts := []string{fmt.Sprintf("code ran, stdout=%q", preview(o.Stdout, previewChars))}
		if o.Stderr != "" {
			parts = append(parts, fmt.Sprintf("stderr=%q", preview(o.Stderr, previewChars)))
		}
		if len(o.CapturedValues) > 0 {
			parts = append(parts, "captured: "+formatCaptured(o.CapturedValues, previewChars))
		}
		if o.Truncated {
			parts = append(parts, "output truncated")
		}
		if len(o.Errors) > 0 {
			parts = append(parts, "tool errors: "+strings.Join(o.Errors, "; "))
		}
		return strings.Join(parts, ", ")
	case ObsTimeout:
		parts := []string{fmt.Sprintf("code timed out, partial stdout=%q", preview(o.Stdout, previewChars))}
		if len(o.CapturedValues) > 0 {
			parts = append(parts, "captured: "+formatCaptured(o.CapturedValues, previewChars))
		}
		return strings.Join(parts, ", ")
	case ObsParseError:
		return "reply could not be parsed: " + o.Detail
	case ObsInternalError:
		return "internal error: " + o.Detail
	default:
		return "unknown observation"
	}
}

// formatCaptured renders captured identifier values as tagged
// name=value pairs, sorted by name so the prompt is deterministic
// regardless of Go's randomized map iteration order.
func formatCaptured(values map[string]string, previewChars int64) string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%q", name, preview(values[name], previewChars)))
	}
	return strings.Join(parts, ", ")
}

func preview(s string, max int64) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if int64(len(runes)) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
