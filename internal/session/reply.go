package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// parsedReply is a root-model reply resolved to exactly one of a final
// answer or a code snippet to run.
type parsedReply struct {
	Final *string
	Code  string
}

// parseError marks a reply that is neither a recognizable FINAL(...)
// statement nor a fenced code block.
type parseError struct {
	detail string
}

func (e *parseError) Error() string { return e.detail }

var finalPattern = regexp.MustCompile(`(?s)FINAL\((.*)\)\s*$`)
var fencePattern = regexp.MustCompile("(?s)```(?:go)?\\s*\\n(.*?)\\n```")

// parseReply looks for a trailing FINAL(...) call first — the model's
// way of ending the session — and otherwise takes the last fenced code
// block in the reply as the snippet to run. A reply with neither shape
// is rejected; the session loop records that rejection as a
// parse_error observation and gives the model another turn to recover,
// up to max_turns.
func parseReply(text string) (*parsedReply, error) {
	trimmed := strings.TrimSpace(text)

	if m := finalPattern.FindStringSubmatch(trimmed); m != nil {
		answer := unwrapFinalArg(strings.TrimSpace(m[1]))
		return &parsedReply{Final: &answer}, nil
	}

	if matches := fencePattern.FindAllStringSubmatch(trimmed, -1); len(matches) > 0 {
		last := matches[len(matches)-1]
		code := strings.TrimSpace(last[1])
		if code == "" {
			return nil, &parseError{detail: "parse_error: code block is empty"}
		}
		return &parsedReply{Code: code}, nil
	}

	return nil, &parseError{detail: fmt.Sprintf("parse_error: reply contains neither a FINAL(...) answer nor a fenced code block")}
}

// unwrapFinalArg accepts either a quoted Go string literal or bare text
// inside FINAL(...) — the model is not required to quote a
// single-line answer, but a quoted one is unescaped properly.
func unwrapFinalArg(raw string) string {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		if unquoted, err := strconv.Unquote(raw); err == nil {
			return unquoted
		}
	}
	return raw
}
