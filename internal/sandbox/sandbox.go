// Package sandbox implements the sandbox isolation contract: one fresh
// child per execution, strict-mode module allow-listing or
// permissive-mode name deny-listing, a watchdog timeout, rlimit-backed
// memory bounds, bounded stdout/stderr capture, and guaranteed child
// reaping. Three Backend implementations share this contract: process
// (local go run via a dedicated worker binary), firecracker (microVM
// isolation), and daytona (remote managed sandbox).
package sandbox

import (
	"context"
	"fmt"
)

// SecurityMode selects the module-policy enforcement style.
type SecurityMode string

const (
	SecurityStrict     SecurityMode = "strict"
	SecurityPermissive SecurityMode = "permissive"
)

// Request is one snippet execution request, backend-agnostic.
type Request struct {
	Source           string
	InjectedBindings map[string]string
	CaptureNames     []string // identifiers to serialize back after execution, per the Values contract
	AllowedModules   []string // strict mode: only these may be imported
	BlockedNames     []string // permissive mode: these identifiers may not appear
	SecurityMode     SecurityMode
	TimeoutSeconds   int
	MaxMemoryBytes   int64
	MaxOutputChars   int
}

// Result is one snippet execution outcome.
type Result struct {
	Stdout         string
	Stderr         string
	CapturedValues map[string]string // keyed by the CaptureNames identifier, bounded per value
	ExitCode       int
	DurationMillis int64
	Timeout        bool
	MemoryExceeded bool
	Truncated      bool
	ProtocolError  string // non-empty marks a worker/transport failure distinct from a user code failure
}

// Backend executes one snippet in isolation and returns its outcome.
// At most one child process/VM/remote sandbox may be live per Backend
// instance at any time — callers must serialize calls to Execute (the
// session loop enforces this naturally since a session has one
// in-flight sandbox execution at a time).
type Backend interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
	Close() error
}

// PolicyViolation marks a snippet rejected before execution because it
// referenced a module or name the current security mode forbids.
type PolicyViolation struct {
	Detail string
}

func (e *PolicyViolation) Error() string { return fmt.Sprintf("policy_denied: %s", e.Detail) }

// truncate caps s at max runes, setting truncated to true if it had to cut.
func truncate(s string, max int) (string, bool) {
	if max <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	return string(runes[:max]), true
}

// truncateCapturedValues bounds each captured value independently, the
// same per-field truncation boundOutput applies to stdout/stderr, so a
// single oversize captured variable cannot blow the turn's output
// budget for everything else in the response.
func truncateCapturedValues(values map[string]string, max int) (map[string]string, bool) {
	if len(values) == 0 {
		return nil, false
	}
	truncated := false
	bounded := make(map[string]string, len(values))
	for k, v := range values {
		bv, t := truncate(v, max)
		bounded[k] = bv
		if t {
			truncated = true
		}
	}
	return bounded, truncated
}
