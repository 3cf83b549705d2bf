package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/rlm/internal/sandbox/protocol"
)

// Process is the default Backend: it spawns cmd/rlm-sandbox-worker as a
// fresh child process per Execute call and speaks protocol over its
// stdin/stdout pipes. Exactly one child is ever live at a time — Close
// guarantees any in-flight child is reaped before returning.
type Process struct {
	workerPath string
	mu         sync.Mutex // serializes Execute; also guards current
	current    *exec.Cmd
	nextID     uint64
}

// NewProcess constructs a process backend. workerPath is the path to a
// built rlm-sandbox-worker binary (resolved via PATH if not absolute).
func NewProcess(workerPath string) *Process {
	if workerPath == "" {
		workerPath = "rlm-sandbox-worker"
	}
	return &Process{workerPath: workerPath}
}

func (p *Process) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := CheckPolicy(req.Source, req); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	path, err := exec.LookPath(p.workerPath)
	if err != nil {
		path = p.workerPath // allow an absolute path that LookPath rejects for non-executables in $PATH
	}

	cmd := exec.CommandContext(ctx, path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: open worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sandbox: open worker stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start worker: %w", err)
	}
	p.current = cmd
	defer func() {
		p.current = nil
	}()

	wireReq := &protocol.ExecuteRequest{
		ID:               atomic.AddUint64(&p.nextID, 1),
		Source:           req.Source,
		InjectedBindings: req.InjectedBindings,
		CaptureNames:     req.CaptureNames,
		AllowedModules:   req.AllowedModules,
		BlockedNames:     req.BlockedNames,
		SecurityMode:     string(req.SecurityMode),
		TimeoutSeconds:   req.TimeoutSeconds,
		MaxMemoryBytes:   req.MaxMemoryBytes,
		MaxOutputChars:   req.MaxOutputChars,
	}

	if err := protocol.WriteFrame(stdin, wireReq); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("sandbox: write request to worker: %w", err)
	}
	_ = stdin.Close()

	var wireResp protocol.ExecuteResponse
	readErr := protocol.ReadFrame(bufio.NewReader(stdout), &wireResp)
	waitErr := cmd.Wait()

	if readErr != nil {
		return &Result{ProtocolError: readErr.Error()}, nil
	}
	_ = waitErr // the worker's own exit status is carried inside wireResp, not the process exit code

	out, outTrunc := truncate(wireResp.Stdout, req.MaxOutputChars)
	errText, errTrunc := truncate(wireResp.Stderr, req.MaxOutputChars)
	captured, capTrunc := truncateCapturedValues(wireResp.CapturedValues, req.MaxOutputChars)

	return &Result{
		Stdout:         out,
		Stderr:         errText,
		CapturedValues: captured,
		ExitCode:       wireResp.ExitCode,
		DurationMillis: wireResp.DurationMillis,
		Timeout:        wireResp.Timeout,
		MemoryExceeded: wireResp.MemoryExceeded,
		Truncated:      wireResp.Truncated || outTrunc || errTrunc || capTrunc,
	}, nil
}

// Close reaps any in-flight worker child. It is safe to call when no
// execution is in progress.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && p.current.Process != nil {
		_ = p.current.Process.Kill()
		_ = p.current.Wait()
		p.current = nil
	}
	return nil
}
