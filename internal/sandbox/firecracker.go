//go:build linux

package sandbox

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	firecracker "github.com/firecracker-microvm/firecracker-go-sdk"
	"github.com/firecracker-microvm/firecracker-go-sdk/client/models"

	"github.com/haasonsaas/rlm/internal/sandbox/protocol"
)

// GuestAgentVsockPort is the vsock port cmd/rlm-firecracker-guest-agent
// listens on inside the microVM.
const GuestAgentVsockPort = 52

// FirecrackerConfig configures one microVM boot. Unlike the teacher's
// pooled/snapshotting Firecracker backend, this is deliberately
// single-shot: the specification's invariant is at most one sandbox
// child per session, so there is no warm pool to maintain.
type FirecrackerConfig struct {
	KernelImagePath string
	RootFSPath      string
	VCPUCount       int64
	MemSizeMiB      int64
	SocketPath      string
}

// Firecracker is a Backend that boots a fresh microVM per Execute call
// and speaks protocol to its guest agent over a vsock connection.
type Firecracker struct {
	cfg FirecrackerConfig
	mu  sync.Mutex
}

func NewFirecracker(cfg FirecrackerConfig) *Firecracker {
	return &Firecracker{cfg: cfg}
}

func (f *Firecracker) Execute(ctx context.Context, req *Request) (*Result, error) {
	if err := CheckPolicy(req.Source, req); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	firecrackerBin, err := exec.LookPath("firecracker")
	if err != nil {
		return nil, fmt.Errorf("sandbox: firecracker binary not found: %w", err)
	}

	fcConfig := firecracker.Config{
		SocketPath:      f.cfg.SocketPath,
		KernelImagePath: f.cfg.KernelImagePath,
		Drives: []models.Drive{{
			DriveID:      firecracker.String("rootfs"),
			PathOnHost:   firecracker.String(f.cfg.RootFSPath),
			IsRootDevice: firecracker.Bool(true),
			IsReadOnly:   firecracker.Bool(false),
		}},
		MachineCfg: models.MachineConfiguration{
			VcpuCount:  firecracker.Int64(f.cfg.VCPUCount),
			MemSizeMib: firecracker.Int64(f.cfg.MemSizeMiB),
			Smt:        firecracker.Bool(false),
		},
		VsockDevices: []firecracker.VsockDevice{{
			Path: "root.vsock",
			CID:  3,
		}},
	}

	cmd := firecracker.VMCommandBuilder{}.
		WithBin(firecrackerBin).
		WithSocketPath(f.cfg.SocketPath).
		Build(ctx)

	machine, err := firecracker.NewMachine(ctx, fcConfig, firecracker.WithProcessRunner(cmd))
	if err != nil {
		return nil, fmt.Errorf("sandbox: create microVM: %w", err)
	}
	if err := machine.Start(ctx); err != nil {
		return nil, fmt.Errorf("sandbox: start microVM: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = machine.StopVMM()
		_ = stopCtx
	}()

	conn, err := dialVsockWithRetry(ctx, f.cfg.SocketPath, GuestAgentVsockPort)
	if err != nil {
		return &Result{ProtocolError: fmt.Sprintf("vsock dial failed: %v", err)}, nil
	}
	defer conn.Close()

	wireReq := &protocol.ExecuteRequest{
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
	if err := protocol.WriteFrame(conn, wireReq); err != nil {
		return &Result{ProtocolError: err.Error()}, nil
	}

	var wireResp protocol.ExecuteResponse
	if err := protocol.ReadFrame(bufio.NewReader(conn), &wireResp); err != nil {
		return &Result{ProtocolError: err.Error()}, nil
	}

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

func (f *Firecracker) Close() error { return nil }

// dialVsockWithRetry gives the guest agent a short grace period to come
// up after microVM boot before the first connection attempt.
func dialVsockWithRetry(ctx context.Context, socketPath string, port uint32) (net.Conn, error) {
	deadline := time.Now().Add(5 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", fmt.Sprintf("%s_%d", socketPath, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil, lastErr
}
