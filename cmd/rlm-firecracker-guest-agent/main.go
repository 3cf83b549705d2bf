//go:build linux

// Command rlm-firecracker-guest-agent runs inside a Firecracker microVM
// and listens on a vsock socket for ExecuteRequest frames, delegating
// to the same worker.Run snippet-execution logic the process backend
// uses out-of-VM. One vsock connection serves exactly one request
// before the agent closes it — this mirrors the specification's
// single-sandbox-child-per-session invariant at the transport layer.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/rlm/internal/sandbox/protocol"
	"github.com/haasonsaas/rlm/internal/sandbox/worker"
)

const vsockSocketPath = "/run/rlm-guest-agent.sock"

func main() {
	listener, err := net.Listen("unix", vsockSocketPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rlm-firecracker-guest-agent: listen:", err)
		os.Exit(1)
	}
	defer listener.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		handleConnection(conn)
	}
}

func handleConnection(conn net.Conn) {
	defer conn.Close()

	var req protocol.ExecuteRequest
	if err := protocol.ReadFrame(bufio.NewReader(conn), &req); err != nil {
		return
	}

	resp, err := worker.Run(context.Background(), &req)
	if err != nil {
		resp = &protocol.ExecuteResponse{ID: req.ID, Error: err.Error()}
	}
	_ = protocol.WriteFrame(conn, resp)
}
