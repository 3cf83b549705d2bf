//go:build linux

// Command rlm-sandbox-worker is the dedicated child process the
// process sandbox backend spawns once per execution: it reads exactly
// one length-prefixed ExecuteRequest from stdin, runs the snippet, and
// writes exactly one ExecuteResponse to stdout before exiting. All
// diagnostic logging goes to stderr so stdout stays a clean protocol
// channel.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/haasonsaas/rlm/internal/sandbox/protocol"
	"github.com/haasonsaas/rlm/internal/sandbox/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "rlm-sandbox-worker:", err)
		os.Exit(1)
	}
}

func run() error {
	reader := bufio.NewReader(os.Stdin)
	var req protocol.ExecuteRequest
	if err := protocol.ReadFrame(reader, &req); err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	resp, err := worker.Run(context.Background(), &req)
	if err != nil {
		resp = &protocol.ExecuteResponse{ID: req.ID, Error: err.Error()}
	}

	writer := bufio.NewWriter(os.Stdout)
	if err := protocol.WriteFrame(writer, resp); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return writer.Flush()
}
