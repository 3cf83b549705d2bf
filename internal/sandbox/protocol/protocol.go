// Package protocol defines the length-prefixed JSON wire format shared
// by every sandbox backend: the process backend speaks it over a pipe
// to cmd/rlm-sandbox-worker, and the Firecracker backend speaks the
// identical framing over a vsock connection to
// cmd/rlm-firecracker-guest-agent. One format, two transports.
package protocol

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxMessageSize bounds a single frame; a worker or guest agent that
// tries to send more than this is treated as a protocol_error rather
// than read into memory unbounded.
const MaxMessageSize = 16 * 1024 * 1024

// CaptureDelimiter separates a rendered snippet's own stdout from the
// trailing JSON object of captured identifier values it appends after
// user code finishes running. A worker splits raw stdout on the first
// occurrence of this marker: everything before it is the snippet's
// real stdout, everything after is captured-value JSON.
const CaptureDelimiter = "\x00RLM_CAPTURED_VALUES\x00"

// ExecuteRequest asks the worker to run one rewritten snippet body.
type ExecuteRequest struct {
	ID               uint64            `json:"id"`
	Source           string            `json:"source"`
	InjectedBindings map[string]string `json:"injected_bindings,omitempty"`
	CaptureNames     []string          `json:"capture_names,omitempty"`
	AllowedModules   []string          `json:"allowed_modules,omitempty"`
	BlockedNames     []string          `json:"blocked_names,omitempty"`
	SecurityMode     string            `json:"security_mode"`
	TimeoutSeconds   int               `json:"timeout_seconds"`
	MaxMemoryBytes   int64             `json:"max_memory_bytes"`
	MaxOutputChars   int               `json:"max_output_chars"`
}

// ExecuteResponse is the worker's reply to one ExecuteRequest.
type ExecuteResponse struct {
	ID             uint64            `json:"id"`
	Success        bool              `json:"success"`
	Stdout         string            `json:"stdout"`
	Stderr         string            `json:"stderr"`
	CapturedValues map[string]string `json:"captured_values,omitempty"`
	ExitCode       int               `json:"exit_code"`
	Error          string            `json:"error,omitempty"`
	Timeout        bool              `json:"timeout,omitempty"`
	MemoryExceeded bool              `json:"memory_exceeded,omitempty"`
	Truncated      bool              `json:"truncated,omitempty"`
	DurationMillis int64             `json:"duration_ms"`
}

// WriteFrame writes a 4-byte little-endian length prefix followed by
// the JSON encoding of v.
func WriteFrame(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}
	if len(data) > MaxMessageSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds max %d", len(data), MaxMessageSize)
	}
	var lengthBuf [4]byte
	binary.LittleEndian.PutUint32(lengthBuf[:], uint32(len(data)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("protocol: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and unmarshals it into v.
func ReadFrame(r *bufio.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err // io.EOF propagates to the caller on clean close
	}
	length := binary.LittleEndian.Uint32(lengthBuf[:])
	if length > MaxMessageSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds max %d", length, MaxMessageSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("protocol: read frame body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	return nil
}
