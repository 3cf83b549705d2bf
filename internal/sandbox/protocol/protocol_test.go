package protocol

import (
	"bufio"
	"bytes"
	"reflect"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := ExecuteRequest{
		ID:             7,
		Source:         "x := 1",
		CaptureNames:   []string{"x"},
		SecurityMode:   "strict",
		TimeoutSeconds: 5,
	}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out ExecuteRequest
	if err := ReadFrame(bufio.NewReader(&buf), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(out, req) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, req)
	}
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	lengthBuf := [4]byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(lengthBuf[:])
	var out ExecuteRequest
	if err := ReadFrame(bufio.NewReader(&buf), &out); err == nil {
		t.Fatalf("expected error for oversize length prefix")
	}
}
