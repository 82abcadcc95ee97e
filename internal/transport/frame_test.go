package transport

import (
	"bytes"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"kind":"heartbeat"}`)
	if err := WriteFrame(&buf, payload, 0); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := ReadFrame(&buf, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestWriteFrameRejectsOversized(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, make([]byte, 100), 10); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	// Write a real frame with maxFrameBytes large enough to succeed, then
	// read it back with a smaller cap that should reject it up front.
	if err := WriteFrame(&buf, make([]byte, 100), 0); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if _, err := ReadFrame(&buf, 10); err == nil {
		t.Fatal("expected error reading an oversized frame")
	}
}
