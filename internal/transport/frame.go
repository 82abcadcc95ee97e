// Package transport implements the P2P QUIC endpoint and the in-process
// Message Router that feeds it (spec §4.12). Wire messages are length-
// prefixed JSON frames: a 4-byte big-endian length header followed by the
// JSON-encoded AgentMessage, capped at MaxFrameBytes — the same framing
// shape as quorum-ai/internal/web/sse/handler.go's chunked event writer,
// generalized from SSE text chunks to length-prefixed binary frames because
// QUIC streams carry arbitrary bytes, not a text event stream.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mnemosyne-run/orchestrator/internal/corerr"
)

// DefaultMaxFrameBytes bounds a single frame when the caller does not
// override it via config.TransportConfig.MaxFrameBytes (spec §4.12: 10MiB).
const DefaultMaxFrameBytes = 10 * 1024 * 1024

const frameHeaderLen = 4

// WriteFrame writes payload to w prefixed with its big-endian uint32
// length. Returns an error if payload exceeds maxFrameBytes.
func WriteFrame(w io.Writer, payload []byte, maxFrameBytes int) error {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	if len(payload) > maxFrameBytes {
		return corerr.InvalidOperation(corerr.CodeFrameTooLarge,
			fmt.Sprintf("frame of %d bytes exceeds max %d", len(payload), maxFrameBytes))
	}

	var header [frameHeaderLen]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, rejecting any frame
// whose declared length exceeds maxFrameBytes before allocating a buffer
// for it.
func ReadFrame(r io.Reader, maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if int(length) > maxFrameBytes {
		return nil, corerr.InvalidOperation(corerr.CodeFrameTooLarge,
			fmt.Sprintf("frame of %d bytes exceeds max %d", length, maxFrameBytes))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return payload, nil
}
