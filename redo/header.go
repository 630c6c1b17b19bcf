package redo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// StreamMagic identifies a ledgerkv redo stream file. It leads the file
// rather than trailing it because a redo stream is read forward, not
// backward.
const StreamMagic = "LDGRKV01"

// StreamVersion is the current redo stream format version.
const StreamVersion uint32 = 1

// ErrBadMagic means a stream's header did not start with StreamMagic.
var ErrBadMagic = errors.New("redo: bad stream magic")

// ErrUnsupportedVersion means a stream's header names a version this
// build does not understand.
var ErrUnsupportedVersion = errors.New("redo: unsupported stream version")

// HeaderSize is the fixed on-disk size of a StreamHeader: magic(8) |
// version(4) | header_nonce(8) | policy(1).
const HeaderSize = 8 + 4 + 8 + 1

// StreamHeader is the fixed-size header every redo stream file opens
// with. Nonce doubles as the TerminatorRandomToken value for streams
// using that policy, so nothing beyond the header itself need be
// persisted to make the terminator policy reproducible on reopen.
type StreamHeader struct {
	Nonce  uint64
	Policy TerminatorPolicy
}

// Token returns the low 32 bits of Nonce, the value a TerminatorRandomToken
// stream's Encoder/Decoder use for every record.
func (h StreamHeader) Token() uint32 { return uint32(h.Nonce) }

// WriteStreamHeader writes a fresh header to w. The terminator policy is
// fixed at stream-open time and recorded here; nothing downstream
// re-derives it from content.
func WriteStreamHeader(w io.Writer, h StreamHeader) error {
	buf := make([]byte, 0, HeaderSize)
	buf = append(buf, StreamMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, StreamVersion)
	buf = binary.LittleEndian.AppendUint64(buf, h.Nonce)
	buf = append(buf, byte(h.Policy))

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("redo: write stream header: %w", err)
	}

	return nil
}

// ReadStreamHeader reads and validates a header from r.
func ReadStreamHeader(r io.Reader) (StreamHeader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return StreamHeader{}, fmt.Errorf("redo: read stream header: %w", err)
	}

	if string(buf[:8]) != StreamMagic {
		return StreamHeader{}, ErrBadMagic
	}

	version := binary.LittleEndian.Uint32(buf[8:12])
	if version != StreamVersion {
		return StreamHeader{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	nonce := binary.LittleEndian.Uint64(buf[12:20])
	policy := TerminatorPolicy(buf[20])

	return StreamHeader{Nonce: nonce, Policy: policy}, nil
}
