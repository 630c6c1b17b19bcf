package redo

import "errors"

// ErrCorrupt indicates a terminator mismatch past what can be treated as an
// unflushed tail: a torn or corrupted record. Surfaced by Database as
// CorruptRedoLog.
var ErrCorrupt = errors.New("redo: corrupt record (terminator mismatch)")

// ErrUnknownOpcode indicates a decoder read a byte that does not match any
// known Opcode. Like ErrCorrupt this signals data past the recoverable
// boundary, except when the decoder is configured lenient and the byte was
// read at the very end of the stream (treated as clean EOF instead).
var ErrUnknownOpcode = errors.New("redo: unknown opcode")
