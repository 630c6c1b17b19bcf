package redo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decoder reads redo records from an underlying reader and dispatches them
// onto a Visitor. It is not safe for concurrent use.
type Decoder struct {
	r            *bufio.Reader
	policy       TerminatorPolicy
	token        uint32
	lenient      bool
	runningTxnID int64
}

// NewDecoder creates a Decoder reading from r. policy/token must match
// whatever the stream was opened with (recorded in its header); if lenient
// is true, a terminator matching either policy is accepted, which lets a
// reader tolerate a stream whose terminator policy it wasn't told in
// advance (e.g. a replication consumer reading a log-mode file).
func NewDecoder(r io.Reader, policy TerminatorPolicy, token uint32, lenient bool) *Decoder {
	return &Decoder{r: bufio.NewReader(r), policy: policy, token: token, lenient: lenient}
}

// truncated reports whether err indicates the stream ended before a full
// field could be read - the "unflushed tail" case that must be treated as
// clean EOF, not corruption.
func truncated(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (d *Decoder) readVarint() (int64, error) {
	v, err := binary.ReadVarint(d.r)
	if err != nil {
		if truncated(err) {
			return 0, io.EOF
		}

		return 0, err
	}

	return v, nil
}

func (d *Decoder) readUvarint() (uint64, error) {
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		if truncated(err) {
			return 0, io.EOF
		}

		return 0, err
	}

	return v, nil
}

func (d *Decoder) readBytes() ([]byte, error) {
	n, err := d.readUvarint()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		if truncated(err) {
			return nil, io.EOF
		}

		return nil, err
	}

	return buf, nil
}

func (d *Decoder) readTxnID() (int64, error) {
	delta, err := d.readVarint()
	if err != nil {
		return 0, err
	}

	return d.runningTxnID + delta, nil
}

func (d *Decoder) checkTerminator(forTxnID int64) error {
	var buf [4]byte

	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		if truncated(err) {
			return io.EOF
		}

		return err
	}

	got := getTerminator(buf[:])
	want := terminatorFor(d.policy, d.token, forTxnID)

	if got == want {
		return nil
	}

	if d.lenient {
		altPolicy := TerminatorRandomToken
		if d.policy == TerminatorRandomToken {
			altPolicy = TerminatorTxnIDHash
		}

		if got == terminatorFor(altPolicy, d.token, forTxnID) {
			return nil
		}
	}

	return fmt.Errorf("%w: got=%x want=%x", ErrCorrupt, got, want)
}

// Decode reads and dispatches exactly one record. It returns io.EOF (not
// wrapped) when the stream ends cleanly, whether at a record boundary or
// mid-record (an unflushed tail); callers should stop looping without
// treating that as corruption. ErrCorrupt is returned only for a
// terminator that does not match any accepted policy.
func (d *Decoder) Decode(v Visitor) (Signal, error) {
	opByte, err := d.r.ReadByte()
	if err != nil {
		return Continue, io.EOF
	}

	op := Opcode(opByte)

	switch op {
	case OpReset:
		if err := d.checkTerminator(0); err != nil {
			return Continue, err
		}

		d.runningTxnID = 0

		return v.Reset()

	case OpTimestamp, OpShutdown, OpClose, OpEndFile:
		ts, err := d.readVarint()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(d.runningTxnID); err != nil {
			return Continue, err
		}

		switch op {
		case OpTimestamp:
			return v.Timestamp(ts)
		case OpShutdown:
			return v.Shutdown(ts)
		case OpClose:
			return v.Close(ts)
		default:
			return v.EndFile(ts)
		}

	case OpNopRandom:
		n, err := d.readVarint()
		if err != nil {
			return Continue, err
		}

		pad := make([]byte, n)
		if _, err := io.ReadFull(d.r, pad); err != nil {
			if truncated(err) {
				return Continue, io.EOF
			}

			return Continue, err
		}

		if err := d.checkTerminator(d.runningTxnID); err != nil {
			return Continue, err
		}

		return v.NopRandom(n)

	case OpTxnIDReset:
		id, err := d.readVarint()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return Continue, nil

	case OpTxnEnter, OpTxnRollback, OpTxnRollbackFinal, OpTxnCommit, OpTxnCommitFinal:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		switch op {
		case OpTxnEnter:
			return v.TxnEnter(id)
		case OpTxnRollback:
			return v.TxnRollback(id)
		case OpTxnRollbackFinal:
			return v.TxnRollbackFinal(id)
		case OpTxnCommit:
			return v.TxnCommit(id)
		default:
			return v.TxnCommitFinal(id)
		}

	case OpStore, OpStoreNoLock, OpDelete, OpDeleteNoLock:
		ix, err := d.readUvarint()
		if err != nil {
			return Continue, err
		}

		key, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		var value []byte
		if op == OpStore || op == OpStoreNoLock {
			value, err = d.readBytes()
			if err != nil {
				return Continue, err
			}
		}

		if err := d.checkTerminator(d.runningTxnID); err != nil {
			return Continue, err
		}

		switch op {
		case OpStore:
			return v.Store(ix, key, value)
		case OpStoreNoLock:
			return v.StoreNoLock(ix, key, value)
		case OpDelete:
			return v.Delete(ix, key)
		default:
			return v.DeleteNoLock(ix, key)
		}

	case OpRenameIndex:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		ix, err := d.readUvarint()
		if err != nil {
			return Continue, err
		}

		newName, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return v.RenameIndex(id, ix, newName)

	case OpDeleteIndex:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		ix, err := d.readUvarint()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return v.DeleteIndex(id, ix)

	case OpTxnEnterStore, OpTxnStore, OpTxnStoreCommit, OpTxnStoreCommitFinal:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		ix, err := d.readUvarint()
		if err != nil {
			return Continue, err
		}

		key, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		value, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return d.dispatchTxnStore(v, op, id, ix, key, value)

	case OpTxnEnterDelete, OpTxnDelete, OpTxnDeleteCommit, OpTxnDeleteCommitFinal:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		ix, err := d.readUvarint()
		if err != nil {
			return Continue, err
		}

		key, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return d.dispatchTxnDelete(v, op, id, ix, key)

	case OpTxnCustom:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		msg, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return v.TxnCustom(id, msg)

	case OpTxnCustomLock:
		id, err := d.readTxnID()
		if err != nil {
			return Continue, err
		}

		ix, err := d.readUvarint()
		if err != nil {
			return Continue, err
		}

		key, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		msg, err := d.readBytes()
		if err != nil {
			return Continue, err
		}

		if err := d.checkTerminator(id); err != nil {
			return Continue, err
		}

		d.runningTxnID = id

		return v.TxnCustomLock(id, ix, key, msg)

	default:
		return Continue, fmt.Errorf("%w: %#x", ErrUnknownOpcode, opByte)
	}
}

func (d *Decoder) dispatchTxnStore(v Visitor, op Opcode, id int64, ix uint64, key, value []byte) (Signal, error) {
	if op == OpTxnEnterStore {
		sig, err := v.TxnEnter(id)
		if err != nil || sig == Stop {
			return sig, err
		}
	}

	sig, err := v.TxnStore(id, ix, key, value)
	if err != nil || sig == Stop {
		return sig, err
	}

	switch op {
	case OpTxnStoreCommit:
		return v.TxnCommit(id)
	case OpTxnStoreCommitFinal:
		return v.TxnCommitFinal(id)
	default:
		return Continue, nil
	}
}

func (d *Decoder) dispatchTxnDelete(v Visitor, op Opcode, id int64, ix uint64, key []byte) (Signal, error) {
	if op == OpTxnEnterDelete {
		sig, err := v.TxnEnter(id)
		if err != nil || sig == Stop {
			return sig, err
		}
	}

	sig, err := v.TxnDelete(id, ix, key)
	if err != nil || sig == Stop {
		return sig, err
	}

	switch op {
	case OpTxnDeleteCommit:
		return v.TxnCommit(id)
	case OpTxnDeleteCommitFinal:
		return v.TxnCommitFinal(id)
	default:
		return Continue, nil
	}
}

// DecodeAll decodes records until a clean EOF, an error, or the visitor
// returns Stop.
func (d *Decoder) DecodeAll(v Visitor) error {
	for {
		sig, err := d.Decode(v)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		if sig == Stop {
			return nil
		}
	}
}
