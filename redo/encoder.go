package redo

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder appends redo records to an underlying writer. It is not safe for
// concurrent use; callers serialize writes the way the allocator's dirty
// list is owned by a single flusher at a time.
type Encoder struct {
	w            io.Writer
	policy       TerminatorPolicy
	token        uint32
	runningTxnID int64
	scratch      []byte
}

// NewEncoder creates an Encoder writing to w. token is only used when
// policy is TerminatorRandomToken; pass any fixed per-stream value (callers
// typically draw one from crypto/rand once at stream-create time).
func NewEncoder(w io.Writer, policy TerminatorPolicy, token uint32) *Encoder {
	return &Encoder{w: w, policy: policy, token: token}
}

func (e *Encoder) reset() {
	e.scratch = e.scratch[:0]
}

func (e *Encoder) putOpcode(op Opcode) {
	e.scratch = append(e.scratch, byte(op))
}

func (e *Encoder) putUvarint(v uint64) {
	e.scratch = binary.AppendUvarint(e.scratch, v)
}

func (e *Encoder) putVarint(v int64) {
	e.scratch = binary.AppendVarint(e.scratch, v)
}

func (e *Encoder) putBytes(b []byte) {
	e.putUvarint(uint64(len(b)))
	e.scratch = append(e.scratch, b...)
}

// putTxnID writes id delta-encoded against the running txnId and advances
// the running counter.
func (e *Encoder) putTxnID(id int64) {
	e.putVarint(id - e.runningTxnID)
	e.runningTxnID = id
}

func (e *Encoder) flush(forTxnID int64) error {
	term := terminatorFor(e.policy, e.token, forTxnID)

	var tbuf [4]byte
	putTerminator(tbuf[:], term)

	e.scratch = append(e.scratch, tbuf[:]...)

	if _, err := e.w.Write(e.scratch); err != nil {
		return fmt.Errorf("redo: write record: %w", err)
	}

	return nil
}

func (e *Encoder) Reset() error {
	e.reset()
	e.putOpcode(OpReset)
	e.runningTxnID = 0

	return e.flush(0)
}

func (e *Encoder) Timestamp(ts int64) error  { return e.simpleTs(OpTimestamp, ts) }
func (e *Encoder) Shutdown(ts int64) error   { return e.simpleTs(OpShutdown, ts) }
func (e *Encoder) Close(ts int64) error      { return e.simpleTs(OpClose, ts) }
func (e *Encoder) EndFile(ts int64) error    { return e.simpleTs(OpEndFile, ts) }

func (e *Encoder) simpleTs(op Opcode, ts int64) error {
	e.reset()
	e.putOpcode(op)
	e.putVarint(ts)

	return e.flush(e.runningTxnID)
}

// NopRandom writes n bytes of padding (zero-filled; determinism matters
// more here than unpredictability, unlike the padding's name suggests).
func (e *Encoder) NopRandom(n int64) error {
	e.reset()
	e.putOpcode(OpNopRandom)
	e.putVarint(n)
	e.scratch = append(e.scratch, make([]byte, n)...)

	return e.flush(e.runningTxnID)
}

// TxnIDReset rebases the delta counter to id without notifying any
// visitor; id is written as an absolute (not delta) varint.
func (e *Encoder) TxnIDReset(id int64) error {
	e.reset()
	e.putOpcode(OpTxnIDReset)
	e.putVarint(id)
	e.runningTxnID = id

	return e.flush(id)
}

func (e *Encoder) txnOnly(op Opcode, id int64) error {
	e.reset()
	e.putOpcode(op)
	e.putTxnID(id)

	return e.flush(id)
}

func (e *Encoder) TxnEnter(id int64) error         { return e.txnOnly(OpTxnEnter, id) }
func (e *Encoder) TxnRollback(id int64) error      { return e.txnOnly(OpTxnRollback, id) }
func (e *Encoder) TxnRollbackFinal(id int64) error { return e.txnOnly(OpTxnRollbackFinal, id) }
func (e *Encoder) TxnCommit(id int64) error        { return e.txnOnly(OpTxnCommit, id) }
func (e *Encoder) TxnCommitFinal(id int64) error   { return e.txnOnly(OpTxnCommitFinal, id) }

func (e *Encoder) store(op Opcode, ix uint64, key, value []byte) error {
	e.reset()
	e.putOpcode(op)
	e.putUvarint(ix)
	e.putBytes(key)
	e.putBytes(value)

	return e.flush(e.runningTxnID)
}

func (e *Encoder) Store(ix uint64, key, value []byte) error       { return e.store(OpStore, ix, key, value) }
func (e *Encoder) StoreNoLock(ix uint64, key, value []byte) error { return e.store(OpStoreNoLock, ix, key, value) }

func (e *Encoder) del(op Opcode, ix uint64, key []byte) error {
	e.reset()
	e.putOpcode(op)
	e.putUvarint(ix)
	e.putBytes(key)

	return e.flush(e.runningTxnID)
}

func (e *Encoder) Delete(ix uint64, key []byte) error       { return e.del(OpDelete, ix, key) }
func (e *Encoder) DeleteNoLock(ix uint64, key []byte) error { return e.del(OpDeleteNoLock, ix, key) }

func (e *Encoder) RenameIndex(id int64, ix uint64, newName []byte) error {
	e.reset()
	e.putOpcode(OpRenameIndex)
	e.putTxnID(id)
	e.putUvarint(ix)
	e.putBytes(newName)

	return e.flush(id)
}

func (e *Encoder) DeleteIndex(id int64, ix uint64) error {
	e.reset()
	e.putOpcode(OpDeleteIndex)
	e.putTxnID(id)
	e.putUvarint(ix)

	return e.flush(id)
}

func (e *Encoder) txnStore(op Opcode, id int64, ix uint64, key, value []byte) error {
	e.reset()
	e.putOpcode(op)
	e.putTxnID(id)
	e.putUvarint(ix)
	e.putBytes(key)
	e.putBytes(value)

	return e.flush(id)
}

func (e *Encoder) TxnEnterStore(id int64, ix uint64, key, value []byte) error {
	return e.txnStore(OpTxnEnterStore, id, ix, key, value)
}

func (e *Encoder) TxnStore(id int64, ix uint64, key, value []byte) error {
	return e.txnStore(OpTxnStore, id, ix, key, value)
}

func (e *Encoder) TxnStoreCommit(id int64, ix uint64, key, value []byte) error {
	return e.txnStore(OpTxnStoreCommit, id, ix, key, value)
}

func (e *Encoder) TxnStoreCommitFinal(id int64, ix uint64, key, value []byte) error {
	return e.txnStore(OpTxnStoreCommitFinal, id, ix, key, value)
}

func (e *Encoder) txnDelete(op Opcode, id int64, ix uint64, key []byte) error {
	e.reset()
	e.putOpcode(op)
	e.putTxnID(id)
	e.putUvarint(ix)
	e.putBytes(key)

	return e.flush(id)
}

func (e *Encoder) TxnEnterDelete(id int64, ix uint64, key []byte) error {
	return e.txnDelete(OpTxnEnterDelete, id, ix, key)
}

func (e *Encoder) TxnDelete(id int64, ix uint64, key []byte) error {
	return e.txnDelete(OpTxnDelete, id, ix, key)
}

func (e *Encoder) TxnDeleteCommit(id int64, ix uint64, key []byte) error {
	return e.txnDelete(OpTxnDeleteCommit, id, ix, key)
}

func (e *Encoder) TxnDeleteCommitFinal(id int64, ix uint64, key []byte) error {
	return e.txnDelete(OpTxnDeleteCommitFinal, id, ix, key)
}

func (e *Encoder) TxnCustom(id int64, msg []byte) error {
	e.reset()
	e.putOpcode(OpTxnCustom)
	e.putTxnID(id)
	e.putBytes(msg)

	return e.flush(id)
}

func (e *Encoder) TxnCustomLock(id int64, ix uint64, key, msg []byte) error {
	e.reset()
	e.putOpcode(OpTxnCustomLock)
	e.putTxnID(id)
	e.putUvarint(ix)
	e.putBytes(key)
	e.putBytes(msg)

	return e.flush(id)
}
