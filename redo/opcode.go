// Package redo implements the binary redo-operation codec: the encoder and
// decoder for the append-only stream of operations that PageAllocator
// checkpoints and Recovery replay. Wire framing is varint-prefixed fields,
// little-endian integers, and a validated 4-byte per-record terminator
// that detects torn writes.
package redo

// Opcode identifies one kind of redo record. Numeric assignments are
// implementation-defined but must stay stable across versions once a
// stream has been written with them.
type Opcode byte

const (
	OpReset Opcode = iota
	OpTimestamp
	OpShutdown
	OpClose
	OpEndFile
	OpNopRandom
	OpTxnIDReset
	OpTxnEnter
	OpTxnRollback
	OpTxnRollbackFinal
	OpTxnCommit
	OpTxnCommitFinal
	OpStore
	OpStoreNoLock
	OpDelete
	OpDeleteNoLock
	OpRenameIndex
	OpDeleteIndex
	OpTxnEnterStore
	OpTxnStore
	OpTxnStoreCommit
	OpTxnStoreCommitFinal
	OpTxnEnterDelete
	OpTxnDelete
	OpTxnDeleteCommit
	OpTxnDeleteCommitFinal
	OpTxnCustom
	OpTxnCustomLock
)

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}

	return "OpUnknown"
}

var opcodeNames = map[Opcode]string{
	OpReset:                "RESET",
	OpTimestamp:            "TIMESTAMP",
	OpShutdown:             "SHUTDOWN",
	OpClose:                "CLOSE",
	OpEndFile:              "END_FILE",
	OpNopRandom:            "NOP_RANDOM",
	OpTxnIDReset:           "TXN_ID_RESET",
	OpTxnEnter:             "TXN_ENTER",
	OpTxnRollback:          "TXN_ROLLBACK",
	OpTxnRollbackFinal:     "TXN_ROLLBACK_FINAL",
	OpTxnCommit:            "TXN_COMMIT",
	OpTxnCommitFinal:       "TXN_COMMIT_FINAL",
	OpStore:                "STORE",
	OpStoreNoLock:          "STORE_NO_LOCK",
	OpDelete:               "DELETE",
	OpDeleteNoLock:         "DELETE_NO_LOCK",
	OpRenameIndex:          "RENAME_INDEX",
	OpDeleteIndex:          "DELETE_INDEX",
	OpTxnEnterStore:        "TXN_ENTER_STORE",
	OpTxnStore:             "TXN_STORE",
	OpTxnStoreCommit:       "TXN_STORE_COMMIT",
	OpTxnStoreCommitFinal:  "TXN_STORE_COMMIT_FINAL",
	OpTxnEnterDelete:       "TXN_ENTER_DELETE",
	OpTxnDelete:            "TXN_DELETE",
	OpTxnDeleteCommit:      "TXN_DELETE_COMMIT",
	OpTxnDeleteCommitFinal: "TXN_DELETE_COMMIT_FINAL",
	OpTxnCustom:            "TXN_CUSTOM",
	OpTxnCustomLock:        "TXN_CUSTOM_LOCK",
}

// finalOpcodes commit-and-remove their txnId from the decoder's/recovery's
// live set; everything else either doesn't touch the live set or commits
// without removing it (plain TXN_COMMIT keeps the txn live for further
// ops).
var finalOpcodes = map[Opcode]bool{
	OpTxnRollbackFinal:     true,
	OpTxnCommitFinal:       true,
	OpTxnStoreCommitFinal:  true,
	OpTxnDeleteCommitFinal: true,
}

// IsFinal reports whether op commits (or rolls back) and removes the
// transaction from the live set.
func (o Opcode) IsFinal() bool { return finalOpcodes[o] }
