package redo

import "encoding/binary"

// TerminatorPolicy selects how the 4-byte per-record terminator is
// computed. The policy is fixed at stream-open time and recorded in the
// stream header; this package never infers it from content.
type TerminatorPolicy int

const (
	// TerminatorRandomToken uses one fixed random token for every record
	// in the stream (log-file mode).
	TerminatorRandomToken TerminatorPolicy = iota
	// TerminatorTxnIDHash uses the low 32 bits of a mixing hash of the
	// record's running txnId (replication mode), so a corrupt record can
	// be cross-checked against the txnId it claims to belong to.
	TerminatorTxnIDHash
)

// mixTxnID is a small, fixed avalanche mix (splitmix64-style finalizer)
// used only to turn a running txnId into a terminator value; it has no
// cryptographic purpose.
func mixTxnID(id int64) uint32 {
	x := uint64(id)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33

	return uint32(x)
}

func terminatorFor(policy TerminatorPolicy, token uint32, runningTxnID int64) uint32 {
	switch policy {
	case TerminatorTxnIDHash:
		return mixTxnID(runningTxnID)
	default:
		return token
	}
}

func putTerminator(buf []byte, v uint32) {
	binary.LittleEndian.PutUint32(buf, v)
}

func getTerminator(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}
