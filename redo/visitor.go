package redo

// Visitor receives decoded redo records in stream order. Every method
// returns a Signal: Stop aborts decoding of the current record (and, for
// Decoder.Decode, the call) immediately, without decoding any later field
// of a compound opcode.
//
// Compound opcodes fire more than one Visitor method, in the order they
// were encoded: TxnEnterStore calls TxnEnter then TxnStore; TxnStoreCommit
// calls TxnStore then TxnCommit; and so on, stopping as soon as either
// call returns Stop.
//
// TXN_ID_RESET has no corresponding method: per spec it rebases the
// decoder's internal delta counter without any visitor notification.
type Visitor interface {
	Reset() (Signal, error)
	Timestamp(ts int64) (Signal, error)
	Shutdown(ts int64) (Signal, error)
	Close(ts int64) (Signal, error)
	EndFile(ts int64) (Signal, error)
	NopRandom(n int64) (Signal, error)
	TxnEnter(id int64) (Signal, error)
	TxnRollback(id int64) (Signal, error)
	TxnRollbackFinal(id int64) (Signal, error)
	TxnCommit(id int64) (Signal, error)
	TxnCommitFinal(id int64) (Signal, error)
	Store(ix uint64, key, value []byte) (Signal, error)
	StoreNoLock(ix uint64, key, value []byte) (Signal, error)
	Delete(ix uint64, key []byte) (Signal, error)
	DeleteNoLock(ix uint64, key []byte) (Signal, error)
	RenameIndex(id int64, ix uint64, newName []byte) (Signal, error)
	DeleteIndex(id int64, ix uint64) (Signal, error)
	TxnStore(id int64, ix uint64, key, value []byte) (Signal, error)
	TxnDelete(id int64, ix uint64, key []byte) (Signal, error)
	TxnCustom(id int64, msg []byte) (Signal, error)
	TxnCustomLock(id int64, ix uint64, key, msg []byte) (Signal, error)
}

// BaseVisitor implements Visitor with every method returning (Continue,
// nil). Embed it to implement only the callbacks a particular consumer
// cares about.
type BaseVisitor struct{}

func (BaseVisitor) Reset() (Signal, error)                { return Continue, nil }
func (BaseVisitor) Timestamp(int64) (Signal, error)        { return Continue, nil }
func (BaseVisitor) Shutdown(int64) (Signal, error)         { return Continue, nil }
func (BaseVisitor) Close(int64) (Signal, error)            { return Continue, nil }
func (BaseVisitor) EndFile(int64) (Signal, error)          { return Continue, nil }
func (BaseVisitor) NopRandom(int64) (Signal, error)        { return Continue, nil }
func (BaseVisitor) TxnEnter(int64) (Signal, error)         { return Continue, nil }
func (BaseVisitor) TxnRollback(int64) (Signal, error)      { return Continue, nil }
func (BaseVisitor) TxnRollbackFinal(int64) (Signal, error) { return Continue, nil }
func (BaseVisitor) TxnCommit(int64) (Signal, error)        { return Continue, nil }
func (BaseVisitor) TxnCommitFinal(int64) (Signal, error)   { return Continue, nil }

func (BaseVisitor) Store(uint64, []byte, []byte) (Signal, error)       { return Continue, nil }
func (BaseVisitor) StoreNoLock(uint64, []byte, []byte) (Signal, error) { return Continue, nil }
func (BaseVisitor) Delete(uint64, []byte) (Signal, error)              { return Continue, nil }
func (BaseVisitor) DeleteNoLock(uint64, []byte) (Signal, error)        { return Continue, nil }
func (BaseVisitor) RenameIndex(int64, uint64, []byte) (Signal, error)  { return Continue, nil }
func (BaseVisitor) DeleteIndex(int64, uint64) (Signal, error)          { return Continue, nil }

func (BaseVisitor) TxnStore(int64, uint64, []byte, []byte) (Signal, error) {
	return Continue, nil
}

func (BaseVisitor) TxnDelete(int64, uint64, []byte) (Signal, error) { return Continue, nil }
func (BaseVisitor) TxnCustom(int64, []byte) (Signal, error)         { return Continue, nil }

func (BaseVisitor) TxnCustomLock(int64, uint64, []byte, []byte) (Signal, error) {
	return Continue, nil
}

var _ Visitor = BaseVisitor{}
