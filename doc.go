// Package ledgerkv wires the storage and concurrency primitives of this
// module (latch, lockmgr, txn, redo, pagestore, pagestore/alloc,
// pagecrypto, valuestream, mergecursor, recovery) into a single embedded,
// transactional, ordered key-value store.
//
// A [Database] owns one set of named [Index] objects, a shared redo log,
// and the lock manager every [Txn] acquires through. Open a database with
// [Open], start a transaction with [Database.Begin], and read/write
// through the returned [Txn] or the auto-commit [Database.Put]/
// [Database.Delete] shortcuts.
package ledgerkv
