package ledgerkv

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"github.com/ledgerkv/ledgerkv/internal/workerpool"
	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/pagecrypto"
	"github.com/ledgerkv/ledgerkv/pagestore"
	"github.com/ledgerkv/ledgerkv/pagestore/alloc"
	"github.com/ledgerkv/ledgerkv/pkg/fs"
	"github.com/ledgerkv/ledgerkv/recovery"
	"github.com/ledgerkv/ledgerkv/redo"
	"github.com/ledgerkv/ledgerkv/txn"
)

const (
	dataFileName     = "data.pages"
	redoFileName     = "redo.log"
	lockFileName     = "LOCK"
	manifestFileName = "MANIFEST.json"
	primerFileName   = "primer.json"

	// catalogPageID is the single fixed page the index directory (id ->
	// name) is snapshotted to on every Checkpoint. It is never handed out
	// by the allocator (nothing in this module calls AllocPage, since the
	// B-tree node layer that would is out of scope), so reusing the first
	// data page id here cannot collide with anything.
	catalogPageID = pagestore.PageID(pagestore.HeaderPageCount)

	// keyHeaderPageID is the page pagecrypto bootstraps the data key
	// through. Encrypted databases only.
	keyHeaderPageID = pagestore.PageID(0)
)

// Database is an embedded, transactional, ordered key-value store: one set
// of named [Index] objects, a shared redo log every mutation is durably
// recorded to before it is applied, and the lock manager every [Txn]
// acquires through. It is the wiring point for every other package in this
// module (latch via lockmgr/txn, lockmgr, txn, redo, pagestore,
// pagestore/alloc, pagecrypto, recovery): none of those packages know
// about Database; Database is the only thing that knows about all of them.
type Database struct {
	cfg  Config
	fsys fs.FS

	fileLock *fs.Lock

	arr       pagestore.Array
	crypto    *pagecrypto.Crypto
	allocator *alloc.Allocator
	catalog   *alloc.Node

	checkpointPool *workerpool.Pool
	checkpointStop chan struct{}
	checkpointWG   sync.WaitGroup

	ckptMu         sync.Mutex
	lastCheckpoint time.Time

	lockmgr *lockmgr.Manager

	redoFile fs.File
	redoBuf  *bufio.Writer
	redoEnc  *redo.Encoder
	redoMu   sync.Mutex

	mu          sync.RWMutex
	indexes     map[uint64]*Index
	byName      map[string]uint64
	nextIndexID uint64

	nextTxnID    int64
	nextLockerID uint64

	closed bool
}

// Open opens (creating if necessary) a database rooted at cfg.Dir,
// replaying its redo log to reconstruct index state before returning.
func Open(cfg Config) (*Database, error) {
	const op = "Open"

	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, wrap(err, withOp(op))
	}

	fsys := fs.NewReal()

	if err := fsys.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, wrap(fmt.Errorf("%w: mkdir %s: %w", ErrIllegalState, cfg.Dir, err), withOp(op))
	}

	lock, err := fs.NewLocker(fsys).TryLock(filepath.Join(cfg.Dir, lockFileName))
	if err != nil {
		return nil, wrap(fmt.Errorf("%w: database directory %s is already open: %w", ErrIllegalState, cfg.Dir, err), withOp(op))
	}

	db := &Database{
		cfg:      cfg,
		fsys:     fsys,
		fileLock: lock,
		lockmgr:  lockmgr.NewManager(cfg.rule()),
		indexes:  make(map[uint64]*Index),
		byName:   make(map[string]uint64),
	}

	if err := db.writeOrValidateManifest(); err != nil {
		_ = lock.Close()

		return nil, wrap(err, withOp(op))
	}

	if err := db.openStorage(); err != nil {
		_ = lock.Close()

		return nil, wrap(err, withOp(op))
	}

	if err := db.openRedo(); err != nil {
		_ = db.arr.Close(err)
		_ = lock.Close()

		return nil, wrap(err, withOp(op))
	}

	if err := db.recoverFromRedo(); err != nil {
		_ = db.redoFile.Close()
		_ = db.arr.Close(err)
		_ = lock.Close()

		return nil, wrap(err, withOp(op))
	}

	db.checkpointPool = workerpool.New(cfg.CheckpointWorkers)
	db.lastCheckpoint = time.Now()

	if cfg.CachePriming {
		db.primeCache()
	}

	if rate := cfg.checkpointRate(); rate > 0 {
		db.startCheckpointer(rate)
	}

	return db, nil
}

// primeCache pre-reads every page the previous clean shutdown recorded in
// the priming set, warming the OS page cache (and, for an encrypted
// database, the decryption path) before the first transaction runs.
// Priming is advisory: a missing or stale primer file, or a page that no
// longer reads, is silently skipped.
func (db *Database) primeCache() {
	raw, err := db.fsys.ReadFile(filepath.Join(db.cfg.Dir, primerFileName))
	if err != nil {
		return
	}

	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return
	}

	buf := make([]byte, db.cfg.PageSize)

	for _, id := range ids {
		_ = db.arr.ReadPage(pagestore.PageID(id), buf, 0)
	}
}

// writePrimer records the priming set (every allocated page id, capped
// at MaxCacheSize/PageSize entries) on clean shutdown, using the same
// write-sync-rename sequence the manifest uses so a crash mid-write
// leaves the previous primer (or none) behind, never a torn one.
func (db *Database) writePrimer() error {
	count, err := db.arr.PageCount()
	if err != nil {
		return err
	}

	if limit := db.cfg.primingPageLimit(); limit > 0 && count > limit {
		count = limit
	}

	ids := make([]int64, 0, count)
	for id := int64(0); id < count; id++ {
		ids = append(ids, id)
	}

	buf, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	w := fs.NewAtomicWriter(db.fsys)

	return w.Write(filepath.Join(db.cfg.Dir, primerFileName), bytes.NewReader(buf), fs.AtomicWriteOptions{SyncDir: true, Perm: 0o640})
}

// startCheckpointer runs the background checkpoint trigger: every rate it
// wakes and checkpoints if the dirty list has reached the configured size
// threshold, or if the delay threshold has elapsed since the last
// checkpoint with any page still dirty.
func (db *Database) startCheckpointer(rate time.Duration) {
	db.checkpointStop = make(chan struct{})
	db.checkpointWG.Add(1)

	go func() {
		defer db.checkpointWG.Done()

		ticker := time.NewTicker(rate)
		defer ticker.Stop()

		for {
			select {
			case <-db.checkpointStop:
				return
			case <-ticker.C:
				if db.checkpointDue() {
					_ = db.Checkpoint()
				}
			}
		}
	}()
}

func (db *Database) checkpointDue() bool {
	dirty := db.allocator.DirtyCount()
	if dirty == 0 {
		return false
	}

	if dirty >= db.cfg.CheckpointSizeThreshold {
		return true
	}

	if delay := db.cfg.checkpointDelayThreshold(); delay > 0 {
		db.ckptMu.Lock()
		last := db.lastCheckpoint
		db.ckptMu.Unlock()

		if time.Since(last) >= delay {
			return true
		}
	}

	return false
}

// openStorage opens the page array (wrapping it in pagecrypto if
// cfg.Encrypted) and the allocator/catalog node that sit above it.
func (db *Database) openStorage() error {
	arrPath := filepath.Join(db.cfg.Dir, dataFileName)

	arr, err := pagestore.OpenFileArray(db.fsys, arrPath, db.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("open page array: %w", err)
	}

	pageCount, err := arr.PageCount()
	if err != nil {
		return fmt.Errorf("page count: %w", err)
	}

	var store pagestore.Array = arr

	if db.cfg.Encrypted {
		rootKey, err := hex.DecodeString(db.cfg.RootKeyHex)
		if err != nil {
			return fmt.Errorf("%w: root_key_hex: %w", ErrIllegalArgument, err)
		}

		crypto, err := pagecrypto.New(rootKey)
		if err != nil {
			return fmt.Errorf("init crypto: %w", err)
		}

		db.crypto = crypto

		enc := pagecrypto.NewEncryptedArray(arr, crypto)
		store = enc

		if err := db.bootstrapKeyHeader(enc, pageCount); err != nil {
			return err
		}
	}

	db.arr = store
	db.allocator = alloc.New(store)
	db.catalog = &alloc.Node{ID: catalogPageID, Data: make([]byte, db.cfg.PageSize)}

	return nil
}

// bootstrapKeyHeader either generates a fresh data key (new database,
// first call to EncryptHeaderPage via WritePage) or recovers the existing
// one from the header page written by a previous Open (DecryptHeaderPage,
// triggered by ReadPage).
func (db *Database) bootstrapKeyHeader(enc *pagecrypto.EncryptedArray, pageCount int64) error {
	buf := make([]byte, db.cfg.PageSize)

	if pageCount > int64(keyHeaderPageID) {
		return enc.ReadPage(keyHeaderPageID, buf, 0)
	}

	return enc.WritePage(keyHeaderPageID, buf, 0)
}

// manifest is the small durable record of the on-disk layout a database
// directory was created with, so a later Open against the same directory
// can reject a mismatched PageSize/Encrypted before touching the page
// array or redo log.
type manifest struct {
	PageSize  int  `json:"page_size"`
	Encrypted bool `json:"encrypted"`
}

// writeOrValidateManifest writes MANIFEST.json the first time a directory
// is opened, or validates cfg against the manifest an earlier Open wrote.
// The write goes through natefinch/atomic: build the full contents
// in memory, then atomic.WriteFile temp-file-and-renames it into place, so
// a crash mid-write can never leave a half-written manifest behind.
func (db *Database) writeOrValidateManifest() error {
	path := filepath.Join(db.cfg.Dir, manifestFileName)

	existed, err := db.fsys.Exists(path)
	if err != nil {
		return fmt.Errorf("stat manifest: %w", err)
	}

	if !existed {
		buf, err := json.Marshal(manifest{PageSize: db.cfg.PageSize, Encrypted: db.cfg.Encrypted})
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}

		if err := atomic.WriteFile(path, bytes.NewReader(buf)); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}

		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("%w: corrupt manifest: %w", ErrIllegalState, err)
	}

	if m.PageSize != db.cfg.PageSize {
		return fmt.Errorf("%w: database at %s was created with page_size %d, got %d", ErrIllegalArgument, db.cfg.Dir, m.PageSize, db.cfg.PageSize)
	}

	if m.Encrypted != db.cfg.Encrypted {
		return fmt.Errorf("%w: database at %s was created with encrypted=%v, got %v", ErrIllegalArgument, db.cfg.Dir, m.Encrypted, db.cfg.Encrypted)
	}

	return nil
}

// openRedo opens the redo log, writing a fresh StreamHeader for a new
// database or validating an existing one, and leaves the write handle
// positioned for append.
func (db *Database) openRedo() error {
	redoPath := filepath.Join(db.cfg.Dir, redoFileName)

	existed, err := db.fsys.Exists(redoPath)
	if err != nil {
		return fmt.Errorf("stat redo log: %w", err)
	}

	f, err := db.fsys.OpenFile(redoPath, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("open redo log: %w", err)
	}

	var hdr redo.StreamHeader

	if existed {
		hdr, err = redo.ReadStreamHeader(f)
		if err != nil {
			_ = f.Close()

			return fmt.Errorf("%w: %w", ErrCorruptRedoLog, err)
		}
	} else {
		var nonceBuf [8]byte
		if _, err := rand.Read(nonceBuf[:]); err != nil {
			_ = f.Close()

			return fmt.Errorf("generate stream nonce: %w", err)
		}

		hdr = redo.StreamHeader{Nonce: binary.LittleEndian.Uint64(nonceBuf[:]), Policy: db.cfg.terminatorPolicy()}

		if err := redo.WriteStreamHeader(f, hdr); err != nil {
			_ = f.Close()

			return err
		}
	}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()

		return fmt.Errorf("seek redo log: %w", err)
	}

	db.redoFile = f
	db.redoBuf = bufio.NewWriter(f)
	db.redoEnc = redo.NewEncoder(db.redoBuf, hdr.Policy, hdr.Token())

	return nil
}

// recoverFromRedo replays every record already in the log before Open
// returns, reconstructing index content and the index directory via
// Database's own recovery.IndexResolver/IndexAdmin implementations.
func (db *Database) recoverFromRedo() error {
	redoPath := filepath.Join(db.cfg.Dir, redoFileName)

	r, err := db.fsys.Open(redoPath)
	if err != nil {
		return fmt.Errorf("reopen redo log for replay: %w", err)
	}
	defer r.Close()

	hdr, err := redo.ReadStreamHeader(r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptRedoLog, err)
	}

	rec := recovery.New(db.lockmgr, db, db.cfg.RecoveryWorkers, db.cfg.lockTimeout(), db.cfg.LenientRecovery)
	defer rec.Close()

	if err := rec.Replay(context.Background(), r, hdr.Policy, hdr.Token()); err != nil {
		return fmt.Errorf("replay redo log: %w", err)
	}

	db.dirtyCatalogLocked()

	return nil
}

// Close flushes and releases every resource Open acquired. A second call
// returns an ErrIllegalState error.
func (db *Database) Close() error {
	const op = "Database.Close"

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()

		return wrap(fmt.Errorf("%w: database already closed", ErrIllegalState), withOp(op))
	}

	db.closed = true
	db.mu.Unlock()

	if db.checkpointStop != nil {
		close(db.checkpointStop)
		db.checkpointWG.Wait()
	}

	var errs []error

	if err := db.Checkpoint(); err != nil {
		errs = append(errs, err)
	}

	if db.cfg.CachePriming {
		if err := db.writePrimer(); err != nil {
			errs = append(errs, err)
		}
	}

	db.redoMu.Lock()
	if err := db.redoBuf.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := db.redoFile.Sync(); err != nil {
		errs = append(errs, err)
	}
	if err := db.redoFile.Close(); err != nil {
		errs = append(errs, err)
	}
	db.redoMu.Unlock()

	db.checkpointPool.Close()

	if err := db.arr.Close(nil); err != nil {
		errs = append(errs, err)
	}

	if err := db.fileLock.Close(); err != nil {
		errs = append(errs, err)
	}

	for _, err := range errs {
		if err != nil {
			return wrap(err, withOp(op))
		}
	}

	return nil
}

// Begin starts a new transaction. ctx bounds every lock wait the returned
// Txn performs; pass context.Background() for the configured lock timeout
// to be the only bound.
func (db *Database) Begin(ctx context.Context) *Txn {
	db.mu.Lock()
	db.nextTxnID++
	id := db.nextTxnID
	db.nextLockerID++
	lockerID := lockmgr.LockerID(db.nextLockerID)
	db.mu.Unlock()

	locker := txn.NewLocker(db.lockmgr, lockerID, lockmgr.Shared, db.cfg.lockTimeout())
	locker.ScopeEnter()

	return &Txn{db: db, ctx: ctx, id: id, locker: locker}
}

// newScopeID reserves an id for a structural (non-transactional) redo
// record; RenameIndex/DeleteIndex still carry a delta-encoded id even
// though they are not bracketed by TxnEnter/TxnCommit.
func (db *Database) newScopeID() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.nextTxnID++

	return db.nextTxnID
}

// indexByID is the unexported lookup Txn uses directly.
func (db *Database) indexByID(id uint64) (*Index, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	idx, ok := db.indexes[id]

	return idx, ok
}

// IndexByID returns the index with the given id, per §6's Database API.
func (db *Database) IndexByID(id uint64) (*Index, bool) { return db.indexByID(id) }

// IndexByName returns the index currently registered under name.
func (db *Database) IndexByName(name []byte) (*Index, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	id, ok := db.byName[string(name)]
	if !ok {
		return nil, false
	}

	return db.indexes[id], true
}

// CreateIndex allocates a fresh index id, durably assigns it name via a
// RENAME_INDEX redo record (there is no dedicated CREATE_INDEX opcode;
// an index comes into being the same way it is later renamed, see
// applyRenameIndex), and returns the live Index.
func (db *Database) CreateIndex(name string) (*Index, error) {
	const op = "Database.CreateIndex"

	db.mu.Lock()
	if _, exists := db.byName[name]; exists {
		db.mu.Unlock()

		return nil, wrap(fmt.Errorf("%w: index %q already exists", ErrIllegalArgument, name), withOp(op))
	}

	db.nextIndexID++
	id := db.nextIndexID
	db.mu.Unlock()

	if err := db.writeRedo(func(enc *redo.Encoder) error {
		return enc.RenameIndex(db.newScopeID(), id, []byte(name))
	}); err != nil {
		return nil, wrap(err, withOp(op), withIndexID(id))
	}

	if err := db.applyRenameIndex(id, name); err != nil {
		return nil, wrap(err, withOp(op), withIndexID(id))
	}

	idx, _ := db.indexByID(id)

	return idx, nil
}

// Rename durably renames an existing index.
func (db *Database) Rename(ix uint64, newName string) error {
	const op = "Database.Rename"

	if err := db.writeRedo(func(enc *redo.Encoder) error {
		return enc.RenameIndex(db.newScopeID(), ix, []byte(newName))
	}); err != nil {
		return wrap(err, withOp(op), withIndexID(ix))
	}

	return wrap(db.applyRenameIndex(ix, newName), withOp(op), withIndexID(ix))
}

// Drop durably deletes an index and its content.
func (db *Database) Drop(ix uint64) error {
	const op = "Database.Drop"

	if err := db.writeRedo(func(enc *redo.Encoder) error {
		return enc.DeleteIndex(db.newScopeID(), ix)
	}); err != nil {
		return wrap(err, withOp(op), withIndexID(ix))
	}

	return wrap(db.applyDeleteIndex(ix), withOp(op), withIndexID(ix))
}

// RenameIndex satisfies recovery.IndexAdmin: applied directly during
// replay, never writing a new redo record (the record driving this call
// is the one currently being replayed).
func (db *Database) RenameIndex(ix uint64, newName []byte) error {
	return db.applyRenameIndex(ix, string(newName))
}

// DeleteIndex satisfies recovery.IndexAdmin.
func (db *Database) DeleteIndex(ix uint64) error {
	return db.applyDeleteIndex(ix)
}

// Resolve satisfies recovery.IndexResolver.
func (db *Database) Resolve(ix uint64) (recovery.Index, bool) {
	idx, ok := db.indexByID(ix)
	if !ok {
		return nil, false
	}

	return idx, true
}

// applyRenameIndex creates ix if it is not yet live (assigning it name for
// the first time IS creation, in the absence of a dedicated opcode), or
// renames it if it already exists.
func (db *Database) applyRenameIndex(ix uint64, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if other, exists := db.byName[name]; exists && other != ix {
		return fmt.Errorf("%w: index name %q already in use", ErrIllegalArgument, name)
	}

	idx, ok := db.indexes[ix]
	if !ok {
		idx = newIndex(ix, name)
		db.indexes[ix] = idx
	} else {
		delete(db.byName, idx.Name())
		idx.setName(name)
	}

	db.byName[name] = ix

	if ix > db.nextIndexID {
		db.nextIndexID = ix
	}

	db.dirtyCatalogLocked()

	return nil
}

func (db *Database) applyDeleteIndex(ix uint64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	idx, ok := db.indexes[ix]
	if !ok {
		return nil
	}

	delete(db.indexes, ix)
	delete(db.byName, idx.Name())
	db.dirtyCatalogLocked()

	return nil
}

// catalogEntry is the JSON-encoded shape of one index directory entry
// snapshotted to the catalog page.
type catalogEntry struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// dirtyCatalogLocked re-encodes the current index directory into the
// catalog node and marks it dirty, so the next Checkpoint writes it
// through the allocator/page array. Called with db.mu held.
//
// The catalog page is a bounded, single-page snapshot: a stand-in for
// what a real B-tree catalog root would persist across as many pages as
// needed (that mechanism is out of scope here). Recovery
// never reads this page back; it exists purely to give the allocator and
// page array real checkpoint traffic to flush, the way the rest of this
// module exercises every other component.
func (db *Database) dirtyCatalogLocked() {
	entries := make([]catalogEntry, 0, len(db.indexes))
	for id, idx := range db.indexes {
		entries = append(entries, catalogEntry{ID: id, Name: idx.Name()})
	}

	encoded, err := json.Marshal(entries)
	if err != nil || len(encoded) > len(db.catalog.Data) {
		return
	}

	for i := range db.catalog.Data {
		db.catalog.Data[i] = 0
	}

	copy(db.catalog.Data, encoded)

	db.allocator.Dirty(db.catalog)
}

// writeRedo serializes access to the shared redo encoder and applies
// cfg.DurabilityMode's flush/sync policy after fn appends its record(s).
func (db *Database) writeRedo(fn func(enc *redo.Encoder) error) error {
	db.redoMu.Lock()
	defer db.redoMu.Unlock()

	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()

	if closed {
		return fmt.Errorf("%w: database is closed", ErrIllegalState)
	}

	if db.cfg.DurabilityMode == "noredo" {
		return nil
	}

	if err := fn(db.redoEnc); err != nil {
		return classify(err)
	}

	if db.cfg.DurabilityMode != "noflush" {
		if err := db.redoBuf.Flush(); err != nil {
			return err
		}
	}

	if db.cfg.DurabilityMode == "sync" {
		if err := db.redoFile.Sync(); err != nil {
			return err
		}
	}

	return nil
}

// Get reads key's current value from index ix, auto-committing (no Txn
// needed for a single read).
func (db *Database) Get(ix uint64, key []byte) ([]byte, error) {
	idx, ok := db.indexByID(ix)
	if !ok {
		return nil, wrap(fmt.Errorf("%w: no such index", ErrIllegalArgument), withOp("Database.Get"), withIndexID(ix))
	}

	return idx.Get(key)
}

// Put writes key's value in one auto-committed transaction, the shortcut
// doc.go promises over Begin+Txn.StoreCommit.
func (db *Database) Put(ix uint64, key, value []byte) error {
	return db.Begin(context.Background()).StoreCommit(ix, key, value)
}

// Delete removes key's value in one auto-committed transaction.
func (db *Database) Delete(ix uint64, key []byte) error {
	return db.Begin(context.Background()).DeleteCommit(ix, key)
}

// Sync flushes the redo log and fsyncs both it and the page array,
// per §6's Database API.
func (db *Database) Sync() error {
	const op = "Database.Sync"

	db.redoMu.Lock()
	err := db.redoBuf.Flush()
	if err == nil {
		err = db.redoFile.Sync()
	}
	db.redoMu.Unlock()

	if err != nil {
		return wrap(err, withOp(op))
	}

	return wrap(db.arr.Sync(true), withOp(op))
}

// Flush pushes buffered redo records to the OS without forcing an fsync,
// the lighter-weight sibling of Sync.
func (db *Database) Flush() error {
	db.redoMu.Lock()
	defer db.redoMu.Unlock()

	return wrap(db.redoBuf.Flush(), withOp("Database.Flush"))
}

// Checkpoint snapshots the index directory into the catalog page (if it
// changed since the last checkpoint) and flushes every dirty page through
// the allocator.
func (db *Database) Checkpoint() error {
	err := db.allocator.Checkpoint(db.checkpointPool)
	if err == nil {
		db.ckptMu.Lock()
		db.lastCheckpoint = time.Now()
		db.ckptMu.Unlock()
	}

	return wrap(err, withOp("Database.Checkpoint"))
}

var _ recovery.IndexResolver = (*Database)(nil)
var _ recovery.IndexAdmin = (*Database)(nil)
