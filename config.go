package ledgerkv

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tailscale/hujson"

	"github.com/ledgerkv/ledgerkv/lockmgr"
	"github.com/ledgerkv/ledgerkv/redo"
)

// Config holds every tunable a Database.Open call accepts. JSON tags let
// it be loaded from a JSONC file with LoadConfig.
type Config struct {
	// Dir is the directory Open creates (if needed) to hold the page
	// array, redo log, and lock file. Required; Open rejects an empty
	// value rather than silently falling back to a temp directory.
	Dir string `json:"base_file_path"`

	// PageSize is the fixed page size, in bytes, the catalog page and any
	// future paged data use. Defaults to 4096.
	PageSize int `json:"page_size,omitempty"`

	// Encrypted enables per-page AES/CTR encryption (pagecrypto). When
	// true, RootKeyHex must name a 16-byte key; this module does not
	// generate or manage encryption keys on a caller's behalf.
	Encrypted bool `json:"encrypted,omitempty"`

	// RootKeyHex is the hex-encoded 16-byte root key, required when
	// Encrypted is true.
	RootKeyHex string `json:"root_key_hex,omitempty"`

	// LockTimeoutMillis bounds how long a lock acquisition blocks before
	// failing with ErrLockTimeout. Defaults to 5000ms. A value <= 0 means
	// wait indefinitely.
	LockTimeoutMillis int64 `json:"lock_timeout_millis,omitempty"`

	// UpgradeRule governs whether a shared-only holder may upgrade in
	// place: "strict" (never, default), "lenient" (only if sole shared
	// holder), or "unchecked" (always).
	UpgradeRule string `json:"upgrade_rule,omitempty"`

	// CheckpointWorkers sizes the worker pool Database.Checkpoint uses to
	// assist flushing dirty pages. Defaults to 4.
	CheckpointWorkers int `json:"checkpoint_workers,omitempty"`

	// RecoveryWorkers sizes the worker pool replay uses to dispatch
	// per-transaction redo records concurrently on Open. Defaults to 4.
	RecoveryWorkers int `json:"recovery_workers,omitempty"`

	// LenientRecovery makes replay swallow records referencing an index
	// id that no longer resolves, instead of failing Open outright.
	LenientRecovery bool `json:"lenient_recovery,omitempty"`

	// ReplicationMode selects the txnId-hash redo terminator instead of
	// the default random-token one, letting a replication consumer
	// cross-check a record's terminator against the txnId it claims.
	// Fixed at database-creation time; ignored on reopen.
	ReplicationMode bool `json:"replication_mode,omitempty"`

	// MinCacheSize and MaxCacheSize bound, in bytes, the page cache a
	// B-tree node layer would size from them. That layer is out of scope
	// here; this module uses MaxCacheSize only to cap the cache-priming
	// set (see CachePriming) at MaxCacheSize/PageSize pages. Zero means
	// unbounded.
	MinCacheSize int64 `json:"min_cache_size,omitempty"`
	MaxCacheSize int64 `json:"max_cache_size,omitempty"`

	// CheckpointRateMillis is how often the background checkpointer wakes
	// to decide whether a checkpoint is due. Zero (the default) disables
	// the background checkpointer entirely; Checkpoint/Close remain the
	// only flush points, which keeps test runs deterministic.
	CheckpointRateMillis int64 `json:"checkpoint_rate_millis,omitempty"`

	// CheckpointSizeThreshold is the dirty-page count at or above which a
	// background wake-up actually checkpoints. Zero means any dirty page
	// qualifies.
	CheckpointSizeThreshold int `json:"checkpoint_size_threshold,omitempty"`

	// CheckpointDelayThresholdMillis forces a checkpoint on a background
	// wake-up once this much time has passed since the last one and at
	// least one page is dirty, even if the dirty list is below
	// CheckpointSizeThreshold. Zero disables the time-based trigger.
	CheckpointDelayThresholdMillis int64 `json:"checkpoint_delay_threshold_millis,omitempty"`

	// CachePriming writes a priming set (the page ids worth re-reading on
	// the next Open) to the database directory on clean Close, and on Open
	// pre-reads every page the previous shutdown recorded, warming the OS
	// page cache before the first transaction runs.
	CachePriming bool `json:"cache_priming,omitempty"`

	// DurabilityMode governs how aggressively a write is pushed to stable
	// storage before Store/Txn.Commit returns: "sync" (fsync every
	// record, default), "nosync" (flush to the OS but never fsync),
	// "noflush" (leave records buffered until the next Sync/Flush call or
	// Close), or "noredo" (skip the redo log entirely: the index mutation
	// still applies in memory, but nothing survives a crash).
	DurabilityMode string `json:"durability_mode,omitempty"`
}

// DefaultConfig returns the Config Open uses when none is supplied.
func DefaultConfig() Config {
	return Config{
		PageSize:          4096,
		LockTimeoutMillis: 5000,
		UpgradeRule:       "strict",
		CheckpointWorkers: 4,
		RecoveryWorkers:   4,
		DurabilityMode:    "sync",
	}
}

// LoadConfig reads a JSONC (comments and trailing commas allowed) config
// file at path, standardizing it to JSON with hujson before decoding.
// Unrecognized keys are rejected so a typo in a config file fails loudly
// instead of silently being ignored. Defaults are applied for every field
// the file omits.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-supplied by design, same as os.ReadFile
	if err != nil {
		return Config{}, wrap(err, withOp("LoadConfig"))
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, wrap(fmt.Errorf("%w: invalid JSONC: %w", ErrIllegalArgument, err), withOp("LoadConfig"))
	}

	cfg := DefaultConfig()

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, wrap(fmt.Errorf("%w: invalid config: %w", ErrIllegalArgument, err), withOp("LoadConfig"))
	}

	return cfg, nil
}

// withDefaults fills in any zero-valued field of cfg from DefaultConfig,
// the way Open applies defaults to a Config built directly by a caller
// (bypassing LoadConfig) without forcing them to repeat every default.
func (cfg Config) withDefaults() Config {
	def := DefaultConfig()

	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}

	if cfg.LockTimeoutMillis == 0 {
		cfg.LockTimeoutMillis = def.LockTimeoutMillis
	}

	if cfg.UpgradeRule == "" {
		cfg.UpgradeRule = def.UpgradeRule
	}

	if cfg.CheckpointWorkers <= 0 {
		cfg.CheckpointWorkers = def.CheckpointWorkers
	}

	if cfg.RecoveryWorkers <= 0 {
		cfg.RecoveryWorkers = def.RecoveryWorkers
	}

	if cfg.DurabilityMode == "" {
		cfg.DurabilityMode = def.DurabilityMode
	}

	return cfg
}

func (cfg Config) validate() error {
	if cfg.Dir == "" {
		return fmt.Errorf("%w: base_file_path is required", ErrIllegalArgument)
	}

	if cfg.Encrypted && cfg.RootKeyHex == "" {
		return fmt.Errorf("%w: root_key_hex is required when encrypted is true", ErrIllegalArgument)
	}

	switch cfg.UpgradeRule {
	case "strict", "lenient", "unchecked":
	default:
		return fmt.Errorf("%w: unknown upgrade_rule %q", ErrIllegalArgument, cfg.UpgradeRule)
	}

	switch cfg.DurabilityMode {
	case "sync", "nosync", "noflush", "noredo":
	default:
		return fmt.Errorf("%w: unknown durability_mode %q", ErrIllegalArgument, cfg.DurabilityMode)
	}

	if cfg.MinCacheSize < 0 || cfg.MaxCacheSize < 0 {
		return fmt.Errorf("%w: cache sizes must be non-negative", ErrIllegalArgument)
	}

	if cfg.MaxCacheSize > 0 && cfg.MinCacheSize > cfg.MaxCacheSize {
		return fmt.Errorf("%w: min_cache_size %d exceeds max_cache_size %d", ErrIllegalArgument, cfg.MinCacheSize, cfg.MaxCacheSize)
	}

	if cfg.CheckpointRateMillis < 0 || cfg.CheckpointDelayThresholdMillis < 0 || cfg.CheckpointSizeThreshold < 0 {
		return fmt.Errorf("%w: checkpoint thresholds must be non-negative", ErrIllegalArgument)
	}

	return nil
}

// primingPageLimit is how many pages a priming set may record, derived
// from MaxCacheSize. Zero means no limit.
func (cfg Config) primingPageLimit() int64 {
	if cfg.MaxCacheSize <= 0 {
		return 0
	}

	limit := cfg.MaxCacheSize / int64(cfg.PageSize)
	if limit < 1 {
		limit = 1
	}

	return limit
}

func (cfg Config) checkpointRate() time.Duration {
	return time.Duration(cfg.CheckpointRateMillis) * time.Millisecond
}

func (cfg Config) checkpointDelayThreshold() time.Duration {
	return time.Duration(cfg.CheckpointDelayThresholdMillis) * time.Millisecond
}

func (cfg Config) lockTimeout() time.Duration {
	if cfg.LockTimeoutMillis <= 0 {
		return -1
	}

	return time.Duration(cfg.LockTimeoutMillis) * time.Millisecond
}

func (cfg Config) rule() lockmgr.UpgradeRule {
	switch cfg.UpgradeRule {
	case "lenient":
		return lockmgr.Lenient
	case "unchecked":
		return lockmgr.Unchecked
	default:
		return lockmgr.Strict
	}
}

func (cfg Config) terminatorPolicy() redo.TerminatorPolicy {
	if cfg.ReplicationMode {
		return redo.TerminatorTxnIDHash
	}

	return redo.TerminatorRandomToken
}
