package domain

import (
	"context"
	"iter"
	"time"
)

// Strategy selects how the delta is written to the inventory.
type Strategy string

const (
	// StrategyBulk replays a pre-rendered insert script in one shot.
	StrategyBulk Strategy = "bulk"
	// StrategyRows applies one insert-if-absent statement per address.
	StrategyRows Strategy = "rows"
)

type ApplyDeltaInput struct {
	Region   string
	Strategy Strategy

	// ScriptPath is the artifact to replay for StrategyBulk.
	ScriptPath string

	// Addresses and Timestamp feed the per-row inserts for StrategyRows.
	Addresses iter.Seq[uint32]
	Timestamp time.Time

	// Planned is the delta size; bulk replay derives its skipped count from it.
	Planned int64
}

type ApplyDeltaResult struct {
	Inserted int64
	Skipped  int64
}

// InventoryRepository is the region-partitioned address store. ApplyDelta
// must acquire the region's exclusive lock without waiting and run every
// mutating statement inside one transaction committed exactly once.
type InventoryRepository interface {
	ValidateRegion(ctx context.Context, region string) error
	SnapshotRegion(ctx context.Context, region string) ([]AddressRecord, error)
	ApplyDelta(ctx context.Context, input ApplyDeltaInput) (ApplyDeltaResult, error)
	ReplayScript(ctx context.Context, path string) error
}

// ScriptBuilder renders a delta into a replayable insert-if-absent artifact.
// The returned cleanup removes the artifact and is safe to call on any exit
// path of the caller.
type ScriptBuilder interface {
	BuildInsertScript(region string, addrs iter.Seq[uint32], count int, stamp time.Time) (path string, cleanup func(), err error)
}

// BackupStore persists restore artifacts. Unlike insert scripts, backups
// outlive the run that produced them.
type BackupStore interface {
	Write(region string, capturedAt time.Time, records []AddressRecord) (path string, err error)
	Exists(path string) bool
}
