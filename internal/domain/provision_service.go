package domain

import (
	"context"
	"fmt"
	"time"
)

type provisionService struct {
	repo    InventoryRepository
	scripts ScriptBuilder
	backups BackupStore
}

func NewProvisionService(repo InventoryRepository, scripts ScriptBuilder, backups BackupStore) ProvisionService {
	return &provisionService{
		repo:    repo,
		scripts: scripts,
		backups: backups,
	}
}

// Provision applies the delta between the expanded and current ranges to the
// region's inventory. The sequence is: validate region, compute delta, snapshot
// current rows into a restore artifact, then insert under the region lock.
// Everything that can leave the store inconsistent fails before the mutating
// transaction begins.
func (s *provisionService) Provision(ctx context.Context, input ProvisionInput) (ProvisionResult, error) {
	var out ProvisionResult

	if err := s.repo.ValidateRegion(ctx, input.Region); err != nil {
		return out, err
	}

	opts := []DiffOption{}
	if input.IncludeBroadcast {
		opts = append(opts, IncludeBroadcast())
	}
	delta, err := RangeDiff(input.Expanded, input.Current, opts...)
	if err != nil {
		return out, err
	}
	out.Planned = int64(delta.Count())

	records, err := s.repo.SnapshotRegion(ctx, input.Region)
	if err != nil {
		return out, fmt.Errorf("snapshot region %s: %w", input.Region, err)
	}
	if len(records) > 0 {
		path, err := s.backups.Write(input.Region, time.Now().UTC(), records)
		if err != nil {
			return out, fmt.Errorf("write backup for %s: %w", input.Region, err)
		}
		out.BackupPath = path
		out.BackupProduced = true
	}

	apply := ApplyDeltaInput{
		Region:    input.Region,
		Strategy:  input.Strategy,
		Addresses: delta.Addresses(),
		Timestamp: EpochTimestamp,
		Planned:   out.Planned,
	}
	if input.Strategy == StrategyBulk {
		path, cleanup, err := s.scripts.BuildInsertScript(input.Region, delta.Addresses(), delta.Count(), EpochTimestamp)
		if err != nil {
			return out, fmt.Errorf("build insert script: %w", err)
		}
		defer cleanup()
		apply.ScriptPath = path
	}

	res, err := s.repo.ApplyDelta(ctx, apply)
	out.Inserted = res.Inserted
	out.Skipped = res.Skipped
	return out, err
}

// Rollback replays a previously written backup artifact. A backup is itself a
// valid provisioning-style artifact, so it goes through the same load path as
// a forward run. A failed replay leaves the region indeterminate; the artifact
// path is repeated in the error because recovery from there is manual.
func (s *provisionService) Rollback(ctx context.Context, artifactPath string) error {
	if !s.backups.Exists(artifactPath) {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, artifactPath)
	}
	if err := s.repo.ReplayScript(ctx, artifactPath); err != nil {
		return fmt.Errorf("%w: replay of %s: %v (manual intervention required, artifact kept at %s)",
			ErrRollbackFailed, artifactPath, err, artifactPath)
	}
	return nil
}
