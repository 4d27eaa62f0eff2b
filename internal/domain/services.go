package domain

import "context"

type ProvisionInput struct {
	Region           string
	Expanded         NetworkRange
	Current          NetworkRange
	Strategy         Strategy
	IncludeBroadcast bool
}

type ProvisionResult struct {
	Planned  int64
	Inserted int64
	Skipped  int64

	// BackupPath is set as soon as a backup artifact exists, so callers can
	// surface it even when the provisioning step itself fails afterwards.
	BackupPath     string
	BackupProduced bool
}

type ProvisionService interface {
	Provision(ctx context.Context, input ProvisionInput) (ProvisionResult, error)
	Rollback(ctx context.Context, artifactPath string) error
}
