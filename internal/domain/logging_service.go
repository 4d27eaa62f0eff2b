package domain

import (
	"context"
	"log/slog"
)

type loggingProvisionService struct {
	logger *slog.Logger
	next   ProvisionService
}

func NewLoggingProvisionService(logger *slog.Logger, next ProvisionService) ProvisionService {
	if logger == nil || next == nil {
		return next
	}

	return &loggingProvisionService{
		logger: logger,
		next:   next,
	}
}

func (s *loggingProvisionService) Provision(ctx context.Context, input ProvisionInput) (ProvisionResult, error) {
	result, err := s.next.Provision(ctx, input)
	if err != nil {
		s.logger.ErrorContext(ctx, "provisioning failed",
			"region", input.Region,
			"expanded", input.Expanded.String(),
			"current", input.Current.String(),
			"err", err.Error())
		return result, err
	}

	if !result.BackupProduced {
		s.logger.WarnContext(ctx, "no backup produced, rollback unavailable", "region", input.Region)
	}
	s.logger.InfoContext(ctx, "provisioning completed",
		"region", input.Region,
		"planned", result.Planned,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"backup", result.BackupPath)
	return result, nil
}

func (s *loggingProvisionService) Rollback(ctx context.Context, artifactPath string) error {
	err := s.next.Rollback(ctx, artifactPath)
	if err != nil {
		s.logger.ErrorContext(ctx, "rollback failed", "artifact", artifactPath, "err", err.Error())
		return err
	}

	s.logger.InfoContext(ctx, "rollback completed", "artifact", artifactPath)
	return nil
}
