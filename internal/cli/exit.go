package cli

import (
	"errors"

	"github.com/nataas/ipfill/internal/domain"
)

// Exit codes, one per taxonomy entry, so operators and wrappers can branch
// on the failure class without parsing log output.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitConfig           = 2
	ExitRegionNotFound   = 3
	ExitCredentials      = 4
	ExitLockContention   = 5
	ExitRollbackNotFound = 6
	ExitRollbackFailed   = 7
)

func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, domain.ErrConfig), errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotSuperset):
		return ExitConfig
	case errors.Is(err, domain.ErrRegionNotFound):
		return ExitRegionNotFound
	case errors.Is(err, domain.ErrCredentials):
		return ExitCredentials
	case errors.Is(err, domain.ErrLockContention):
		return ExitLockContention
	case errors.Is(err, domain.ErrBackupNotFound):
		return ExitRollbackNotFound
	case errors.Is(err, domain.ErrRollbackFailed):
		return ExitRollbackFailed
	default:
		return ExitFailure
	}
}
