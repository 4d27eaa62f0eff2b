package domain

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrConfig         = errors.New("configuration error")
	ErrRegionNotFound = errors.New("region not found")
	ErrCredentials    = errors.New("credentials unavailable")
	ErrLockContention = errors.New("region locked by another run")
	ErrBackupNotFound = errors.New("backup artifact not found")
	ErrRollbackFailed = errors.New("rollback failed")
	ErrNotSuperset    = errors.New("expanded range does not contain current range")
)
