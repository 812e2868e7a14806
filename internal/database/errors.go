package database

import "ridequeue/internal/domain"

var (
	ErrNotFound               = domain.ErrEntryNotFound
	ErrDuplicateAdmission     = domain.ErrDuplicateAdmission
	ErrConcurrentModification = domain.ErrConcurrencyConflict
)
