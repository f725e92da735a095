package storage

import "notaria/pkg/platform/sentinel"

// Re-exported sentinels keep store call sites consistent across the
// in-memory and PostgreSQL implementations.
var (
	ErrNotFound    = sentinel.ErrNotFound
	ErrAlreadyUsed = sentinel.ErrAlreadyUsed
)
