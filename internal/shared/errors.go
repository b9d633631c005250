package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrTenantRequired indicates a missing tenant id.
	ErrTenantRequired = errors.New("tenant id required")
	// ErrActorRequired indicates a missing acting user.
	ErrActorRequired = errors.New("actor id required")
)
