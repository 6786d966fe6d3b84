package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrSourceUnavailable indicates a source collaborator (catalog API,
	// desktop database) could not be reached or refused the request
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrRecordNotFound indicates a referenced item or collection is missing
	ErrRecordNotFound = errors.New("record not found")

	// ErrFileConflict indicates a target path already exists unexpectedly
	ErrFileConflict = errors.New("file conflict")

	// ErrTransferFailure indicates a download or format conversion failed
	ErrTransferFailure = errors.New("transfer failed")

	// ErrDataIntegrity indicates inconsistent store state, e.g. a membership
	// pointing at a missing item
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
