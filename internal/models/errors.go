package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

var (
	// ErrAssetNotFound indicates the asset does not exist (or was deleted).
	ErrAssetNotFound = errors.New("asset not found")

	// ErrAssetBusy indicates the asset is already queued or processing.
	ErrAssetBusy = errors.New("asset is already queued or processing")

	// ErrNoSourceFiles indicates a processing request carried no source files.
	ErrNoSourceFiles = errors.New("at least one source file is required")

	// ErrUserJobLimit indicates the user already has the maximum number of active jobs.
	ErrUserJobLimit = errors.New("user has too many active processing jobs")

	// ErrAssetIDRequired indicates a job was built without an asset.
	ErrAssetIDRequired = errors.New("asset_id is required")

	// ErrUserIDRequired indicates a job or asset has no owning user.
	ErrUserIDRequired = errors.New("user_id is required")

	// ErrSourcePathRequired indicates a source file descriptor has no path.
	ErrSourcePathRequired = errors.New("source file path is required")
)
