// Package apperr defines the error taxonomy shared by the search core and its adapters.
package apperr

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrQueryFailed         = errors.New("query failed")
	ErrModelNotInitialized = errors.New("embedding model not initialized")
	ErrEncodingFailed      = errors.New("encoding failed")
	ErrBuildInProgress     = errors.New("index build already in progress")
)
