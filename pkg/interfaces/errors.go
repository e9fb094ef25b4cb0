package interfaces

import "errors"

// Store errors shared by every BlobStore implementation.
var (
	ErrBlobNotFound    = errors.New("blob not found")
	ErrVersionConflict = errors.New("blob version conflict")
	ErrStoreClosed     = errors.New("store is closed")
)
