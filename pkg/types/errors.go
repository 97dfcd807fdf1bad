package types

import "errors"

var (
	// ErrConnection marks transport and signaling setup failures
	ErrConnection = errors.New("connection error")
	// ErrValidation marks malformed descriptors, signaling blobs and key encodings
	ErrValidation = errors.New("validation error")
	// ErrIO marks disk read/write failures
	ErrIO = errors.New("io error")
	// ErrTimeout marks fatal deadline expiry
	ErrTimeout = errors.New("timeout")
	// ErrNotFound marks lookups of unknown share codes
	ErrNotFound = errors.New("not found")
)
