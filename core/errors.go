package core

import "errors"

var (
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrAccessDenied       = errors.New("access denied")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrVersionConflict    = errors.New("version conflict")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
)
