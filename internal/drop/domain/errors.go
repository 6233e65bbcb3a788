package domain

import "errors"

var (
	// ErrTooLarge is returned before any registry call when an upload
	// exceeds the configured ceiling.
	ErrTooLarge = errors.New("file too large")

	ErrUploadFailed   = errors.New("upload failed")
	ErrDeleteFailed   = errors.New("delete failed")
	ErrSubscription   = errors.New("registry subscription failed")
	ErrAuthDenied     = errors.New("invalid pin")
	ErrRecordNotFound = errors.New("file not found")
)
