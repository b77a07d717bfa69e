package services

import "errors"

var (
	ErrUserNotFound    = errors.New("user profile not found")
	ErrPostNotFound    = errors.New("post not found")
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCorrupt marks a blob that failed to parse; the expiry
	// worker deletes it without attempting a merge.
	ErrSessionCorrupt = errors.New("session blob corrupt")

	// ErrSessionUserMismatch marks a blob whose userId does not match the
	// profile it would merge into; the blob is kept for inspection.
	ErrSessionUserMismatch = errors.New("session user id mismatch")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)
