package errors

import "errors"

var (
	ErrNotFound = errors.New("claim not found")

	ErrInvalidID = errors.New("invalid claim ID format")

	ErrAlreadyClaimed = errors.New("user already holds a claim for this unit")

	ErrInvalidTransition = errors.New("claim status transition not allowed")
)
