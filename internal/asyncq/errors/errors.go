package errors

import "errors"

var (
	ErrNotFound = errors.New("claim request not found")

	ErrAlreadyResolved = errors.New("claim request already resolved")
)
