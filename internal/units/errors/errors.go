package errors

import "errors"

var (
	ErrNotFound = errors.New("inventory unit not found")

	ErrInvalidID = errors.New("invalid inventory unit ID format")

	ErrStockConflict = errors.New("remaining stock is lower than requested quantity")
)
