// Package sentinel holds the errors stores return for facts about stored
// rows. Services translate them into domain-errors codes; input validation
// never uses them.
package sentinel

import "errors"

var (
	// ErrNotFound covers missing rows and rows owned by someone else.
	ErrNotFound = errors.New("not found")
	// ErrConflict means a compare-and-set found the row already moved on.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means the row cannot take the requested transition.
	ErrInvalidState = errors.New("invalid state")
)
