package models

import (
	"errors"
)

// Store sentinel errors. Handlers map ErrNotFound to 404 and
// ErrInvalidState to 409; ownership failures surface as ErrNotFound so
// foreign objects are indistinguishable from missing ones.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state transition")
)
