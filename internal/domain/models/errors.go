package models

import "errors"

var (
	ErrInvalidInput     = errors.New("engine: invalid input")
	ErrPoolFull         = errors.New("engine: position pool full")
	ErrUnknownHandle    = errors.New("engine: unknown position handle")
	ErrSnapshotMismatch = errors.New("engine: snapshot version mismatch")
)
