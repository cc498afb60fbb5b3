package model

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("already exists")
	// ErrNotifyFailed marks a write that was stored but whose notification was not.
	ErrNotifyFailed = errors.New("notification not recorded")
)
