package service

import "errors"

// Sentinel errors let handlers map failures onto distinct status codes. A
// forbidden task must never be reported as missing, and a missing task must
// never be reported as forbidden.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrNotOwner     = errors.New("task does not belong to user")
	ErrValidation   = errors.New("validation failed")
	ErrUserNotFound = errors.New("user not found")
)
