package contract

import "errors"

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrValidation      = errors.New("validation failed")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownTool     = errors.New("unknown tool")
)
