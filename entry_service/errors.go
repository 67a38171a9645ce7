package entry_service

import "errors"

var (
	ErrDuplicateRegistration = errors.New("owner already has a registration in progress")
	ErrInvalidSelection      = errors.New("invalid slot selection")
	ErrNotFound              = errors.New("no active entry for that message")
)
