package event_service

import (
	"errors"

	"entrybot/entry_service"
	"entrybot/platform"
)

var (
	ErrUnauthorized   = errors.New("manager role required")
	ErrSessionExpired = errors.New("form session not found")
	ErrUnknownAction  = errors.New("unknown action")
)

// userMessage resolves an error to the short text shown to the member.
func userMessage(err error) string {
	switch {
	case errors.Is(err, entry_service.ErrDuplicateRegistration):
		return "You already have a registration in progress. A manager has to close it before you can register again."
	case errors.Is(err, entry_service.ErrInvalidSelection):
		return "That slot selection is not valid. Pick one or two slots, or \"Other\" on its own."
	case errors.Is(err, entry_service.ErrNotFound):
		return "No active entry matches that message."
	case errors.Is(err, ErrUnauthorized):
		return "You do not have permission to do that."
	case errors.Is(err, ErrSessionExpired):
		return "Your form session was not found. Please start again from the button."
	case errors.Is(err, platform.ErrForbidden):
		return "I am missing permissions in this channel."
	default:
		return "Something went wrong. Please try again in a moment."
	}
}
