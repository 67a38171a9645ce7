// Package platform describes the chat platform as the core sees it: a handful of
// message operations and the errors they can fail with. Adapters translate their
// SDK types into these.
package platform

import (
	"context"
	"errors"
)

var (
	ErrNotFound    = errors.New("platform: not found")
	ErrForbidden   = errors.New("platform: forbidden")
	ErrUnavailable = errors.New("platform: unavailable")
)

// ButtonStyle mirrors the small set of button colours every platform offers.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota + 1
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

type Button struct {
	Label    string
	CustomID string
	Style    ButtonStyle
	Disabled bool
}

type Field struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title         string
	Description   string
	URL           string
	Color         int
	AuthorName    string
	AuthorURL     string
	AuthorIconURL string
	ThumbnailURL  string
	Footer        string
	Fields        []Field
}

// Outgoing is the full content of a message to send or to replace an existing
// message with. Editing with an Outgoing that has no Buttons removes them.
type Outgoing struct {
	Content string
	Embeds  []Embed
	Buttons []Button
}

// Message identifies a message that exists on the platform.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
}

// Client is the outbound surface the core needs. Implementations bound every
// call with a timeout and map SDK failures onto ErrNotFound, ErrForbidden or
// ErrUnavailable.
type Client interface {
	SendMessage(ctx context.Context, channelID string, msg Outgoing) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg Outgoing) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)
	// FetchMostRecentMessage reports ok=false for a channel with no history.
	FetchMostRecentMessage(ctx context.Context, channelID string) (msg Message, ok bool, err error)
}

// IsGone reports whether err means the target message no longer needs handling:
// it was already removed or the bot may not touch it.
func IsGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden)
}
