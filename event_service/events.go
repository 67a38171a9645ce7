// Package event_service routes inbound platform events to the ledger, the
// roster and the channel reconciler. Adapters resolve their SDK callbacks into
// one of the Event variants below once; nothing here knows about them.
package event_service

// Event is implemented by every inbound event kind.
type Event interface {
	kind() string
}

// Actor is the member that caused an event.
type Actor struct {
	UserID      string
	DisplayName string
	AvatarURL   string
	RoleIDs     []string
	IsAdmin     bool
}

// FormSubmitted carries the basic-info form of a member.
type FormSubmitted struct {
	Actor     Actor
	ChannelID string
	GuildID   string
	Name      string
	Referrer  string
}

// SlotsChosen completes a form started with FormSubmitted.
type SlotsChosen struct {
	Actor    Actor
	SlotKeys []string
	FreeText string
}

// MessagePosted is any message that appeared in a channel.
type MessagePosted struct {
	ChannelID   string
	AuthorIsBot bool
}

// ProcessReady fires once the platform session is up.
type ProcessReady struct{}

// Status actions on an entry panel.
const (
	ActionInterviewed = "interviewed"
	ActionNoResponse  = "no_response"
)

// StatusButtonPressed is a manager acting on an entry panel.
type StatusButtonPressed struct {
	Actor        Actor
	EntryGroupID string
	Action       string
}

// AdminDeleteRequested tombstones a submission, optionally one slot of it.
type AdminDeleteRequested struct {
	Actor             Actor
	ExternalMessageID string
	SlotKeyFilter     string
}

type ArmRequested struct {
	Actor     Actor
	ChannelID string
}

type DisarmRequested struct {
	Actor     Actor
	ChannelID string
}

type RosterRefreshRequested struct {
	Actor     Actor
	ChannelID string
}

type PingRequested struct{}

func (FormSubmitted) kind() string          { return "form_submitted" }
func (SlotsChosen) kind() string            { return "slots_chosen" }
func (MessagePosted) kind() string          { return "message_posted" }
func (ProcessReady) kind() string           { return "process_ready" }
func (StatusButtonPressed) kind() string    { return "status_button" }
func (AdminDeleteRequested) kind() string   { return "admin_delete" }
func (ArmRequested) kind() string           { return "arm" }
func (DisarmRequested) kind() string        { return "disarm" }
func (RosterRefreshRequested) kind() string { return "roster_refresh" }
func (PingRequested) kind() string          { return "ping" }

// Reply is what the adapter shows the member who caused the event.
type Reply struct {
	Text string
	// Public replies are visible to the whole channel; everything else is
	// shown only to the actor.
	Public bool
	// ShowSlotPicker asks the adapter to attach the slot picker.
	ShowSlotPicker bool
}
