package event_service

import (
	"fmt"
	"strings"

	"entrybot/entry_service"
	"entrybot/platform"
)

// Custom ids of the interactive controls this bot attaches to messages.
const (
	ControlOpenForm        = "entry_button_open_modal"
	ControlSlotPicker      = "select_join_time"
	ControlBasicModal      = "entry_basic_modal"
	ControlFreeTextModal   = "entry_custom_time_modal"
	ControlStatusPrefix    = "entry_status:"
	ControlMarkInterviewed = ControlStatusPrefix + ActionInterviewed
	ControlMarkNoResponse  = ControlStatusPrefix + ActionNoResponse
)

const (
	DefaultControlText = "Welcome! Tell us when you plan to join."
	panelColor         = 0x3498db
	panelDoneColor     = 0x95a5a6
)

// ControlMessage is the message the reconciler keeps at the bottom of a channel.
func ControlMessage(text string) platform.Outgoing {
	if strings.TrimSpace(text) == "" {
		text = DefaultControlText
	}
	return platform.Outgoing{
		Content: text,
		Buttons: []platform.Button{{Label: "Register arrival", CustomID: ControlOpenForm, Style: platform.ButtonPrimary}},
	}
}

func profileURL(userID string) string {
	return "https://discord.com/users/" + userID
}

// panelMessage renders one submission. Buttons stay while any entry of the
// group is active; afterwards the footer names the outcome.
func panelMessage(group []entry_service.Entry) platform.Outgoing {
	if len(group) == 0 {
		return platform.Outgoing{}
	}
	first := group[0]
	display := first.OwnerDisplayName
	if display == "" {
		display = first.Name
	}

	var slots []string
	active := false
	statuses := map[entry_service.Status]bool{}
	for _, e := range group {
		label := e.SlotKey.Label()
		if e.SlotKey == entry_service.SlotOther && e.FreeText != "" {
			label = e.FreeText
		}
		if e.Status != entry_service.StatusActive {
			label = "~~" + label + "~~"
		}
		slots = append(slots, label)
		statuses[e.Status] = true
		if e.Status == entry_service.StatusActive {
			active = true
		}
	}

	embed := platform.Embed{
		Title:         "Arrival registration",
		Description:   "Received with the details below.",
		Color:         panelColor,
		AuthorName:    fmt.Sprintf("%s (ID: %s)", display, first.OwnerID),
		AuthorURL:     profileURL(first.OwnerID),
		AuthorIconURL: first.OwnerAvatarURL,
		ThumbnailURL:  first.OwnerAvatarURL,
		Fields: []platform.Field{
			{Name: "Name", Value: first.Name},
			{Name: "Arrival slot", Value: strings.Join(slots, "\n")},
			{Name: "Referrer", Value: first.ReferrerName},
			{Name: "User ID", Value: first.OwnerID},
			{Name: "Profile", Value: fmt.Sprintf("[Open profile](%s)\n<@%s>", profileURL(first.OwnerID), first.OwnerID)},
		},
	}
	out := platform.Outgoing{}
	if active {
		out.Buttons = []platform.Button{
			{Label: "Interviewed", CustomID: ControlMarkInterviewed, Style: platform.ButtonSuccess},
			{Label: "No response", CustomID: ControlMarkNoResponse, Style: platform.ButtonSecondary},
		}
	} else {
		embed.Color = panelDoneColor
	}
	var done []string
	for _, s := range []entry_service.Status{entry_service.StatusInterviewed, entry_service.StatusNoResponse, entry_service.StatusDeleted} {
		if statuses[s] {
			done = append(done, string(s))
		}
	}
	if len(done) > 0 {
		embed.Footer = "Status: " + strings.Join(done, ", ")
	}
	out.Embeds = []platform.Embed{embed}
	return out
}
