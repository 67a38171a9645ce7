package discordbot

import (
	"github.com/bwmarrin/discordgo"

	"entrybot/entry_service"
	"entrybot/event_service"
)

const (
	cmdArm           = "entry_panel"
	cmdDisarm        = "entry_panel_off"
	cmdRosterRefresh = "roster_refresh"
	cmdDelete        = "entry_delete"
	cmdPing          = "ping"

	optMessageID = "message_id"
	optSlot      = "slot"
)

// commands is the slash-command catalogue synced on startup.
func commands() []*discordgo.ApplicationCommand {
	slotChoices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(entry_service.Slots))
	for _, s := range entry_service.Slots {
		slotChoices = append(slotChoices, &discordgo.ApplicationCommandOptionChoice{Name: s.Label, Value: string(s.Key)})
	}
	return []*discordgo.ApplicationCommand{
		{Name: cmdArm, Description: "Keep the registration button at the bottom of this channel"},
		{Name: cmdDisarm, Description: "Remove the registration button from this channel"},
		{Name: cmdRosterRefresh, Description: "Refresh the arrival roster now"},
		{
			Name:        cmdDelete,
			Description: "Delete a registration by its panel message id",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optMessageID,
					Description: "Message id of the registration panel",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        optSlot,
					Description: "Only delete this slot",
					Choices:     slotChoices,
				},
			},
		},
		{Name: cmdPing, Description: "Health check"},
	}
}

// commandEvent resolves a slash command to its event. ok is false for names
// this bot does not own.
func commandEvent(i *discordgo.InteractionCreate) (event_service.Event, bool) {
	data := i.ApplicationCommandData()
	actor := actorOf(i)
	switch data.Name {
	case cmdArm:
		return event_service.ArmRequested{Actor: actor, ChannelID: i.ChannelID}, true
	case cmdDisarm:
		return event_service.DisarmRequested{Actor: actor, ChannelID: i.ChannelID}, true
	case cmdRosterRefresh:
		return event_service.RosterRefreshRequested{Actor: actor, ChannelID: i.ChannelID}, true
	case cmdDelete:
		ev := event_service.AdminDeleteRequested{Actor: actor}
		for _, opt := range data.Options {
			switch opt.Name {
			case optMessageID:
				ev.ExternalMessageID = opt.StringValue()
			case optSlot:
				ev.SlotKeyFilter = opt.StringValue()
			}
		}
		return ev, true
	case cmdPing:
		return event_service.PingRequested{}, true
	default:
		return nil, false
	}
}
