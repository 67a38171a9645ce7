package discordbot

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"entrybot/entry_service"
	"entrybot/event_service"
)

const (
	fieldName     = "name"
	fieldReferrer = "referrer"
	fieldFreeText = "custom_time"
)

func basicInfoModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: event_service.ControlBasicModal,
			Title:    "Arrival registration: basic info",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    fieldName,
						Label:       "Your name",
						Style:       discordgo.TextInputShort,
						Placeholder: "e.g. Taro Yamada",
						Required:    true,
						MaxLength:   50,
					},
				}},
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    fieldReferrer,
						Label:       "Referrer",
						Style:       discordgo.TextInputShort,
						Placeholder: "e.g. Hanako Sato (or \"none\")",
						Required:    true,
						MaxLength:   50,
					},
				}},
			},
		},
	}
}

func freeTextModal() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: event_service.ControlFreeTextModal,
			Title:    "Arrival registration: other",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    fieldFreeText,
						Label:       "When will you arrive?",
						Style:       discordgo.TextInputParagraph,
						Placeholder: "e.g. next Wednesday afternoon",
						Required:    true,
						MaxLength:   200,
					},
				}},
			},
		},
	}
}

func slotPicker() []discordgo.MessageComponent {
	minValues := 1
	options := make([]discordgo.SelectMenuOption, 0, len(entry_service.Slots))
	for _, s := range entry_service.Slots {
		options = append(options, discordgo.SelectMenuOption{Label: s.Label, Value: string(s.Key)})
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    event_service.ControlSlotPicker,
				Placeholder: "Choose your arrival slot",
				MinValues:   &minValues,
				MaxValues:   entry_service.MaxSlotsPerSubmission,
				Options:     options,
			},
		}},
	}
}

// modalValues flattens the text inputs of a submitted modal by custom id.
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	out := make(map[string]string)
	for _, c := range data.Components {
		row, ok := c.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				out[input.CustomID] = strings.TrimSpace(input.Value)
			}
		}
	}
	return out
}

// actorOf describes whoever triggered the interaction, in a guild or a DM.
func actorOf(i *discordgo.InteractionCreate) event_service.Actor {
	if i.Member != nil && i.Member.User != nil {
		name := i.Member.Nick
		if name == "" {
			name = displayName(i.Member.User)
		}
		return event_service.Actor{
			UserID:      i.Member.User.ID,
			DisplayName: name,
			AvatarURL:   i.Member.User.AvatarURL(""),
			RoleIDs:     append([]string(nil), i.Member.Roles...),
			IsAdmin:     i.Member.Permissions&discordgo.PermissionAdministrator != 0,
		}
	}
	if i.User != nil {
		return event_service.Actor{UserID: i.User.ID, DisplayName: displayName(i.User), AvatarURL: i.User.AvatarURL("")}
	}
	return event_service.Actor{}
}

func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// onlyOther reports a pick that needs the free-text modal before it is complete.
func onlyOther(values []string) bool {
	return len(values) == 1 && values[0] == string(entry_service.SlotOther)
}
