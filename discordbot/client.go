package discordbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"entrybot/platform"
)

// Client implements platform.Client over the Discord REST API.
type Client struct {
	s *discordgo.Session
}

func NewClient(s *discordgo.Session) *Client {
	return &Client{s: s}
}

// classify maps discordgo failures onto the platform error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
		}
	}
	return fmt.Errorf("%w: %v", platform.ErrUnavailable, err)
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg platform.Outgoing) (platform.Message, error) {
	m, err := c.s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     embeds(msg.Embeds),
		Components: components(msg.Buttons),
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, classify(err)
	}
	return toMessage(m), nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, msg platform.Outgoing) error {
	content := msg.Content
	em := embeds(msg.Embeds)
	comps := components(msg.Buttons)
	_, err := c.s.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Content:    &content,
		Embeds:     &em,
		Components: &comps,
	}, discordgo.WithContext(ctx))
	return classify(err)
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return classify(c.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)))
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (platform.Message, error) {
	m, err := c.s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, classify(err)
	}
	return toMessage(m), nil
}

func (c *Client) FetchMostRecentMessage(ctx context.Context, channelID string) (platform.Message, bool, error) {
	msgs, err := c.s.ChannelMessages(channelID, 1, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return platform.Message{}, false, classify(err)
	}
	if len(msgs) == 0 {
		return platform.Message{}, false, nil
	}
	return toMessage(msgs[0]), true, nil
}

func toMessage(m *discordgo.Message) platform.Message {
	out := platform.Message{ID: m.ID, ChannelID: m.ChannelID}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
	}
	return out
}

func embeds(in []platform.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(in))
	for _, e := range in {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			URL:         e.URL,
			Color:       e.Color,
		}
		if e.AuthorName != "" {
			me.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, URL: e.AuthorURL, IconURL: e.AuthorIconURL}
		}
		if e.ThumbnailURL != "" {
			me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, me)
	}
	return out
}

var buttonStyles = map[platform.ButtonStyle]discordgo.ButtonStyle{
	platform.ButtonPrimary:   discordgo.PrimaryButton,
	platform.ButtonSecondary: discordgo.SecondaryButton,
	platform.ButtonSuccess:   discordgo.SuccessButton,
	platform.ButtonDanger:    discordgo.DangerButton,
}

// components puts all buttons on one action row; an empty result clears the
// components of an edited message.
func components(buttons []platform.Button) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return []discordgo.MessageComponent{}
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		style, ok := buttonStyles[b.Style]
		if !ok {
			style = discordgo.SecondaryButton
		}
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			CustomID: b.CustomID,
			Style:    style,
			Disabled: b.Disabled,
		})
	}
	return []discordgo.MessageComponent{row}
}
