// Package discordbot connects the event dispatcher to Discord: it resolves
// gateway callbacks into dispatcher events and renders the replies.
package discordbot

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"entrybot/entry_service"
	"entrybot/event_service"
)

// Bot owns the gateway handlers.
type Bot struct {
	session     *discordgo.Session
	dispatcher  *event_service.Dispatcher
	guildID     string
	syncOnStart bool
	timeout     time.Duration
	log         zerolog.Logger
}

type Options struct {
	GuildID     string
	SyncOnStart bool
	Timeout     time.Duration
	Logger      zerolog.Logger
}

// New registers the handlers on session. Call before session.Open.
func New(session *discordgo.Session, d *event_service.Dispatcher, opts Options) *Bot {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	b := &Bot{
		session:     session,
		dispatcher:  d,
		guildID:     opts.GuildID,
		syncOnStart: opts.SyncOnStart,
		timeout:     opts.Timeout,
		log:         opts.Logger.With().Str("component", "discordbot").Logger(),
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages
	session.AddHandler(b.onReady)
	session.AddHandler(b.onMessageCreate)
	session.AddHandler(b.onInteraction)
	return b
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("logged in")
	if b.syncOnStart {
		b.syncCommands(r.User.ID)
	}
	// Reconciliation can take a while with many channels; never hold the
	// gateway goroutine for it.
	go b.dispatcher.Handle(context.Background(), event_service.ProcessReady{})
}

func (b *Bot) syncCommands(appID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	synced, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, commands(), discordgo.WithContext(ctx))
	if err != nil {
		b.log.Error().Err(err).Msg("command sync failed")
		return
	}
	scope := "global"
	if b.guildID != "" {
		scope = "guild " + b.guildID
	}
	b.log.Info().Int("commands", len(synced)).Str("scope", scope).Msg("commands synced")
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	b.dispatcher.Handle(context.Background(), event_service.MessagePosted{
		ChannelID:   m.ChannelID,
		AuthorIsBot: m.Author.Bot,
	})
}

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		ev, ok := commandEvent(i)
		if !ok {
			return
		}
		if _, ping := ev.(event_service.PingRequested); ping {
			b.respond(i, b.dispatcher.Handle(context.Background(), ev))
			return
		}
		b.deferred(i, ev)

	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		switch {
		case data.CustomID == event_service.ControlOpenForm:
			b.open(i, basicInfoModal())
		case data.CustomID == event_service.ControlSlotPicker:
			if onlyOther(data.Values) {
				b.open(i, freeTextModal())
				return
			}
			b.deferred(i, event_service.SlotsChosen{Actor: actorOf(i), SlotKeys: data.Values})
		case strings.HasPrefix(data.CustomID, event_service.ControlStatusPrefix) && i.Message != nil:
			b.deferred(i, event_service.StatusButtonPressed{
				Actor:        actorOf(i),
				EntryGroupID: i.Message.ID,
				Action:       strings.TrimPrefix(data.CustomID, event_service.ControlStatusPrefix),
			})
		}

	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		values := modalValues(data)
		switch data.CustomID {
		case event_service.ControlBasicModal:
			b.respond(i, b.dispatcher.Handle(context.Background(), event_service.FormSubmitted{
				Actor:     actorOf(i),
				ChannelID: i.ChannelID,
				GuildID:   i.GuildID,
				Name:      values[fieldName],
				Referrer:  values[fieldReferrer],
			}))
		case event_service.ControlFreeTextModal:
			b.deferred(i, event_service.SlotsChosen{
				Actor:    actorOf(i),
				SlotKeys: []string{string(entry_service.SlotOther)},
				FreeText: values[fieldFreeText],
			})
		}
	}
}

// deferred acknowledges the interaction first, since handling may involve
// several platform calls, and follows up with the reply.
func (b *Bot) deferred(i *discordgo.InteractionCreate, ev event_service.Event) {
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("defer interaction failed")
		return
	}
	reply := b.dispatcher.Handle(context.Background(), ev)

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	params := &discordgo.WebhookParams{Content: reply.Text, Flags: discordgo.MessageFlagsEphemeral}
	if reply.ShowSlotPicker {
		params.Components = slotPicker()
	}
	if _, err := b.session.FollowupMessageCreate(i.Interaction, true, params, discordgo.WithContext(ctx)); err != nil {
		b.log.Warn().Err(err).Msg("follow-up failed")
	}
}

func (b *Bot) respond(i *discordgo.InteractionCreate, reply event_service.Reply) {
	data := &discordgo.InteractionResponseData{Content: reply.Text}
	if !reply.Public {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if reply.ShowSlotPicker {
		data.Components = slotPicker()
	}
	err := b.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("respond to interaction failed")
	}
}

func (b *Bot) open(i *discordgo.InteractionCreate, modal *discordgo.InteractionResponse) {
	if err := b.session.InteractionRespond(i.Interaction, modal); err != nil {
		b.log.Warn().Err(err).Str("modal", modal.Data.CustomID).Msg("open modal failed")
	}
}
