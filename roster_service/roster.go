package roster_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	ds "entrybot/database_service"
	"entrybot/entry_service"
	"entrybot/platform"
)

const recordVersion = 1

// Binding points at the message currently showing the roster.
type Binding struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// Source supplies the entries to render.
type Source interface {
	Active() []entry_service.Entry
}

// Aggregator keeps exactly one roster message in sync with the ledger.
type Aggregator struct {
	client    platform.Client
	source    Source
	store     ds.Store
	channelID string
	log       zerolog.Logger

	// mu serialises syncs so two callers can never both create a message.
	mu      sync.Mutex
	binding *Binding
	written *platform.Outgoing
}

// NewAggregator creates the aggregator. channelID is where a roster message is
// created when none is bound; empty means "wait for BindChannel".
func NewAggregator(client platform.Client, source Source, store ds.Store, channelID string, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		client:    client,
		source:    source,
		store:     store,
		channelID: channelID,
		log:       log.With().Str("component", "roster").Logger(),
	}
}

// Load restores the binding saved by a previous process.
func (a *Aggregator) Load(ctx context.Context) error {
	b, found, err := ds.Load(ctx, a.store, ds.RecordRosterBinding, decodeBinding)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if found && b.MessageID != "" {
		a.binding = &b
	}
	return nil
}

func decodeBinding(version int, data []byte) (Binding, error) {
	var b Binding
	if version > recordVersion {
		return b, fmt.Errorf("unsupported roster version %d", version)
	}
	err := json.Unmarshal(data, &b)
	return b, err
}

// Binding reports the current roster message, if any.
func (a *Aggregator) Binding() (Binding, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.binding == nil {
		return Binding{}, false
	}
	return *a.binding, true
}

// BindChannel sets the channel new roster messages go to, for deployments
// without a configured roster channel.
func (a *Aggregator) BindChannel(channelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.channelID == "" {
		a.channelID = channelID
	}
}

// Render builds the current view.
func (a *Aggregator) Render() View {
	return Render(a.source.Active())
}

// Result describes what Sync did.
type Result struct {
	Created bool
	Edited  bool
	Binding Binding
}

// Sync brings the roster message up to date. It edits the bound message when
// it still exists, recreates it when it is gone and never creates a second
// message while the bound one resolves. A failed fetch for any reason other
// than not-found leaves the binding alone so the next sync can retry.
func (a *Aggregator) Sync(ctx context.Context) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	body := a.Render().Message()

	if a.binding != nil {
		b := *a.binding
		_, err := a.client.FetchMessage(ctx, b.ChannelID, b.MessageID)
		switch {
		case err == nil:
			if a.written != nil && reflect.DeepEqual(*a.written, body) {
				return Result{Binding: b}, nil
			}
			err = a.client.EditMessage(ctx, b.ChannelID, b.MessageID, body)
			if err == nil {
				a.written = &body
				return Result{Edited: true, Binding: b}, nil
			}
			if !errors.Is(err, platform.ErrNotFound) {
				a.log.Warn().Err(err).Str("message", b.MessageID).Msg("edit roster failed")
				return Result{Binding: b}, fmt.Errorf("edit roster: %w", err)
			}
		case errors.Is(err, platform.ErrNotFound):
		default:
			a.log.Warn().Err(err).Str("message", b.MessageID).Msg("fetch roster failed")
			return Result{Binding: b}, fmt.Errorf("fetch roster: %w", err)
		}
		a.log.Info().Str("message", b.MessageID).Msg("roster message gone, recreating")
		if a.channelID == "" {
			a.channelID = b.ChannelID
		}
		a.binding = nil
		a.written = nil
		a.persistLocked(ctx)
	}

	if a.channelID == "" {
		return Result{}, nil
	}
	msg, err := a.client.SendMessage(ctx, a.channelID, body)
	if err != nil {
		a.log.Warn().Err(err).Str("channel", a.channelID).Msg("create roster failed")
		return Result{}, fmt.Errorf("create roster: %w", err)
	}
	a.binding = &Binding{ChannelID: a.channelID, MessageID: msg.ID}
	a.written = &body
	a.persistLocked(ctx)
	a.log.Info().Str("channel", a.channelID).Str("message", msg.ID).Msg("roster message created")
	return Result{Created: true, Binding: *a.binding}, nil
}

func (a *Aggregator) persistLocked(ctx context.Context) {
	var b Binding
	if a.binding != nil {
		b = *a.binding
	}
	if err := ds.Save(ctx, a.store, "roster:sync", ds.RecordRosterBinding, recordVersion, b); err != nil {
		a.log.Error().Err(err).Msg("persist roster binding failed")
	}
}
