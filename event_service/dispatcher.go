package event_service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"entrybot/entry_service"
	"entrybot/platform"
	"entrybot/roster_service"
	"entrybot/sticky_service"
)

// App is the state every handler works on. It is built once at startup and
// passed around by reference.
type App struct {
	Ledger  *entry_service.Ledger
	Roster  *roster_service.Aggregator
	Sticky  *sticky_service.Reconciler
	Client  platform.Client
	Auth    Authorizer
	Timeout time.Duration
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Dispatcher turns events into ledger mutations and platform side effects, in
// the order persist, roster, control message.
type Dispatcher struct {
	app    App
	drafts *draftBook
	log    zerolog.Logger
}

func NewDispatcher(app App) *Dispatcher {
	if app.Now == nil {
		app.Now = time.Now
	}
	if app.Timeout <= 0 {
		app.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		app:    app,
		drafts: newDraftBook(app.Now),
		log:    app.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Load restores ledger and bindings from the store.
func (d *Dispatcher) Load(ctx context.Context) error {
	if err := d.app.Ledger.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := d.app.Roster.Load(ctx); err != nil {
		return fmt.Errorf("load roster binding: %w", err)
	}
	if err := d.app.Sticky.Load(ctx); err != nil {
		return fmt.Errorf("load sticky bindings: %w", err)
	}
	return nil
}

// Roster renders the current roster view.
func (d *Dispatcher) Roster() roster_service.View {
	return d.app.Roster.Render()
}

// Handle processes one event. It never panics and never returns platform
// errors; failures are logged and turned into a reply.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (reply Reply) {
	log := d.log.With().Str("event_id", uuid.NewString()).Str("event", ev.kind()).Logger()
	ctx = log.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("event handler panicked")
			reply = Reply{Text: userMessage(errors.New("panic"))}
		}
	}()

	var err error
	switch e := ev.(type) {
	case FormSubmitted:
		reply, err = d.formSubmitted(e)
	case SlotsChosen:
		reply, err = d.slotsChosen(ctx, e)
	case MessagePosted:
		d.messagePosted(ctx, e)
	case ProcessReady:
		d.processReady(ctx)
	case StatusButtonPressed:
		reply, err = d.statusButton(ctx, e)
	case AdminDeleteRequested:
		reply, err = d.adminDelete(ctx, e)
	case ArmRequested:
		reply, err = d.arm(ctx, e)
	case DisarmRequested:
		reply, err = d.disarm(ctx, e)
	case RosterRefreshRequested:
		reply, err = d.rosterRefresh(ctx, e)
	case PingRequested:
		reply = Reply{Text: "pong", Public: true}
	default:
		log.Warn().Msg("unhandled event")
	}
	if err != nil {
		log.Info().Err(err).Msg("event rejected")
		return Reply{Text: userMessage(err)}
	}
	return reply
}

// io bounds one platform call.
func (d *Dispatcher) io(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.app.Timeout)
}

func (d *Dispatcher) formSubmitted(e FormSubmitted) (Reply, error) {
	if !d.app.Ledger.CanRegister(e.Actor.UserID) {
		return Reply{}, entry_service.ErrDuplicateRegistration
	}
	d.drafts.put(draft{
		Actor:     e.Actor,
		ChannelID: e.ChannelID,
		GuildID:   e.GuildID,
		Name:      strings.TrimSpace(e.Name),
		Referrer:  strings.TrimSpace(e.Referrer),
	})
	return Reply{Text: "Choose your arrival slot (up to two).", ShowSlotPicker: true}, nil
}

func (d *Dispatcher) slotsChosen(ctx context.Context, e SlotsChosen) (Reply, error) {
	log := zerolog.Ctx(ctx)
	dr, ok := d.drafts.get(e.Actor.UserID)
	if !ok {
		return Reply{}, ErrSessionExpired
	}
	slots := make([]entry_service.SlotKey, 0, len(e.SlotKeys))
	for _, s := range e.SlotKeys {
		slots = append(slots, entry_service.SlotKey(s))
	}
	if err := entry_service.ValidateSelection(slots, e.FreeText); err != nil {
		return Reply{}, err
	}
	if !d.app.Ledger.CanRegister(e.Actor.UserID) {
		d.drafts.drop(dr.Actor.UserID, dr.Token)
		return Reply{}, entry_service.ErrDuplicateRegistration
	}

	reg := entry_service.Registration{
		OwnerID:          dr.Actor.UserID,
		OwnerDisplayName: dr.Actor.DisplayName,
		OwnerAvatarURL:   dr.Actor.AvatarURL,
		ChannelID:        dr.ChannelID,
		GuildID:          dr.GuildID,
		Name:             dr.Name,
		Referrer:         dr.Referrer,
		Slots:            slots,
		FreeText:         e.FreeText,
	}

	pctx, cancel := d.io(ctx)
	panel, err := d.app.Client.SendMessage(pctx, dr.ChannelID, panelMessage(preview(reg)))
	cancel()
	if err != nil {
		log.Warn().Err(err).Str("channel", dr.ChannelID).Msg("post entry panel failed")
		return Reply{}, fmt.Errorf("post panel: %w", err)
	}

	reg.GroupID = panel.ID
	if _, err := d.app.Ledger.Register(ctx, reg); err != nil {
		// Lost a race against another submission of the same owner.
		dctx, cancel := d.io(ctx)
		if derr := d.app.Client.DeleteMessage(dctx, dr.ChannelID, panel.ID); derr != nil && !platform.IsGone(derr) {
			log.Warn().Err(derr).Str("message", panel.ID).Msg("remove orphaned panel failed")
		}
		cancel()
		return Reply{}, err
	}
	d.drafts.drop(dr.Actor.UserID, dr.Token)

	d.afterChange(ctx, dr.ChannelID)
	return Reply{Text: "Submitted. Thank you!"}, nil
}

// preview is the group a registration will become, used for the first render
// of its panel before the panel id is known.
func preview(reg entry_service.Registration) []entry_service.Entry {
	out := make([]entry_service.Entry, 0, len(reg.Slots))
	for _, k := range reg.Slots {
		e := entry_service.Entry{
			OwnerID:          reg.OwnerID,
			SlotKey:          k,
			Name:             reg.Name,
			ReferrerName:     reg.Referrer,
			Status:           entry_service.StatusActive,
			ChannelID:        reg.ChannelID,
			GuildID:          reg.GuildID,
			OwnerDisplayName: reg.OwnerDisplayName,
			OwnerAvatarURL:   reg.OwnerAvatarURL,
		}
		if k == entry_service.SlotOther {
			e.FreeText = strings.TrimSpace(reg.FreeText)
		}
		out = append(out, e)
	}
	return out
}

func (d *Dispatcher) messagePosted(ctx context.Context, e MessagePosted) {
	if e.AuthorIsBot {
		return
	}
	rctx, cancel := d.io(ctx)
	defer cancel()
	out, err := d.app.Sticky.Trigger(rctx, e.ChannelID)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("channel", e.ChannelID).Msg("reconcile deferred to next trigger")
		return
	}
	zerolog.Ctx(ctx).Debug().Str("channel", e.ChannelID).Stringer("outcome", out).Msg("reconciled")
}

func (d *Dispatcher) processReady(ctx context.Context) {
	log := zerolog.Ctx(ctx)
	var g errgroup.Group
	g.Go(func() error {
		rctx, cancel := d.io(ctx)
		res, err := d.app.Roster.Sync(rctx)
		cancel()
		if res.Created {
			d.ensureSticky(ctx, res.Binding.ChannelID)
		}
		return err
	})
	g.Go(func() error {
		rctx, cancel := d.io(ctx)
		defer cancel()
		return d.app.Sticky.ReconcileAll(rctx)
	})
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("startup reconciliation incomplete")
		return
	}
	log.Info().Int("channels", len(d.app.Sticky.Channels())).Msg("startup reconciliation done")
}

func (d *Dispatcher) statusButton(ctx context.Context, e StatusButtonPressed) (Reply, error) {
	if !d.app.Auth.IsManager(e.Actor) {
		return Reply{}, ErrUnauthorized
	}
	var (
		n   int
		err error
	)
	switch e.Action {
	case ActionInterviewed:
		n, err = d.app.Ledger.MarkInterviewed(ctx, e.EntryGroupID)
	case ActionNoResponse:
		n, err = d.app.Ledger.MarkNoResponse(ctx, e.EntryGroupID)
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownAction, e.Action)
	}
	if err != nil {
		return Reply{}, err
	}
	d.refreshPanels(ctx, e.EntryGroupID)
	d.afterChange(ctx, "")
	return Reply{Text: fmt.Sprintf("Marked %d entr%s as %s.", n, plural(n), strings.ReplaceAll(e.Action, "_", " "))}, nil
}

func (d *Dispatcher) adminDelete(ctx context.Context, e AdminDeleteRequested) (Reply, error) {
	if !d.app.Auth.IsManager(e.Actor) {
		return Reply{}, ErrUnauthorized
	}
	var slot entry_service.SlotKey
	if e.SlotKeyFilter != "" {
		k, ok := entry_service.ParseSlotKey(e.SlotKeyFilter)
		if !ok {
			return Reply{}, fmt.Errorf("%w: unknown slot %q", entry_service.ErrInvalidSelection, e.SlotKeyFilter)
		}
		slot = k
	}
	n, err := d.app.Ledger.SoftDelete(ctx, e.ExternalMessageID, slot)
	if err != nil {
		return Reply{}, err
	}
	d.refreshPanels(ctx, e.ExternalMessageID)
	d.afterChange(ctx, "")
	return Reply{Text: fmt.Sprintf("Deleted %d entr%s.", n, plural(n))}, nil
}

func (d *Dispatcher) arm(ctx context.Context, e ArmRequested) (Reply, error) {
	if !d.app.Auth.IsManager(e.Actor) {
		return Reply{}, ErrUnauthorized
	}
	rctx, cancel := d.io(ctx)
	defer cancel()
	if _, err := d.app.Sticky.Arm(rctx, e.ChannelID); err != nil {
		return Reply{}, err
	}
	return Reply{Text: "The registration button now stays at the bottom of this channel."}, nil
}

func (d *Dispatcher) disarm(ctx context.Context, e DisarmRequested) (Reply, error) {
	if !d.app.Auth.IsManager(e.Actor) {
		return Reply{}, ErrUnauthorized
	}
	rctx, cancel := d.io(ctx)
	defer cancel()
	armed, err := d.app.Sticky.Disarm(rctx, e.ChannelID)
	if !armed {
		return Reply{Text: "This channel has no registration button."}, nil
	}
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("control message removal failed")
	}
	return Reply{Text: "Removed the registration button from this channel."}, nil
}

func (d *Dispatcher) rosterRefresh(ctx context.Context, e RosterRefreshRequested) (Reply, error) {
	if !d.app.Auth.IsManager(e.Actor) {
		return Reply{}, ErrUnauthorized
	}
	d.app.Roster.BindChannel(e.ChannelID)
	rctx, cancel := d.io(ctx)
	res, err := d.app.Roster.Sync(rctx)
	cancel()
	if err != nil {
		return Reply{}, err
	}
	if res.Created {
		d.ensureSticky(ctx, res.Binding.ChannelID)
	}
	return Reply{Text: "Roster refreshed."}, nil
}

// afterChange runs the downstream effects of a ledger mutation: refresh the
// roster, then re-pin the control message in the channel the bot just posted
// to and in the roster channel if a roster message was created there.
func (d *Dispatcher) afterChange(ctx context.Context, postedIn string) {
	log := zerolog.Ctx(ctx)
	rctx, cancel := d.io(ctx)
	res, err := d.app.Roster.Sync(rctx)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("roster sync deferred")
	}
	if postedIn != "" {
		d.ensureSticky(ctx, postedIn)
	}
	if res.Created && res.Binding.ChannelID != postedIn {
		d.ensureSticky(ctx, res.Binding.ChannelID)
	}
}

func (d *Dispatcher) ensureSticky(ctx context.Context, channelID string) {
	rctx, cancel := d.io(ctx)
	defer cancel()
	if _, err := d.app.Sticky.Ensure(rctx, channelID); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("channel", channelID).Msg("re-pin deferred to next trigger")
	}
}

// refreshPanels re-renders every panel of the owner of groupID, since a status
// change can reach beyond the pressed panel.
func (d *Dispatcher) refreshPanels(ctx context.Context, groupID string) {
	owner, ok := d.app.Ledger.OwnerOf(groupID)
	if !ok {
		return
	}
	for _, id := range d.app.Ledger.GroupsOf(owner) {
		group := d.app.Ledger.Group(id)
		if len(group) == 0 {
			continue
		}
		rctx, cancel := d.io(ctx)
		err := d.app.Client.EditMessage(rctx, group[0].ChannelID, id, panelMessage(group))
		cancel()
		if err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Str("message", id).Msg("panel refresh skipped")
		}
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
