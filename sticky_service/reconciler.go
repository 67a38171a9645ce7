package sticky_service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	ds "entrybot/database_service"
	"entrybot/platform"
)

const recordVersion = 1

// Outcome says what a reconciliation attempt did.
type Outcome int

const (
	// Skipped: the channel has no control message.
	Skipped Outcome = iota
	// Debounced: inside the cooldown window, nothing was called.
	Debounced
	// AlreadyLast: the control message is already the newest message.
	AlreadyLast
	// Repinned: a fresh control message was posted and bound.
	Repinned
	// Failed: a platform call failed; the next trigger retries.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Debounced:
		return "debounced"
	case AlreadyLast:
		return "already_last"
	case Repinned:
		return "repinned"
	default:
		return "failed"
	}
}

// channel serialises reconciliation for one channel.
type channel struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

type Options struct {
	// Cooldown is the minimum gap between two debounced attempts per channel.
	Cooldown time.Duration
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Reconciler keeps one control message at the bottom of every armed channel.
type Reconciler struct {
	client  platform.Client
	store   ds.Store
	control platform.Outgoing
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	bindings map[string]string
	channels map[string]*channel

	saveMu sync.Mutex
}

func NewReconciler(client platform.Client, store ds.Store, control platform.Outgoing, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		client:   client,
		store:    store,
		control:  control,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "sticky").Logger(),
		bindings: make(map[string]string),
		channels: make(map[string]*channel),
	}
}

// Load restores the channel bindings of a previous process.
func (r *Reconciler) Load(ctx context.Context) error {
	bindings, _, err := ds.Load(ctx, r.store, ds.RecordStickyBindings, decodeBindings)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch, msg := range bindings {
		if ch != "" && msg != "" {
			r.bindings[ch] = msg
		}
	}
	r.log.Info().Int("channels", len(r.bindings)).Msg("sticky bindings loaded")
	return nil
}

// Version 0 is the bare {"<channel>": <message>} map with numeric or string ids.
func decodeBindings(version int, data []byte) (map[string]string, error) {
	switch {
	case version == 0:
		var legacy map[string]json.Number
		if err := json.Unmarshal(data, &legacy); err != nil {
			var plain map[string]string
			if err2 := json.Unmarshal(data, &plain); err2 != nil {
				return nil, err
			}
			return plain, nil
		}
		out := make(map[string]string, len(legacy))
		for ch, msg := range legacy {
			out[ch] = msg.String()
		}
		return out, nil
	case version <= recordVersion:
		var out map[string]string
		err := json.Unmarshal(data, &out)
		return out, err
	default:
		return nil, fmt.Errorf("unsupported sticky version %d", version)
	}
}

// Tracked reports whether channelID has a control message.
func (r *Reconciler) Tracked(channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bindings[channelID]
	return ok
}

// Bound returns the control message id of channelID.
func (r *Reconciler) Bound(channelID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bindings[channelID]
	return id, ok
}

// Channels lists every armed channel.
func (r *Reconciler) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.bindings))
	for ch := range r.bindings {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Trigger reacts to chatter in a channel. Calls inside the cooldown window are
// dropped.
func (r *Reconciler) Trigger(ctx context.Context, channelID string) (Outcome, error) {
	return r.reconcile(ctx, channelID, false, false)
}

// Ensure re-pins an armed channel right away, ignoring the cooldown. Used after
// the bot itself posted into the channel.
func (r *Reconciler) Ensure(ctx context.Context, channelID string) (Outcome, error) {
	return r.reconcile(ctx, channelID, true, false)
}

// Arm starts tracking channelID and pins a control message in it.
func (r *Reconciler) Arm(ctx context.Context, channelID string) (Outcome, error) {
	return r.reconcile(ctx, channelID, true, true)
}

// Disarm forgets channelID and removes its control message. It reports whether
// the channel was armed.
func (r *Reconciler) Disarm(ctx context.Context, channelID string) (bool, error) {
	ch := r.channel(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	r.mu.Lock()
	msgID, ok := r.bindings[channelID]
	delete(r.bindings, channelID)
	r.mu.Unlock()
	if !ok {
		return false, nil
	}
	r.persist(ctx, "sticky:disarm")
	if err := r.client.DeleteMessage(ctx, channelID, msgID); err != nil && !platform.IsGone(err) {
		r.log.Warn().Err(err).Str("channel", channelID).Msg("delete control message failed")
		return true, fmt.Errorf("delete control message: %w", err)
	}
	r.log.Info().Str("channel", channelID).Msg("channel disarmed")
	return true, nil
}

// ReconcileAll runs one independent pass per armed channel, as on startup.
// Failures are logged per channel; the first one is returned.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	var g errgroup.Group
	for _, ch := range r.Channels() {
		g.Go(func() error {
			_, err := r.Ensure(ctx, ch)
			return err
		})
	}
	return g.Wait()
}

func (r *Reconciler) channel(channelID string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelID]
	if !ok {
		every := rate.Inf
		if r.opts.Cooldown > 0 {
			every = rate.Every(r.opts.Cooldown)
		}
		ch = &channel{limiter: rate.NewLimiter(every, 1)}
		r.channels[channelID] = ch
	}
	return ch
}

// reconcile moves the channel back to "bound, is-last". Within one channel it
// runs at most once at a time; waiters re-check and usually find nothing to do.
func (r *Reconciler) reconcile(ctx context.Context, channelID string, force, arm bool) (Outcome, error) {
	if !arm && !r.Tracked(channelID) {
		return Skipped, nil
	}
	ch := r.channel(channelID)
	ch.mu.Lock()
	defer ch.mu.Unlock()

	bound, tracked := r.Bound(channelID)
	if !arm && !tracked {
		return Skipped, nil
	}
	if !force && !ch.limiter.AllowN(r.opts.Now(), 1) {
		return Debounced, nil
	}
	log := r.log.With().Str("channel", channelID).Logger()

	last, ok, err := r.client.FetchMostRecentMessage(ctx, channelID)
	if err != nil {
		log.Warn().Err(err).Msg("fetch channel history failed")
		return Failed, fmt.Errorf("fetch history: %w", err)
	}
	if tracked && ok && last.ID == bound {
		return AlreadyLast, nil
	}

	if tracked {
		if err := r.client.DeleteMessage(ctx, channelID, bound); err != nil {
			if !platform.IsGone(err) {
				// Posting now would leave the old control message behind unbound.
				log.Warn().Err(err).Str("message", bound).Msg("delete old control message failed")
				return Failed, fmt.Errorf("delete control message: %w", err)
			}
			log.Debug().Err(err).Str("message", bound).Msg("old control message already gone")
		}
	}

	msg, err := r.client.SendMessage(ctx, channelID, r.control)
	if err != nil {
		if errors.Is(err, platform.ErrForbidden) {
			log.Warn().Msg("missing permission to post control message")
		} else {
			log.Warn().Err(err).Msg("post control message failed")
		}
		return Failed, fmt.Errorf("post control message: %w", err)
	}

	r.mu.Lock()
	r.bindings[channelID] = msg.ID
	r.mu.Unlock()
	r.persist(ctx, "sticky:repin")
	log.Debug().Str("message", msg.ID).Msg("control message repinned")
	return Repinned, nil
}

func (r *Reconciler) persist(ctx context.Context, actor string) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	r.mu.Lock()
	snapshot := make(map[string]string, len(r.bindings))
	for ch, msg := range r.bindings {
		snapshot[ch] = msg
	}
	r.mu.Unlock()
	if err := ds.Save(ctx, r.store, actor, ds.RecordStickyBindings, recordVersion, snapshot); err != nil {
		r.log.Error().Err(err).Msg("persist sticky bindings failed")
	}
}
