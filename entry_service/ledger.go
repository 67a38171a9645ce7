package entry_service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	ds "entrybot/database_service"
)

const (
	MaxSlotsPerSubmission = 2
	recordVersion         = 1
)

// NoResponseScope decides how far a "no response" mark reaches.
type NoResponseScope string

const (
	// ScopeGroup marks only the entries of the targeted submission.
	ScopeGroup NoResponseScope = "group"
	// ScopeOwner marks every active entry of the submission's owner.
	ScopeOwner NoResponseScope = "owner"
)

func ParseNoResponseScope(s string) (NoResponseScope, error) {
	switch NoResponseScope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeGroup, "":
		return ScopeGroup, nil
	case ScopeOwner:
		return ScopeOwner, nil
	default:
		return "", fmt.Errorf("invalid no-response scope %q: must be group or owner", s)
	}
}

type Options struct {
	NoResponseScope NoResponseScope
	Now             func() time.Time
	Logger          zerolog.Logger
}

// Ledger owns every entry ever registered. Decisions happen under mu and never
// wait on I/O; the store write happens afterwards under saveMu with a fresh
// snapshot, so the last write always reflects the latest state.
type Ledger struct {
	mu      sync.RWMutex
	entries []Entry
	last    time.Time

	saveMu sync.Mutex
	store  ds.Store

	scope NoResponseScope
	now   func() time.Time
	log   zerolog.Logger
}

func NewLedger(store ds.Store, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NoResponseScope == "" {
		opts.NoResponseScope = ScopeGroup
	}
	return &Ledger{
		store: store,
		scope: opts.NoResponseScope,
		now:   opts.Now,
		log:   opts.Logger.With().Str("component", "ledger").Logger(),
	}
}

// Load replaces the in-memory entries with the stored record.
func (l *Ledger) Load(ctx context.Context) error {
	entries, _, err := ds.Load(ctx, l.store, ds.RecordEntries, decodeEntries)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = entries
	for _, e := range entries {
		if e.CreatedAt.After(l.last) {
			l.last = e.CreatedAt
		}
	}
	l.log.Info().Int("entries", len(entries)).Msg("ledger loaded")
	return nil
}

// Both the versioned record and a bare array of entries decode to the same shape.
func decodeEntries(version int, data []byte) ([]Entry, error) {
	if version > recordVersion {
		return nil, fmt.Errorf("unsupported entries version %d", version)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// CanRegister is true iff no entry of ownerID has a blocking status.
func (l *Ledger) CanRegister(ownerID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.canRegisterLocked(ownerID)
}

func (l *Ledger) canRegisterLocked(ownerID string) bool {
	for _, e := range l.entries {
		if e.OwnerID == ownerID && e.Status.Blocking() {
			return false
		}
	}
	return true
}

// ValidateSelection checks a slot choice without touching the ledger. "other"
// must be chosen alone and needs free text.
func ValidateSelection(slots []SlotKey, freeText string) error {
	if len(slots) == 0 {
		return fmt.Errorf("%w: no slot chosen", ErrInvalidSelection)
	}
	if len(slots) > MaxSlotsPerSubmission {
		return fmt.Errorf("%w: at most %d slots", ErrInvalidSelection, MaxSlotsPerSubmission)
	}
	seen := make(map[SlotKey]bool, len(slots))
	for _, k := range slots {
		if _, ok := ParseSlotKey(string(k)); !ok {
			return fmt.Errorf("%w: unknown slot %q", ErrInvalidSelection, k)
		}
		if seen[k] {
			return fmt.Errorf("%w: slot %q chosen twice", ErrInvalidSelection, k)
		}
		seen[k] = true
	}
	if seen[SlotOther] {
		if len(slots) > 1 {
			return fmt.Errorf("%w: %q cannot be combined with other slots", ErrInvalidSelection, SlotOther)
		}
		if strings.TrimSpace(freeText) == "" {
			return fmt.Errorf("%w: %q needs a description", ErrInvalidSelection, SlotOther)
		}
	}
	return nil
}

// Register records one entry per chosen slot, all sharing reg.GroupID.
func (l *Ledger) Register(ctx context.Context, reg Registration) ([]Entry, error) {
	if err := ValidateSelection(reg.Slots, reg.FreeText); err != nil {
		return nil, err
	}
	if reg.GroupID == "" || reg.OwnerID == "" {
		return nil, fmt.Errorf("%w: missing group or owner", ErrInvalidSelection)
	}

	l.mu.Lock()
	if !l.canRegisterLocked(reg.OwnerID) {
		l.mu.Unlock()
		return nil, ErrDuplicateRegistration
	}
	for _, e := range l.entries {
		if e.ID == reg.GroupID {
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: group %s already recorded", ErrDuplicateRegistration, reg.GroupID)
		}
	}
	created := make([]Entry, 0, len(reg.Slots))
	for _, k := range reg.Slots {
		e := Entry{
			ID:               reg.GroupID,
			OwnerID:          reg.OwnerID,
			SlotKey:          k,
			Name:             reg.Name,
			ReferrerName:     reg.Referrer,
			Status:           StatusActive,
			CreatedAt:        l.tickLocked(),
			ChannelID:        reg.ChannelID,
			GuildID:          reg.GuildID,
			OwnerDisplayName: reg.OwnerDisplayName,
			OwnerAvatarURL:   reg.OwnerAvatarURL,
		}
		if k == SlotOther {
			e.FreeText = strings.TrimSpace(reg.FreeText)
		}
		created = append(created, e)
	}
	l.entries = append(l.entries, created...)
	l.mu.Unlock()

	l.log.Info().Str("owner", reg.OwnerID).Str("group", reg.GroupID).Int("slots", len(created)).Msg("registered")
	l.persist(ctx, "ledger:register")
	return created, nil
}

// MarkInterviewed moves every active entry of the group's owner to
// interviewed; the outcome belongs to the person, not the submission.
func (l *Ledger) MarkInterviewed(ctx context.Context, groupID string) (int, error) {
	return l.transition(ctx, "ledger:interviewed", groupID, StatusInterviewed, true, "")
}

// MarkNoResponse moves the group's active entries to no_response, or all of
// the owner's active entries when the ledger is configured with ScopeOwner.
func (l *Ledger) MarkNoResponse(ctx context.Context, groupID string) (int, error) {
	return l.transition(ctx, "ledger:no_response", groupID, StatusNoResponse, l.scope == ScopeOwner, "")
}

// SoftDelete tombstones the group's active entries, optionally only the one in
// slot. An empty slot means every slot.
func (l *Ledger) SoftDelete(ctx context.Context, groupID string, slot SlotKey) (int, error) {
	return l.transition(ctx, "ledger:delete", groupID, StatusDeleted, false, slot)
}

func (l *Ledger) transition(ctx context.Context, actor, groupID string, to Status, wholeOwner bool, slot SlotKey) (int, error) {
	l.mu.Lock()
	owner := ""
	for _, e := range l.entries {
		if e.ID == groupID && e.Status == StatusActive && (slot == "" || e.SlotKey == slot) {
			owner = e.OwnerID
			break
		}
	}
	if owner == "" {
		l.mu.Unlock()
		return 0, ErrNotFound
	}
	changed := 0
	for i := range l.entries {
		e := &l.entries[i]
		if e.Status != StatusActive {
			continue
		}
		match := e.ID == groupID && (slot == "" || e.SlotKey == slot)
		if wholeOwner {
			match = e.OwnerID == owner
		}
		if match {
			e.Status = to
			changed++
		}
	}
	l.mu.Unlock()

	l.log.Info().Str("group", groupID).Str("owner", owner).Str("status", string(to)).Int("changed", changed).Msg("status changed")
	l.persist(ctx, actor)
	return changed, nil
}

// tickLocked hands out strictly increasing creation times so entries created
// in the same instant keep their order.
func (l *Ledger) tickLocked() time.Time {
	t := l.now().UTC()
	if !t.After(l.last) {
		t = l.last.Add(time.Nanosecond)
	}
	l.last = t
	return t
}

// persist writes the whole ledger. A failed write is logged and tolerated:
// memory stays authoritative for this process.
func (l *Ledger) persist(ctx context.Context, actor string) {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	snapshot := l.Entries()
	if err := ds.Save(ctx, l.store, actor, ds.RecordEntries, recordVersion, snapshot); err != nil {
		l.log.Error().Err(err).Msg("persist ledger failed")
	}
}

// Entries returns a copy of every entry, tombstones included.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Active returns a copy of the active entries.
func (l *Ledger) Active() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Status == StatusActive {
			out = append(out, e)
		}
	}
	return out
}

// Group returns every entry of one submission.
func (l *Ledger) Group(groupID string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if e.ID == groupID {
			out = append(out, e)
		}
	}
	return out
}

// GroupsOf lists the submission ids of ownerID in registration order.
func (l *Ledger) GroupsOf(ownerID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	seen := map[string]bool{}
	for _, e := range l.entries {
		if e.OwnerID == ownerID && !seen[e.ID] {
			seen[e.ID] = true
			out = append(out, e.ID)
		}
	}
	return out
}

// OwnerOf reports the owner of a submission.
func (l *Ledger) OwnerOf(groupID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.ID == groupID {
			return e.OwnerID, true
		}
	}
	return "", false
}
