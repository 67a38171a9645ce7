package entry_service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	ds "entrybot/database_service"
)

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, store ds.Store, scope NoResponseScope) *Ledger {
	t.Helper()
	return NewLedger(store, Options{
		NoResponseScope: scope,
		Now:             func() time.Time { return fixedNow },
		Logger:          zerolog.Nop(),
	})
}

func register(t *testing.T, l *Ledger, group, owner string, slots ...SlotKey) []Entry {
	t.Helper()
	created, err := l.Register(context.Background(), Registration{
		GroupID:   group,
		OwnerID:   owner,
		ChannelID: "chan",
		GuildID:   "guild",
		Name:      "Taro",
		Referrer:  "Hanako",
		Slots:     slots,
	})
	if err != nil {
		t.Fatalf("register %s: %v", group, err)
	}
	return created
}

func statuses(l *Ledger, group string) []Status {
	var out []Status
	for _, e := range l.Group(group) {
		out = append(out, e.Status)
	}
	return out
}

func TestRegisterCreatesOneEntryPerSlot(t *testing.T) {
	l := newTestLedger(t, ds.NewMemory(), ScopeGroup)
	created := register(t, l, "g1", "u1", Slot9to12, Slot12to15)
	if len(created) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(created))
	}
	for _, e := range created {
		if e.ID != "g1" || e.OwnerID != "u1" || e.Status != StatusActive || e.Name != "Taro" || e.ReferrerName != "Hanako" {
			t.Fatalf("unexpected entry %+v", e)
		}
	}
	if !created[0].CreatedAt.Before(created[1].CreatedAt) {
		t.Fatalf("creation times not strictly increasing: %v %v", created[0].CreatedAt, created[1].CreatedAt)
	}
	if l.CanRegister("u1") {
		t.Fatalf("owner with active entries must not register again")
	}
}

func TestSecondRegistrationIsRejected(t *testing.T) {
	store := ds.NewMemory()
	l := newTestLedger(t, store, ScopeGroup)
	register(t, l, "g1", "u1", Slot9to12)
	before := len(l.Entries())

	_, err := l.Register(context.Background(), Registration{GroupID: "g2", OwnerID: "u1", Slots: []SlotKey{Slot0to3}})
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
	if len(l.Entries()) != before {
		t.Fatalf("ledger changed on rejected registration")
	}
}

func TestInterviewedStillBlocksButTerminalStatusesDoNot(t *testing.T) {
	l := newTestLedger(t, ds.NewMemory(), ScopeGroup)
	register(t, l, "g1", "u1", Slot9to12)
	if _, err := l.MarkInterviewed(context.Background(), "g1"); err != nil {
		t.Fatalf("mark interviewed: %v", err)
	}
	if l.CanRegister("u1") {
		t.Fatalf("interviewed owner must stay blocked")
	}

	register(t, l, "g2", "u2", Slot9to12)
	if _, err := l.MarkNoResponse(context.Background(), "g2"); err != nil {
		t.Fatalf("mark no response: %v", err)
	}
	if !l.CanRegister("u2") {
		t.Fatalf("no_response must not block")
	}

	register(t, l, "g3", "u3", Slot9to12)
	if _, err := l.SoftDelete(context.Background(), "g3", ""); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if !l.CanRegister("u3") {
		t.Fatalf("deleted must not block")
	}
}

func TestMarkInterviewedCascadesAcrossOwnerGroups(t *testing.T) {
	l := newTestLedger(t, ds.NewMemory(), ScopeGroup)
	register(t, l, "g1", "u1", Slot0to3, Slot3to6)
	if _, err := l.SoftDelete(context.Background(), "g1", ""); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	register(t, l, "g2", "u1", Slot6to9, Slot9to12)
	register(t, l, "g3", "u2", Slot9to12)

	// Force a second active group for u1 the way an operator migration would.
	l.mu.Lock()
	l.entries = append(l.entries, Entry{ID: "g4", OwnerID: "u1", SlotKey: Slot15to20, Status: StatusActive})
	l.mu.Unlock()

	n, err := l.MarkInterviewed(context.Background(), "g2")
	if err != nil {
		t.Fatalf("mark interviewed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 changed entries, got %d", n)
	}
	for _, s := range append(statuses(l, "g2"), statuses(l, "g4")...) {
		if s != StatusInterviewed {
			t.Fatalf("expected interviewed, got %s", s)
		}
	}
	for _, s := range statuses(l, "g1") {
		if s != StatusDeleted {
			t.Fatalf("tombstones must not change, got %s", s)
		}
	}
	if s := statuses(l, "g3"); s[0] != StatusActive {
		t.Fatalf("other owner touched: %v", s)
	}
}

func TestMarkNoResponseScopes(t *testing.T) {
	for _, tc := range []struct {
		scope   NoResponseScope
		changed int
		other   Status
	}{
		{ScopeGroup, 2, StatusActive},
		{ScopeOwner, 3, StatusNoResponse},
	} {
		t.Run(string(tc.scope), func(t *testing.T) {
			l := newTestLedger(t, ds.NewMemory(), tc.scope)
			register(t, l, "g1", "u1", Slot0to3, Slot3to6)
			l.mu.Lock()
			l.entries = append(l.entries, Entry{ID: "g2", OwnerID: "u1", SlotKey: SlotAnytime, Status: StatusActive})
			l.mu.Unlock()

			n, err := l.MarkNoResponse(context.Background(), "g1")
			if err != nil {
				t.Fatalf("mark no response: %v", err)
			}
			if n != tc.changed {
				t.Fatalf("expected %d changed, got %d", tc.changed, n)
			}
			if s := statuses(l, "g2"); s[0] != tc.other {
				t.Fatalf("expected other group %s, got %s", tc.other, s[0])
			}
		})
	}
}

func TestTransitionsRequireActiveTarget(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, ds.NewMemory(), ScopeGroup)
	if _, err := l.MarkInterviewed(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	register(t, l, "g1", "u1", Slot9to12)
	if _, err := l.MarkNoResponse(ctx, "g1"); err != nil {
		t.Fatalf("mark no response: %v", err)
	}
	if _, err := l.MarkInterviewed(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for terminal group, got %v", err)
	}
}

func TestSoftDeleteWithSlotFilter(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, ds.NewMemory(), ScopeGroup)
	register(t, l, "g1", "u1", Slot9to12, Slot12to15)

	if _, err := l.SoftDelete(ctx, "g1", Slot0to3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unmatched slot, got %v", err)
	}
	n, err := l.SoftDelete(ctx, "g1", Slot12to15)
	if err != nil || n != 1 {
		t.Fatalf("soft delete: n=%d err=%v", n, err)
	}
	active := l.Active()
	if len(active) != 1 || active[0].SlotKey != Slot9to12 {
		t.Fatalf("unexpected active entries %+v", active)
	}
	if len(l.Entries()) != 2 {
		t.Fatalf("soft delete must keep the record")
	}
}

func TestValidateSelection(t *testing.T) {
	for _, tc := range []struct {
		name  string
		slots []SlotKey
		text  string
		ok    bool
	}{
		{"single", []SlotKey{Slot9to12}, "", true},
		{"two", []SlotKey{Slot9to12, SlotAnytime}, "", true},
		{"other alone", []SlotKey{SlotOther}, "next wednesday", true},
		{"none", nil, "", false},
		{"three", []SlotKey{Slot0to3, Slot3to6, Slot6to9}, "", false},
		{"duplicate", []SlotKey{Slot0to3, Slot0to3}, "", false},
		{"unknown", []SlotKey{"25-26"}, "", false},
		{"other with slot", []SlotKey{SlotOther, Slot0to3}, "x", false},
		{"other without text", []SlotKey{SlotOther}, "  ", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSelection(tc.slots, tc.text)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidSelection) {
				t.Fatalf("expected ErrInvalidSelection, got %v", err)
			}
		})
	}
}

func TestRegisterOtherKeepsFreeText(t *testing.T) {
	l := newTestLedger(t, ds.NewMemory(), ScopeGroup)
	created, err := l.Register(context.Background(), Registration{
		GroupID: "g1", OwnerID: "u1", Slots: []SlotKey{SlotOther}, FreeText: " next wednesday ",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created[0].FreeText != "next wednesday" {
		t.Fatalf("unexpected free text %q", created[0].FreeText)
	}
}

func TestLedgerPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := ds.NewMemory()
	l := newTestLedger(t, store, ScopeGroup)
	register(t, l, "g1", "u1", Slot9to12)
	if _, err := l.MarkInterviewed(ctx, "g1"); err != nil {
		t.Fatalf("mark interviewed: %v", err)
	}
	if store.Puts() != 2 {
		t.Fatalf("expected a write per mutation, got %d", store.Puts())
	}

	reloaded := newTestLedger(t, store, ScopeGroup)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := reloaded.Entries()
	if len(got) != 1 || got[0].Status != StatusInterviewed || got[0].SlotKey != Slot9to12 {
		t.Fatalf("unexpected reloaded entries %+v", got)
	}
	created := register(t, reloaded, "g2", "u2", Slot0to3)
	if !created[0].CreatedAt.After(got[0].CreatedAt) {
		t.Fatalf("clock must continue after reloaded entries")
	}
}

func TestLoadAcceptsBareEntryArray(t *testing.T) {
	ctx := context.Background()
	store := ds.NewMemory()
	legacy := `[{"id":"555","owner_id":"u1","slot_key":"20-0","name":"Taro","referrer_name":"Hanako","status":"active","created_at":"2026-03-01T10:00:00Z","channel_id":"c","guild_id":"g"}]`
	if err := store.Put(ctx, "test", ds.RecordEntries, []byte(legacy)); err != nil {
		t.Fatal(err)
	}
	l := newTestLedger(t, store, ScopeGroup)
	if err := l.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if l.CanRegister("u1") {
		t.Fatal("legacy active entry must still block its owner")
	}
	if got := l.Group("555"); len(got) != 1 || got[0].SlotKey != Slot20to0 {
		t.Fatalf("unexpected group %+v", got)
	}
}

type failingStore struct{ *ds.Memory }

func (failingStore) Put(context.Context, string, string, []byte) error {
	return errors.New("disk full")
}

func TestPersistenceFailureKeepsMemoryState(t *testing.T) {
	l := newTestLedger(t, failingStore{ds.NewMemory()}, ScopeGroup)
	register(t, l, "g1", "u1", Slot9to12)
	if len(l.Active()) != 1 {
		t.Fatalf("registration must survive a failed write")
	}
}

func TestParseNoResponseScope(t *testing.T) {
	if s, err := ParseNoResponseScope(""); err != nil || s != ScopeGroup {
		t.Fatalf("default scope: %v %v", s, err)
	}
	if s, err := ParseNoResponseScope("Owner"); err != nil || s != ScopeOwner {
		t.Fatalf("owner scope: %v %v", s, err)
	}
	if _, err := ParseNoResponseScope("guild"); err == nil {
		t.Fatalf("expected error")
	}
}
