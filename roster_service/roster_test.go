package roster_service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	ds "entrybot/database_service"
	"entrybot/entry_service"
	"entrybot/platform"
	"entrybot/platform/platformtest"
)

type staticSource []entry_service.Entry

func (s staticSource) Active() []entry_service.Entry {
	var out []entry_service.Entry
	for _, e := range s {
		if e.Status == entry_service.StatusActive {
			out = append(out, e)
		}
	}
	return out
}

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func entry(id, name string, slot entry_service.SlotKey, minute int) entry_service.Entry {
	return entry_service.Entry{
		ID: id, OwnerID: "u-" + id, Name: name, SlotKey: slot, Status: entry_service.StatusActive,
		CreatedAt: t0.Add(time.Duration(minute) * time.Minute), ChannelID: "c", GuildID: "g",
	}
}

func bucket(v View, slot entry_service.SlotKey) Bucket {
	for _, b := range v.Buckets {
		if b.Slot == slot {
			return b
		}
	}
	return Bucket{}
}

func TestRenderFollowsSlotOrder(t *testing.T) {
	v := Render([]entry_service.Entry{
		entry("1", "Other", entry_service.SlotOther, 0),
		entry("2", "Late", entry_service.Slot20to0, 1),
		entry("3", "Early", entry_service.Slot0to3, 2),
	})
	var order []entry_service.SlotKey
	for _, b := range v.Buckets {
		if b.Count > 0 {
			order = append(order, b.Slot)
		}
	}
	want := []entry_service.SlotKey{entry_service.Slot0to3, entry_service.Slot20to0, entry_service.SlotOther}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	if len(v.Buckets) != len(entry_service.Slots) {
		t.Fatalf("every slot needs a bucket, got %d", len(v.Buckets))
	}
	if v.Total != 3 {
		t.Fatalf("unexpected total %d", v.Total)
	}
}

func TestRenderSortsBucketByCreation(t *testing.T) {
	v := Render([]entry_service.Entry{
		entry("1", "Second", entry_service.Slot9to12, 5),
		entry("2", "First", entry_service.Slot9to12, 1),
	})
	text := bucket(v, entry_service.Slot9to12).Text
	if strings.Index(text, "First") > strings.Index(text, "Second") {
		t.Fatalf("bucket not ordered by creation: %q", text)
	}
	if !strings.Contains(text, "https://discord.com/channels/g/c/2") {
		t.Fatalf("missing deep link: %q", text)
	}
}

func TestRenderSkipsInactiveAndShowsPlaceholder(t *testing.T) {
	gone := entry("1", "Gone", entry_service.Slot9to12, 0)
	gone.Status = entry_service.StatusDeleted
	other := entry("2", "Free", entry_service.SlotOther, 1)
	other.FreeText = "next wednesday"

	v := Render([]entry_service.Entry{gone, other})
	if b := bucket(v, entry_service.Slot9to12); b.Text != "none" || b.Count != 0 {
		t.Fatalf("expected placeholder, got %+v", b)
	}
	if b := bucket(v, entry_service.SlotOther); !strings.Contains(b.Text, "next wednesday") {
		t.Fatalf("free text missing: %q", b.Text)
	}
}

func TestRenderTruncatesLongBucket(t *testing.T) {
	var entries []entry_service.Entry
	for i := 0; i < 60; i++ {
		entries = append(entries, entry(fmt.Sprint(100000+i), strings.Repeat("名", 10), entry_service.SlotAnytime, i))
	}
	b := bucket(Render(entries), entry_service.SlotAnytime)
	if n := utf8.RuneCountInString(b.Text); n > FieldLimit {
		t.Fatalf("bucket text %d runes exceeds limit", n)
	}
	if !strings.Contains(b.Text, "more") {
		t.Fatalf("missing continuation marker: %q", b.Text)
	}
	if b.Count != 60 {
		t.Fatalf("count must include truncated entries, got %d", b.Count)
	}
}

func TestRenderCutsOversizedSingleLine(t *testing.T) {
	b := bucket(Render([]entry_service.Entry{
		entry("1", strings.Repeat("x", 2*FieldLimit), entry_service.Slot9to12, 0),
	}), entry_service.Slot9to12)
	n := utf8.RuneCountInString(b.Text)
	if n > FieldLimit {
		t.Fatalf("bucket text %d runes exceeds limit", n)
	}
	if !strings.HasPrefix(b.Text, "• xxx") || !strings.HasSuffix(b.Text, "…") {
		t.Fatalf("expected the line cut mid-text, got %q", b.Text[:40])
	}
}

func TestRenderKeepsWholeMessageWithinLimit(t *testing.T) {
	var entries []entry_service.Entry
	for si, slot := range entry_service.Slots {
		for i := 0; i < 40; i++ {
			id := fmt.Sprint(100000 + si*100 + i)
			entries = append(entries, entry(id, strings.Repeat("n", 30), slot.Key, si*100+i))
		}
	}
	msg := Render(entries).Message()
	embed := msg.Embeds[0]
	size := utf8.RuneCountInString(embed.Title) + utf8.RuneCountInString(embed.Description)
	for _, f := range embed.Fields {
		if n := utf8.RuneCountInString(f.Value); n > FieldLimit || n == 0 {
			t.Fatalf("field %q has %d runes", f.Name, n)
		}
		if !strings.Contains(f.Value, "more") {
			t.Fatalf("field %q lost its continuation marker", f.Name)
		}
		size += utf8.RuneCountInString(f.Name) + utf8.RuneCountInString(f.Value)
	}
	if size > MessageLimit {
		t.Fatalf("roster message has %d runes, limit %d", size, MessageLimit)
	}
}

func newAggregator(fake *platformtest.Fake, src Source, store ds.Store) *Aggregator {
	return NewAggregator(fake, src, store, "roster-chan", zerolog.Nop())
}

func TestSyncCreatesOnceThenEdits(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	src := staticSource{entry("1", "Taro", entry_service.Slot9to12, 0)}
	a := newAggregator(fake, src, ds.NewMemory())

	res, err := a.Sync(ctx)
	if err != nil || !res.Created {
		t.Fatalf("first sync: %+v %v", res, err)
	}
	first, _ := fake.Get("roster-chan", res.Binding.MessageID)

	res2, err := a.Sync(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if res2.Created || res2.Binding != res.Binding {
		t.Fatalf("second sync must reuse the message: %+v", res2)
	}
	if got := fake.Count(platformtest.OpSend); got != 1 {
		t.Fatalf("expected one roster message, %d sends", got)
	}
	second, _ := fake.Get("roster-chan", res.Binding.MessageID)
	if fmt.Sprint(first.Body) != fmt.Sprint(second.Body) {
		t.Fatalf("content changed without a ledger change")
	}
	if got := len(fake.Messages("roster-chan")); got != 1 {
		t.Fatalf("expected one message in channel, got %d", got)
	}
}

func TestSyncEditsAfterLedgerChange(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	src := &staticSource{entry("1", "Taro", entry_service.Slot9to12, 0)}
	a := NewAggregator(fake, src, ds.NewMemory(), "roster-chan", zerolog.Nop())
	res, _ := a.Sync(ctx)

	*src = append(*src, entry("2", "Jiro", entry_service.Slot0to3, 1))
	res2, err := a.Sync(ctx)
	if err != nil || !res2.Edited {
		t.Fatalf("expected edit: %+v %v", res2, err)
	}
	msg, _ := fake.Get("roster-chan", res.Binding.MessageID)
	if !strings.Contains(fmt.Sprint(msg.Body), "Jiro") {
		t.Fatalf("edit did not carry the new entry")
	}
}

func TestSyncRecreatesDeletedMessage(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	store := ds.NewMemory()
	a := newAggregator(fake, staticSource{}, store)
	res, _ := a.Sync(ctx)
	fake.Remove("roster-chan", res.Binding.MessageID)

	res2, err := a.Sync(ctx)
	if err != nil || !res2.Created {
		t.Fatalf("expected recreation: %+v %v", res2, err)
	}
	if res2.Binding.MessageID == res.Binding.MessageID {
		t.Fatalf("binding not replaced")
	}

	reloaded := newAggregator(fake, staticSource{}, store)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if b, ok := reloaded.Binding(); !ok || b != res2.Binding {
		t.Fatalf("persisted binding %+v, want %+v", b, res2.Binding)
	}
}

func TestSyncKeepsBindingOnTransientFailure(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	a := newAggregator(fake, staticSource{}, ds.NewMemory())
	res, _ := a.Sync(ctx)

	fake.FailNext(platformtest.OpFetch, platform.ErrUnavailable)
	if _, err := a.Sync(ctx); !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if b, _ := a.Binding(); b != res.Binding {
		t.Fatalf("binding changed on transient failure")
	}
	if got := fake.Count(platformtest.OpSend); got != 1 {
		t.Fatalf("transient failure must not create a message, %d sends", got)
	}
}

func TestSyncWithoutChannelIsNoop(t *testing.T) {
	fake := platformtest.New()
	a := NewAggregator(fake, staticSource{}, ds.NewMemory(), "", zerolog.Nop())
	res, err := a.Sync(context.Background())
	if err != nil || res.Created {
		t.Fatalf("unexpected %+v %v", res, err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("expected no platform calls")
	}
	a.BindChannel("here")
	res, err = a.Sync(context.Background())
	if err != nil || !res.Created || res.Binding.ChannelID != "here" {
		t.Fatalf("bound sync: %+v %v", res, err)
	}
}
