package sticky_service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	ds "entrybot/database_service"
	"entrybot/platform"
	"entrybot/platform/platformtest"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var control = platform.Outgoing{
	Content: "open the form",
	Buttons: []platform.Button{{Label: "Register", CustomID: "open", Style: platform.ButtonPrimary}},
}

func newReconciler(fake *platformtest.Fake, store ds.Store, c *clock) *Reconciler {
	return NewReconciler(fake, store, control, Options{
		Cooldown: 3 * time.Second,
		Now:      c.Now,
		Logger:   zerolog.Nop(),
	})
}

func controlCount(fake *platformtest.Fake, channelID string) int {
	n := 0
	for _, m := range fake.Messages(channelID) {
		if m.AuthorID == platformtest.BotID && m.Body.Content == control.Content {
			n++
		}
	}
	return n
}

func TestArmPinsControlMessage(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	fake.Post("c1", "alice")
	r := newReconciler(fake, ds.NewMemory(), &clock{})

	out, err := r.Arm(ctx, "c1")
	if err != nil || out != Repinned {
		t.Fatalf("arm: %v %v", out, err)
	}
	last, _ := fake.Last("c1")
	if bound, _ := r.Bound("c1"); bound != last.ID {
		t.Fatalf("bound %s is not last %s", bound, last.ID)
	}
}

func TestReconcileConvergesAndDebounces(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	c := &clock{now: time.Unix(0, 0)}
	r := newReconciler(fake, ds.NewMemory(), c)
	if _, err := r.Arm(ctx, "c1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	fake.Post("c1", "alice")
	fake.Post("c1", "bob")

	out, err := r.Trigger(ctx, "c1")
	if err != nil || out != Repinned {
		t.Fatalf("trigger: %v %v", out, err)
	}
	if n := controlCount(fake, "c1"); n != 1 {
		t.Fatalf("expected exactly one control message, got %d", n)
	}
	last, _ := fake.Last("c1")
	if bound, _ := r.Bound("c1"); bound != last.ID {
		t.Fatalf("control message is not last")
	}

	fake.ResetCalls()
	out, err = r.Trigger(ctx, "c1")
	if err != nil || out != Debounced {
		t.Fatalf("second trigger: %v %v", out, err)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Fatalf("debounced pass made platform calls: %v", calls)
	}

	c.Advance(3 * time.Second)
	out, err = r.Trigger(ctx, "c1")
	if err != nil || out != AlreadyLast {
		t.Fatalf("after cooldown: %v %v", out, err)
	}
	if got := fake.Count(platformtest.OpSend); got != 0 {
		t.Fatalf("already-last pass posted %d messages", got)
	}
}

func TestTriggerIgnoresUnarmedChannel(t *testing.T) {
	fake := platformtest.New()
	r := newReconciler(fake, ds.NewMemory(), &clock{})
	out, err := r.Trigger(context.Background(), "c1")
	if err != nil || out != Skipped {
		t.Fatalf("unexpected %v %v", out, err)
	}
	if len(fake.Calls()) != 0 {
		t.Fatalf("expected no calls")
	}
}

func TestConcurrentTriggersPostOnce(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	r := newReconciler(fake, ds.NewMemory(), &clock{})
	if _, err := r.Arm(ctx, "c1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	fake.Post("c1", "alice")
	fake.ResetCalls()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Ensure(ctx, "c1")
		}()
	}
	wg.Wait()
	if got := fake.Count(platformtest.OpSend); got != 1 {
		t.Fatalf("expected one repost, got %d", got)
	}
	if n := controlCount(fake, "c1"); n != 1 {
		t.Fatalf("expected one control message, got %d", n)
	}
}

func TestDeleteFailuresAreTolerated(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	r := newReconciler(fake, ds.NewMemory(), &clock{})
	if _, err := r.Arm(ctx, "c1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	old, _ := r.Bound("c1")
	fake.Post("c1", "alice")
	fake.FailNext(platformtest.OpDelete, platform.ErrForbidden)

	out, err := r.Ensure(ctx, "c1")
	if err != nil || out != Repinned {
		t.Fatalf("ensure: %v %v", out, err)
	}
	if bound, _ := r.Bound("c1"); bound == old {
		t.Fatalf("binding not replaced")
	}
}

func TestTransientDeleteFailureDefersRepin(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	r := newReconciler(fake, ds.NewMemory(), &clock{})
	if _, err := r.Arm(ctx, "c1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	old, _ := r.Bound("c1")
	fake.Post("c1", "alice")
	fake.FailNext(platformtest.OpDelete, platform.ErrUnavailable)

	out, err := r.Ensure(ctx, "c1")
	if out != Failed || !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected failure, got %v %v", out, err)
	}
	if fake.Count(platformtest.OpSend) != 1 {
		t.Fatalf("no control message may be posted while the old one is still up")
	}
	if bound, _ := r.Bound("c1"); bound != old {
		t.Fatalf("binding changed on failed delete")
	}

	out, err = r.Ensure(ctx, "c1")
	if err != nil || out != Repinned {
		t.Fatalf("next pass should heal: %v %v", out, err)
	}
	if n := controlCount(fake, "c1"); n != 1 {
		t.Fatalf("expected one control message, got %d", n)
	}
	if _, ok := fake.Get("c1", old); ok {
		t.Fatalf("old control message still in the channel")
	}
}

func TestSendFailureKeepsOldBinding(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	r := newReconciler(fake, ds.NewMemory(), &clock{})
	if _, err := r.Arm(ctx, "c1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	old, _ := r.Bound("c1")
	fake.Post("c1", "alice")
	fake.FailNext(platformtest.OpSend, platform.ErrUnavailable)

	out, err := r.Ensure(ctx, "c1")
	if out != Failed || !errors.Is(err, platform.ErrUnavailable) {
		t.Fatalf("expected failure, got %v %v", out, err)
	}
	if bound, _ := r.Bound("c1"); bound != old {
		t.Fatalf("binding changed on failed send")
	}

	out, err = r.Ensure(ctx, "c1")
	if err != nil || out != Repinned {
		t.Fatalf("next pass should heal: %v %v", out, err)
	}
	if n := controlCount(fake, "c1"); n != 1 {
		t.Fatalf("expected one control message, got %d", n)
	}
}

func TestDisarmRemovesBindingAndMessage(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	store := ds.NewMemory()
	r := newReconciler(fake, store, &clock{})
	if _, err := r.Arm(ctx, "c1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	ok, err := r.Disarm(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("disarm: %v %v", ok, err)
	}
	if controlCount(fake, "c1") != 0 {
		t.Fatalf("control message left behind")
	}
	fake.Post("c1", "alice")
	if out, _ := r.Trigger(ctx, "c1"); out != Skipped {
		t.Fatalf("disarmed channel reconciled: %v", out)
	}
	if ok, _ := r.Disarm(ctx, "c1"); ok {
		t.Fatalf("second disarm should report nothing to do")
	}

	reloaded := newReconciler(fake, store, &clock{})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Tracked("c1") {
		t.Fatalf("disarm not persisted")
	}
}

func TestReconcileAllAfterRestart(t *testing.T) {
	ctx := context.Background()
	fake := platformtest.New()
	store := ds.NewMemory()
	if err := store.Put(ctx, "", ds.RecordStickyBindings, []byte(`{"c1": 999, "c2": "998"}`)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	fake.Post("c1", "alice")
	r := newReconciler(fake, store, &clock{})
	if err := r.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := r.Channels(); len(got) != 2 {
		t.Fatalf("expected legacy bindings, got %v", got)
	}
	if err := r.ReconcileAll(ctx); err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	for _, ch := range []string{"c1", "c2"} {
		last, ok := fake.Last(ch)
		bound, _ := r.Bound(ch)
		if !ok || last.ID != bound {
			t.Fatalf("%s not pinned", ch)
		}
	}
}
