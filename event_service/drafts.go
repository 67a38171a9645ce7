package event_service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const draftTTL = 10 * time.Minute

// draft holds the first half of the form until the slots arrive.
type draft struct {
	Token     string
	Actor     Actor
	ChannelID string
	GuildID   string
	Name      string
	Referrer  string
	CreatedAt time.Time
}

type draftBook struct {
	mu     sync.Mutex
	drafts map[string]draft
	now    func() time.Time
}

func newDraftBook(now func() time.Time) *draftBook {
	return &draftBook{drafts: make(map[string]draft), now: now}
}

// put replaces any earlier draft of the same owner.
func (b *draftBook) put(d draft) draft {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	d.Token = uuid.NewString()
	d.CreatedAt = b.now()
	b.drafts[d.Actor.UserID] = d
	return d
}

func (b *draftBook) get(ownerID string) (draft, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	d, ok := b.drafts[ownerID]
	return d, ok
}

func (b *draftBook) drop(ownerID, token string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.drafts[ownerID]; ok && d.Token == token {
		delete(b.drafts, ownerID)
	}
}

func (b *draftBook) sweepLocked() {
	cutoff := b.now().Add(-draftTTL)
	for owner, d := range b.drafts {
		if d.CreatedAt.Before(cutoff) {
			delete(b.drafts, owner)
		}
	}
}
