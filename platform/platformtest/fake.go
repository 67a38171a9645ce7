// Package platformtest provides an in-memory platform.Client with an ordered
// message history per channel.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"entrybot/platform"
)

const BotID = "bot"

const (
	OpSend      = "send"
	OpEdit      = "edit"
	OpDelete    = "delete"
	OpFetch     = "fetch"
	OpFetchLast = "fetch_last"
)

type Call struct {
	Op        string
	ChannelID string
	MessageID string
}

type Stored struct {
	ID       string
	AuthorID string
	Body     platform.Outgoing
}

// Fake is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	seq      int
	channels map[string][]*Stored
	calls    []Call
	failures map[string][]error
}

func New() *Fake {
	return &Fake{
		channels: make(map[string][]*Stored),
		failures: make(map[string][]error),
	}
}

// FailNext makes the next call of op return err. Queued failures are consumed
// in order.
func (f *Fake) FailNext(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], err)
}

// Post appends a message authored by someone other than the bot, without
// recording a call.
func (f *Fake) Post(channelID, authorID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(channelID, authorID, platform.Outgoing{Content: "chatter"}).ID
}

// Remove deletes a message behind the client's back.
func (f *Fake) Remove(channelID, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(channelID, messageID)
}

func (f *Fake) Messages(channelID string) []Stored {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Stored, 0, len(f.channels[channelID]))
	for _, m := range f.channels[channelID] {
		out = append(out, *m)
	}
	return out
}

func (f *Fake) Get(channelID, messageID string) (Stored, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.channels[channelID] {
		if m.ID == messageID {
			return *m, true
		}
	}
	return Stored{}, false
}

func (f *Fake) Last(channelID string) (Stored, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.channels[channelID]
	if len(msgs) == 0 {
		return Stored{}, false
	}
	return *msgs[len(msgs)-1], true
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) SendMessage(_ context.Context, channelID string, msg platform.Outgoing) (platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpSend, ChannelID: channelID})
	if err := f.failureLocked(OpSend); err != nil {
		return platform.Message{}, err
	}
	m := f.appendLocked(channelID, BotID, msg)
	return platform.Message{ID: m.ID, ChannelID: channelID, AuthorID: BotID}, nil
}

func (f *Fake) EditMessage(_ context.Context, channelID, messageID string, msg platform.Outgoing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpEdit, ChannelID: channelID, MessageID: messageID})
	if err := f.failureLocked(OpEdit); err != nil {
		return err
	}
	for _, m := range f.channels[channelID] {
		if m.ID == messageID {
			m.Body = msg
			return nil
		}
	}
	return platform.ErrNotFound
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpDelete, ChannelID: channelID, MessageID: messageID})
	if err := f.failureLocked(OpDelete); err != nil {
		return err
	}
	if !f.removeLocked(channelID, messageID) {
		return platform.ErrNotFound
	}
	return nil
}

func (f *Fake) FetchMessage(_ context.Context, channelID, messageID string) (platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpFetch, ChannelID: channelID, MessageID: messageID})
	if err := f.failureLocked(OpFetch); err != nil {
		return platform.Message{}, err
	}
	for _, m := range f.channels[channelID] {
		if m.ID == messageID {
			return platform.Message{ID: m.ID, ChannelID: channelID, AuthorID: m.AuthorID}, nil
		}
	}
	return platform.Message{}, platform.ErrNotFound
}

func (f *Fake) FetchMostRecentMessage(_ context.Context, channelID string) (platform.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpFetchLast, ChannelID: channelID})
	if err := f.failureLocked(OpFetchLast); err != nil {
		return platform.Message{}, false, err
	}
	msgs := f.channels[channelID]
	if len(msgs) == 0 {
		return platform.Message{}, false, nil
	}
	m := msgs[len(msgs)-1]
	return platform.Message{ID: m.ID, ChannelID: channelID, AuthorID: m.AuthorID}, true, nil
}

func (f *Fake) appendLocked(channelID, authorID string, body platform.Outgoing) *Stored {
	f.seq++
	m := &Stored{ID: fmt.Sprintf("%d", 1000+f.seq), AuthorID: authorID, Body: body}
	f.channels[channelID] = append(f.channels[channelID], m)
	return m
}

func (f *Fake) removeLocked(channelID, messageID string) bool {
	msgs := f.channels[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.channels[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}

func (f *Fake) failureLocked(op string) error {
	q := f.failures[op]
	if len(q) == 0 {
		return nil
	}
	f.failures[op] = q[1:]
	return q[0]
}
