// Package outbox creates optimistic pending entries for outgoing messages and
// forwards them to the channel.
package outbox

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/loop"
	"github.com/chatclient/internal/model"
)

const (
	DefaultFallback = 3 * time.Second
	DefaultKeep     = 5
)

var ErrEmptyText = errors.New("outbox: empty message text")

// Sender transmits frames. connection.Manager implements it.
type Sender interface {
	SendMessage(chatID, text, fromUserID string) error
	MarkMessageRead(messageID string) error
}

// Store is the part of the conversation store the tracker mutates.
type Store interface {
	Append(m model.Message)
	Pending(conversationID string) []model.Message
	Remove(conversationID, id string) bool
	Update(conversationID, id string, fn func(*model.Message) bool) bool
}

type Options struct {
	// Fallback is how long an entry may stay "sending" before it is marked "sent".
	Fallback time.Duration
	// Keep is the number of pending entries retained per conversation.
	Keep int
}

// Tracker must be used from the event loop only.
type Tracker struct {
	sched  loop.Scheduler
	store  Store
	sender Sender
	opts   Options
	timers map[string]loop.Timer
	now    func() time.Time
}

func New(sched loop.Scheduler, store Store, sender Sender, opts Options) *Tracker {
	if opts.Fallback <= 0 {
		opts.Fallback = DefaultFallback
	}
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}
	return &Tracker{
		sched:  sched,
		store:  store,
		sender: sender,
		opts:   opts,
		timers: make(map[string]loop.Timer),
		now:    time.Now,
	}
}

// CreatePending appends a "sending" entry to the conversation and arms its
// fallback timer. Older pending entries beyond Keep are pruned.
func (t *Tracker) CreatePending(conversationID, text, senderID string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, ErrEmptyText
	}
	now := t.now()
	m := model.Message{
		ID:             tempID(now),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Kind:           model.KindText,
		Status:         model.MessageStatusSending,
		CreatedAt:      now,
		Direction:      model.DirectionOutgoing,
	}
	t.store.Append(m)
	t.prune(conversationID)

	id := m.ID
	t.timers[id] = t.sched.AfterFunc(t.opts.Fallback, func() { t.fallback(conversationID, id) })
	return m, nil
}

// Send creates the pending entry and transmits it. When the channel is down
// the entry stays "sending" and the returned error wraps
// connection.ErrNotConnected; the entry is returned either way.
func (t *Tracker) Send(conversationID, text, senderID string) (model.Message, error) {
	m, err := t.CreatePending(conversationID, text, senderID)
	if err != nil {
		return m, err
	}
	if err := t.sender.SendMessage(conversationID, m.Text, senderID); err != nil {
		logger.Errorf("send %s to chat %s: %v", m.ID, conversationID, err)
		return m, fmt.Errorf("outbox.Send: %w", err)
	}
	return m, nil
}

// MarkRead asks the server to mark a message read.
func (t *Tracker) MarkRead(messageID string) error {
	if model.IsTempID(messageID) {
		return nil
	}
	if err := t.sender.MarkMessageRead(messageID); err != nil {
		return fmt.Errorf("outbox.MarkRead: %w", err)
	}
	return nil
}

// Settle cancels the fallback timer of a pending entry that was reconciled.
func (t *Tracker) Settle(id string) {
	if tm, ok := t.timers[id]; ok {
		tm.Stop()
		delete(t.timers, id)
	}
}

// Armed returns the number of fallback timers still pending.
func (t *Tracker) Armed() int { return len(t.timers) }

func (t *Tracker) fallback(conversationID, id string) {
	delete(t.timers, id)
	// No-op when the entry was reconciled, pruned or already moved on.
	changed := t.store.Update(conversationID, id, func(m *model.Message) bool {
		if m.Status != model.MessageStatusSending {
			return false
		}
		m.Status = model.MessageStatusSent
		return true
	})
	if changed {
		logger.Debugf("fallback: %s marked sent", id)
	}
}

// prune drops the oldest pending entries beyond Keep.
func (t *Tracker) prune(conversationID string) {
	pending := t.store.Pending(conversationID)
	excess := len(pending) - t.opts.Keep
	if excess <= 0 {
		return
	}
	for _, m := range pending[:excess] {
		t.store.Remove(conversationID, m.ID)
		t.Settle(m.ID)
	}
	logger.Debugf("pruned %d pending entries in chat %s", excess, conversationID)
}

// tempID is "temp-<unix millis>-<9 random hex chars>".
func tempID(now time.Time) string {
	r := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d-%s", model.TempIDPrefix, now.UnixMilli(), r[:9])
}
