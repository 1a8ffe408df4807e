// Package reconcile merges server-confirmed messages and status changes into
// the conversation store.
package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chatclient/internal/events"
	"github.com/chatclient/internal/logger"
	"github.com/chatclient/internal/model"
)

// Outcome says what Reconcile did with a confirmed message.
type Outcome int

const (
	// Replaced: a pending entry was overwritten in place.
	Replaced Outcome = iota + 1
	// Appended: a peer message was added as incoming.
	Appended
	// DroppedOwnEcho: an own message with no pending entry left to match.
	DroppedOwnEcho
	// DroppedDuplicate: the id is already in the conversation.
	DroppedDuplicate
	// DroppedReservedID: the server id carries the local temp- prefix.
	DroppedReservedID
)

func (o Outcome) String() string {
	switch o {
	case Replaced:
		return "replaced"
	case Appended:
		return "appended"
	case DroppedOwnEcho:
		return "dropped_own_echo"
	case DroppedDuplicate:
		return "dropped_duplicate"
	case DroppedReservedID:
		return "dropped_reserved_id"
	}
	return "unknown"
}

// Store is the part of the conversation store the engine reads and mutates.
type Store interface {
	Append(m model.Message)
	Pending(conversationID string) []model.Message
	Index(conversationID, id string) int
	ReplaceAt(conversationID string, i int, m model.Message) bool
	Find(id string) (model.Message, bool)
	Update(conversationID, id string, fn func(*model.Message) bool) bool
	UpdateAll(conversationID string, fn func(*model.Message) bool) int
	PutChat(c model.Chat)
	PutUser(u model.User)
	AddDebugEvent(e model.DebugEvent)
}

// Settler cancels the fallback timer of a reconciled pending entry.
// outbox.Tracker implements it.
type Settler interface {
	Settle(id string)
}

// Engine must be used from the event loop only.
type Engine struct {
	store    Store
	settler  Settler
	identity string
}

func New(store Store, settler Settler) *Engine {
	return &Engine{store: store, settler: settler}
}

// SetIdentity sets the local user id used to recognise own messages.
func (e *Engine) SetIdentity(id string) { e.identity = id }

func (e *Engine) Identity() string { return e.identity }

// Reconcile merges a confirmed message into its conversation.
//
// Pending entries are searched in list order for, first, one with the same
// sender and text; then, for own messages only, one with the same text; then,
// for own messages only, the most recent pending entry of the local user.
// The wire protocol does not echo the temporary id, so this is the only
// correlation available.
func (e *Engine) Reconcile(m model.Message) Outcome {
	conv := m.ConversationID
	if model.IsTempID(m.ID) {
		logger.Errorf("message %s in chat %s uses the local id prefix, dropped", m.ID, conv)
		return DroppedReservedID
	}
	// The server announces new messages as "sending".
	m.Status = m.Status.AtLeastSent()
	if e.store.Index(conv, m.ID) >= 0 {
		logger.Debugf("duplicate message %s in chat %s dropped", m.ID, conv)
		return DroppedDuplicate
	}
	own := e.identity != "" && m.SenderID == e.identity
	pending := e.store.Pending(conv)

	match := -1
	for i := range pending {
		if pending[i].SenderID == m.SenderID && pending[i].Text == m.Text {
			match = i
			break
		}
	}
	if match < 0 && own {
		for i := range pending {
			if pending[i].Text == m.Text {
				match = i
				break
			}
		}
	}
	if match < 0 && own {
		for i := len(pending) - 1; i >= 0; i-- {
			if pending[i].SenderID == e.identity {
				match = i
				break
			}
		}
	}

	if match >= 0 {
		temp := pending[match]
		m.Direction = model.DirectionOutgoing
		if m.CreatedAt.IsZero() {
			m.CreatedAt = temp.CreatedAt
		}
		idx := e.store.Index(conv, temp.ID)
		if idx < 0 || !e.store.ReplaceAt(conv, idx, m) {
			// The entry vanished between lookup and replace; nothing to settle against.
			return e.unmatched(m, own)
		}
		e.settler.Settle(temp.ID)
		logger.Debugf("pending %s -> %s in chat %s status=%s", temp.ID, m.ID, conv, m.Status)
		return Replaced
	}
	return e.unmatched(m, own)
}

func (e *Engine) unmatched(m model.Message, own bool) Outcome {
	if own {
		logger.Debugf("own message %s in chat %s has no pending entry, dropped", m.ID, m.ConversationID)
		return DroppedOwnEcho
	}
	m.Direction = model.DirectionIncoming
	e.store.Append(m)
	from := m.SenderID
	if m.Sender != nil && m.Sender.Username != "" {
		from = m.Sender.Username
	}
	e.debug("message", fmt.Sprintf("new message from %s in chat %s", from, m.ConversationID), nil)
	return Appended
}

// ApplyStatus moves a message forward along sent < delivered < read.
// Local pending entries and backward moves are ignored.
func (e *Engine) ApplyStatus(u model.StatusUpdate) bool {
	if !u.Status.Valid() {
		return false
	}
	m, ok := e.store.Find(string(u.MessageID))
	if !ok {
		return false
	}
	return e.store.Update(m.ConversationID, m.ID, func(msg *model.Message) bool {
		if msg.IsPending() || u.Status.Rank() <= msg.Status.Rank() {
			return false
		}
		msg.Status = u.Status
		return true
	})
}

// ApplyChatRead marks own confirmed messages of the chat read when another
// user has read it. It returns how many messages changed.
func (e *Engine) ApplyChatRead(r model.ChatRead) int {
	if r.ChatID == "" || (e.identity != "" && string(r.UserID) == e.identity) {
		return 0
	}
	return e.store.UpdateAll(string(r.ChatID), func(m *model.Message) bool {
		if m.Direction != model.DirectionOutgoing || m.IsPending() || m.Status == model.MessageStatusRead {
			return false
		}
		m.Status = model.MessageStatusRead
		return true
	})
}

// Register subscribes the engine to the inbound events it consumes.
func (e *Engine) Register(d *events.Dispatcher) []events.Subscription {
	return []events.Subscription{
		d.On(events.Message, e.onMessage),
		d.On(events.MessageStatusUpdate, e.onStatusUpdate),
		d.On(events.ChatRead, e.onChatRead),
		d.On(events.ChatUpdate, e.onChatUpdate),
		d.On(events.UserUpdate, e.onUserUpdate),
		d.On(events.BotUpdate, e.onBotUpdate),
		d.On(events.DebugEvent, e.onDebugEvent),
	}
}

func raw(ev events.Event) ([]byte, error) {
	switch p := ev.Payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	}
	return nil, fmt.Errorf("reconcile: %s payload is %T, want raw JSON", ev.Type, ev.Payload)
}

func decode(ev events.Event, v any) error {
	data, err := raw(ev)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("reconcile: decode %s: %w", ev.Type, err)
	}
	return nil
}

func (e *Engine) onMessage(ev events.Event) error {
	data, err := raw(ev)
	if err != nil {
		return err
	}
	w, err := model.DecodeWireMessage(data)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if w.From != nil && w.From.ID != "" {
		e.store.PutUser(*w.From)
	}
	e.Reconcile(w.ToMessage())
	return nil
}

func (e *Engine) onStatusUpdate(ev events.Event) error {
	var u model.StatusUpdate
	if err := decode(ev, &u); err != nil {
		return err
	}
	e.ApplyStatus(u)
	return nil
}

func (e *Engine) onChatRead(ev events.Event) error {
	var r model.ChatRead
	if err := decode(ev, &r); err != nil {
		return err
	}
	e.ApplyChatRead(r)
	return nil
}

func (e *Engine) onChatUpdate(ev events.Event) error {
	var c model.Chat
	if err := decode(ev, &c); err != nil {
		return err
	}
	if c.ID == "" {
		return fmt.Errorf("reconcile: chat_update without id")
	}
	e.store.PutChat(c)
	return nil
}

func (e *Engine) onUserUpdate(ev events.Event) error {
	var u model.User
	if err := decode(ev, &u); err != nil {
		return err
	}
	if u.ID == "" {
		return fmt.Errorf("reconcile: user_update without id")
	}
	e.store.PutUser(u)
	return nil
}

func (e *Engine) onBotUpdate(ev events.Event) error {
	var u model.User
	if err := decode(ev, &u); err != nil {
		return err
	}
	if u.ID == "" {
		return fmt.Errorf("reconcile: bot_update without id")
	}
	u.IsBot = true
	e.store.PutUser(u)
	return nil
}

func (e *Engine) onDebugEvent(ev events.Event) error {
	var d struct {
		Type        string          `json:"type"`
		Description string          `json:"description"`
		Data        json.RawMessage `json:"data"`
	}
	if err := decode(ev, &d); err != nil {
		return err
	}
	e.debug(d.Type, d.Description, d.Data)
	return nil
}

func (e *Engine) debug(typ, description string, data json.RawMessage) {
	e.store.AddDebugEvent(model.DebugEvent{
		ID:          "debug-" + uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        typ,
		Description: description,
		Data:        data,
	})
}
