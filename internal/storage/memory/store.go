// Package memory holds the canonical conversation lists and connection flags.
// Mutation happens on the event loop only; readers on other goroutines get copies.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/chatclient/internal/model"
	"github.com/chatclient/internal/storage"
)

const defaultDebugLogSize = 100

type Store struct {
	mu           sync.RWMutex
	lists        map[string][]model.Message
	state        model.ConnectionState
	reconnecting bool
	attempt      int
	chats        map[string]model.Chat
	users        map[string]model.User
	debug        []model.DebugEvent // newest first
	debugSize    int
	sink         storage.ChangeSink
	now          func() time.Time
}

type Option func(*Store)

// WithSink reports every mutation to s.
func WithSink(s storage.ChangeSink) Option {
	return func(st *Store) { st.sink = s }
}

// WithDebugLogSize caps the debug log. Non-positive keeps the default.
func WithDebugLogSize(n int) Option {
	return func(st *Store) {
		if n > 0 {
			st.debugSize = n
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		lists:     make(map[string][]model.Message),
		state:     model.StateDisconnected,
		chats:     make(map[string]model.Chat),
		users:     make(map[string]model.User),
		debugSize: defaultDebugLogSize,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) publish(c storage.Change) {
	if s.sink == nil {
		return
	}
	c.At = s.now()
	s.sink.Publish(c)
}

// --- Conversation lists ---

// Append adds m to the end of its conversation.
func (s *Store) Append(m model.Message) {
	s.mu.Lock()
	s.lists[m.ConversationID] = append(s.lists[m.ConversationID], m)
	idx := len(s.lists[m.ConversationID]) - 1
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeMessageAdded, ConversationID: m.ConversationID, Index: idx, Message: &m})
}

// Messages returns a copy of the conversation list.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[conversationID]
	out := make([]model.Message, len(list))
	copy(out, list)
	return out
}

// SetMessages replaces a conversation list wholesale (initial seed from the API).
// Entries still pending locally are kept at the end.
func (s *Store) SetMessages(conversationID string, msgs []model.Message) {
	s.mu.Lock()
	var pending []model.Message
	for _, m := range s.lists[conversationID] {
		if m.IsPending() {
			pending = append(pending, m)
		}
	}
	list := make([]model.Message, 0, len(msgs)+len(pending))
	list = append(list, msgs...)
	list = append(list, pending...)
	s.lists[conversationID] = list
	n := len(list)
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeMessagesSeeded, ConversationID: conversationID, Count: n})
}

// Conversations returns the ids of all conversations with a list, sorted.
func (s *Store) Conversations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.lists))
	for id := range s.lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Index returns the position of id in the conversation, or -1.
func (s *Store) Index(conversationID, id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.lists[conversationID], id)
}

func indexOf(list []model.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// Get returns the message with id in the conversation.
func (s *Store) Get(conversationID, id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[conversationID]
	if i := indexOf(list, id); i >= 0 {
		return list[i], true
	}
	return model.Message{}, false
}

// Find looks id up across all conversations.
func (s *Store) Find(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.lists {
		if i := indexOf(list, id); i >= 0 {
			return list[i], true
		}
	}
	return model.Message{}, false
}

// Pending returns the locally created entries of a conversation in list order.
func (s *Store) Pending(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for _, m := range s.lists[conversationID] {
		if m.IsPending() {
			out = append(out, m)
		}
	}
	return out
}

// ReplaceAt overwrites the entry at index i in place. It reports false when
// the list has no such index.
func (s *Store) ReplaceAt(conversationID string, i int, m model.Message) bool {
	s.mu.Lock()
	list := s.lists[conversationID]
	if i < 0 || i >= len(list) {
		s.mu.Unlock()
		return false
	}
	list[i] = m
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeMessageReplaced, ConversationID: conversationID, Index: i, Message: &m})
	return true
}

// Update applies fn to the message with id. fn reports whether it changed
// anything; only then is the change published.
func (s *Store) Update(conversationID, id string, fn func(*model.Message) bool) bool {
	s.mu.Lock()
	list := s.lists[conversationID]
	i := indexOf(list, id)
	if i < 0 || !fn(&list[i]) {
		s.mu.Unlock()
		return false
	}
	m := list[i]
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeMessageUpdated, ConversationID: conversationID, Index: i, Message: &m})
	return true
}

// UpdateAll applies fn to every message of the conversation and returns how
// many it changed.
func (s *Store) UpdateAll(conversationID string, fn func(*model.Message) bool) int {
	s.mu.Lock()
	list := s.lists[conversationID]
	var changed []storage.Change
	for i := range list {
		if fn(&list[i]) {
			m := list[i]
			changed = append(changed, storage.Change{Kind: storage.ChangeMessageUpdated, ConversationID: conversationID, Index: i, Message: &m})
		}
	}
	s.mu.Unlock()
	for _, c := range changed {
		s.publish(c)
	}
	return len(changed)
}

// Remove deletes the message with id from the conversation.
func (s *Store) Remove(conversationID, id string) bool {
	s.mu.Lock()
	list := s.lists[conversationID]
	i := indexOf(list, id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	m := list[i]
	s.lists[conversationID] = append(list[:i], list[i+1:]...)
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeMessageRemoved, ConversationID: conversationID, Index: i, Message: &m})
	return true
}

// --- Connection status ---

// RecordState stores the channel state. reconnecting is true while an
// automatic reconnect is pending or in flight; attempt is the current attempt.
func (s *Store) RecordState(state model.ConnectionState, attempt int) {
	s.mu.Lock()
	s.state = state
	s.reconnecting = state == model.StateReconnecting
	s.attempt = attempt
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeState, State: state, Reconnecting: state == model.StateReconnecting, Count: attempt})
}

// ConnectionState returns the last recorded state, the reconnecting flag and
// the current reconnect attempt.
func (s *Store) ConnectionState() (model.ConnectionState, bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.reconnecting, s.attempt
}

// --- Directories ---

func (s *Store) PutChat(c model.Chat) {
	s.mu.Lock()
	if prev, ok := s.chats[string(c.ID)]; ok {
		c = mergeChat(prev, c)
	}
	s.chats[string(c.ID)] = c
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeChat, ConversationID: string(c.ID), Chat: &c})
}

// mergeChat keeps fields a partial chat_update leaves empty.
func mergeChat(prev, next model.Chat) model.Chat {
	if next.Type == "" {
		next.Type = prev.Type
	}
	if next.Title == "" {
		next.Title = prev.Title
	}
	if next.Username == "" {
		next.Username = prev.Username
	}
	if next.Description == "" {
		next.Description = prev.Description
	}
	if next.Members == nil {
		next.Members = prev.Members
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = prev.CreatedAt
	}
	return next
}

func (s *Store) Chat(id string) (model.Chat, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	return c, ok
}

// Chats returns all known chats sorted by id.
func (s *Store) Chats() []model.Chat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	s.users[string(u.ID)] = u
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeUser, User: &u})
}

func (s *Store) User(id string) (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// --- Debug log ---

// AddDebugEvent prepends e and drops the oldest entries beyond the cap.
func (s *Store) AddDebugEvent(e model.DebugEvent) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	s.mu.Lock()
	s.debug = append(s.debug, model.DebugEvent{})
	copy(s.debug[1:], s.debug)
	s.debug[0] = e
	if len(s.debug) > s.debugSize {
		s.debug = s.debug[:s.debugSize]
	}
	s.mu.Unlock()
	s.publish(storage.Change{Kind: storage.ChangeDebug, Debug: &e})
}

// DebugLog returns the debug log, newest first.
func (s *Store) DebugLog() []model.DebugEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DebugEvent, len(s.debug))
	copy(out, s.debug)
	return out
}
