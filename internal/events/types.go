package events

// Type is the closed set of events the core publishes.
type Type uint8

const (
	// Channel lifecycle, produced by the connection manager.
	Connect Type = iota + 1
	ConnectError
	Disconnect
	Reconnecting
	ReconnectError
	ReconnectFailed
	StateChange

	// Inbound frame types, dispatched verbatim with the frame data as payload.
	Message
	MessageStatusUpdate
	MessageDelete
	ChatRead
	UserUpdate
	ChatUpdate
	BotUpdate
	DebugEvent
	Subscribed
	Pong

	typeCount
)

var names = [typeCount]string{
	Connect:             "connect",
	ConnectError:        "connect_error",
	Disconnect:          "disconnect",
	Reconnecting:        "reconnecting",
	ReconnectError:      "reconnect_error",
	ReconnectFailed:     "reconnect_failed",
	StateChange:         "state_change",
	Message:             "message",
	MessageStatusUpdate: "message_status_update",
	MessageDelete:       "message_delete",
	ChatRead:            "chat_read",
	UserUpdate:          "user_update",
	ChatUpdate:          "chat_update",
	BotUpdate:           "bot_update",
	DebugEvent:          "debug_event",
	Subscribed:          "subscribed",
	Pong:                "pong",
}

var byName = func() map[string]Type {
	m := make(map[string]Type, len(names))
	for t, n := range names {
		if n != "" {
			m[n] = Type(t)
		}
	}
	return m
}()

// String returns the wire name of t.
func (t Type) String() string {
	if t == 0 || t >= typeCount {
		return "unknown"
	}
	return names[t]
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	return t > 0 && t < typeCount
}

// Inbound reports whether t can arrive as a frame from the server.
func (t Type) Inbound() bool {
	return t >= Message && t < typeCount
}

// Parse maps a wire name to its Type.
func Parse(name string) (Type, bool) {
	t, ok := byName[name]
	return t, ok
}

// ParseInbound is Parse restricted to inbound frame types.
func ParseInbound(name string) (Type, bool) {
	t, ok := byName[name]
	if !ok || !t.Inbound() {
		return 0, false
	}
	return t, true
}

// InboundTypes lists every inbound frame type, in declaration order.
func InboundTypes() []Type {
	out := make([]Type, 0, typeCount-Message)
	for t := Message; t < typeCount; t++ {
		out = append(out, t)
	}
	return out
}
