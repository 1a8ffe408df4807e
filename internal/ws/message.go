package ws

import (
	"bytes"
	"encoding/json"
	"sync"
)

// FrameType names an outbound frame.
type FrameType string

const (
	FrameSubscribe        FrameType = "subscribe"
	FrameUnsubscribe      FrameType = "unsubscribe"
	FrameSendMessage      FrameType = "send_message"
	FrameMarkMessageRead  FrameType = "mark_message_read"
	FrameUpdateUserStatus FrameType = "update_user_status"
	FramePing             FrameType = "ping"
)

// InboundFrame is what the server sends. Data is kept raw; consumers decode it.
type InboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// OutgoingFrame is what the client sends to the server.
type OutgoingFrame struct {
	Type FrameType `json:"type"`
	Data any       `json:"data"`
}

// --- Typed payloads for outbound frames ---

// SendMessagePayload is the data of send_message.
type SendMessagePayload struct {
	ChatID     string `json:"chat_id"`
	Text       string `json:"text"`
	FromUserID string `json:"from_user_id"`
}

// MarkReadPayload is the data of mark_message_read.
type MarkReadPayload struct {
	MessageID string `json:"message_id"`
}

// UserStatusPayload is the data of update_user_status.
type UserStatusPayload struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// bufPool pools bytes.Buffer for JSON encoding of outbound frames.
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// EncodeFrame marshals f for a WebSocket text message.
func EncodeFrame(f OutgoingFrame) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// DecodeFrame parses one inbound text message.
func DecodeFrame(raw []byte) (InboundFrame, error) {
	var f InboundFrame
	err := json.Unmarshal(raw, &f)
	return f, err
}
