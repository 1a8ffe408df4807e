package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_AcceptsStringsAndNumbers(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
		C ID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"x-1","b":42,"c":null}`), &v))
	assert.Equal(t, ID("x-1"), v.A)
	assert.Equal(t, ID("42"), v.B)
	assert.Equal(t, ID(""), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}

func TestDecodeWireMessage(t *testing.T) {
	w, err := DecodeWireMessage([]byte(`{"id":5,"chat_id":"c1","from":{"id":9,"username":"ann"},"from_id":"ignored","text":"hi","type":"TEXT","status":"delivered","timestamp":"2024-05-01T10:00:00Z"}`))
	require.NoError(t, err)
	m := w.ToMessage()
	assert.Equal(t, "5", m.ID)
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "9", m.SenderID)
	assert.Equal(t, KindText, m.Kind)
	assert.Equal(t, MessageStatusDelivered, m.Status)
	assert.Equal(t, 2024, m.CreatedAt.Year())
	assert.Empty(t, m.Direction)
	require.NotNil(t, m.Sender)
	assert.Equal(t, "ann", m.Sender.Username)
}

func TestDecodeWireMessage_FallbacksAndErrors(t *testing.T) {
	w, err := DecodeWireMessage([]byte(`{"id":"m1","chat_id":"c1","from_id":3,"text":"x","created_at":"2023-01-02T00:00:00Z"}`))
	require.NoError(t, err)
	m := w.ToMessage()
	assert.Equal(t, "3", m.SenderID)
	assert.Equal(t, KindText, m.Kind)
	assert.Equal(t, 2023, m.CreatedAt.Year())

	_, err = DecodeWireMessage([]byte(`{"chat_id":"c1"}`))
	assert.Error(t, err)
	_, err = DecodeWireMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestStatusRank(t *testing.T) {
	assert.Less(t, MessageStatusSending.Rank(), MessageStatusSent.Rank())
	assert.Less(t, MessageStatusSent.Rank(), MessageStatusDelivered.Rank())
	assert.Less(t, MessageStatusDelivered.Rank(), MessageStatusRead.Rank())
	assert.False(t, MessageStatus("seen").Valid())
}

func TestPendingAndTempIDs(t *testing.T) {
	m := Message{ID: "temp-1-abc", Status: MessageStatusSent}
	assert.True(t, IsTempID(m.ID))
	assert.True(t, m.IsPending())

	m.ID = "17"
	assert.False(t, m.IsPending())
}

func TestUserFullName(t *testing.T) {
	u := User{FirstName: "Ann"}
	assert.Equal(t, "Ann", u.FullName())
	u.LastName = "Lee"
	assert.Equal(t, "Ann Lee", u.FullName())
}

func TestStatusAtLeastSent(t *testing.T) {
	assert.Equal(t, MessageStatusSent, MessageStatus("").AtLeastSent())
	assert.Equal(t, MessageStatusSent, MessageStatusSending.AtLeastSent())
	assert.Equal(t, MessageStatusSent, MessageStatus("queued").AtLeastSent())
	assert.Equal(t, MessageStatusRead, MessageStatusRead.AtLeastSent())
}
