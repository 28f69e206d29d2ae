package domain_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/collab-service/internal/domain"
)

var limits = domain.Limits{MaxContentLength: 10, MaxBatchSize: 3}

func TestDecodeChat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, f domain.Inbound)
	}{
		{
			name:  "send message",
			input: `{"type":"send_message","sender_id":"a","content":"hi","reply_to_id":"m1"}`,
			check: func(t *testing.T, f domain.Inbound) {
				msg, ok := f.(*domain.SendMessage)
				require.True(t, ok)
				assert.Equal(t, "a", msg.SenderID)
				assert.Equal(t, "hi", msg.Content)
				require.NotNil(t, msg.ReplyToID)
				assert.Equal(t, "m1", *msg.ReplyToID)
			},
		},
		{
			name:  "batch",
			input: `{"type":"batch_messages","messages":[{"sender_id":"a","content":"1"},{"sender_id":"a","content":"2"}]}`,
			check: func(t *testing.T, f domain.Inbound) {
				msg, ok := f.(*domain.BatchMessages)
				require.True(t, ok)
				assert.Len(t, msg.Messages, 2)
			},
		},
		{name: "not json", input: `{nope`, wantErr: true},
		{name: "unknown type", input: `{"type":"draw"}`, wantErr: true},
		{name: "missing sender", input: `{"type":"send_message","content":"hi"}`, wantErr: true},
		{name: "blank content", input: `{"type":"send_message","sender_id":"a","content":"  "}`, wantErr: true},
		{name: "content too long", input: `{"type":"send_message","sender_id":"a","content":"` + strings.Repeat("x", 11) + `"}`, wantErr: true},
		{name: "empty batch", input: `{"type":"batch_messages","messages":[]}`, wantErr: true},
		{name: "oversized batch", input: `{"type":"batch_messages","messages":[{"sender_id":"a","content":"1"},{"sender_id":"a","content":"2"},{"sender_id":"a","content":"3"},{"sender_id":"a","content":"4"}]}`, wantErr: true},
		{name: "batch with invalid item", input: `{"type":"batch_messages","messages":[{"sender_id":"a","content":"1"},{"content":"2"}]}`, wantErr: true},
		{name: "wrong field type", input: `{"type":"send_message","sender_id":5,"content":"hi"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := domain.DecodeChat([]byte(tt.input), limits)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			tt.check(t, f)
		})
	}
}

func TestDecodeWhiteboard(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  bool
	}{
		{name: "draw", input: `{"type":"draw","stroke":{"id":"s1","points":[{"x":1,"y":2}],"color":"#000","width":2}}`, wantType: domain.TypeDraw},
		{name: "draw without stroke", input: `{"type":"draw"}`, wantErr: true},
		{name: "draw without points", input: `{"type":"draw","stroke":{"id":"s1","points":[]}}`, wantErr: true},
		{name: "cursor", input: `{"type":"cursor","x":0,"y":3.5}`, wantType: domain.TypeCursor},
		{name: "cursor missing y", input: `{"type":"cursor","x":1}`, wantErr: true},
		{name: "clear", input: `{"type":"clear"}`, wantType: domain.TypeClear},
		{name: "undo", input: `{"type":"undo","strokeId":"s1"}`, wantType: domain.TypeUndo},
		{name: "undo missing id", input: `{"type":"undo"}`, wantErr: true},
		{name: "chat frame on whiteboard", input: `{"type":"send_message","sender_id":"a","content":"x"}`, wantErr: true},
		{name: "garbage", input: `[]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := domain.DecodeWhiteboard([]byte(tt.input))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, f.FrameType())
		})
	}
}

func TestRateLimitedMessage_SerializesZeroRemaining(t *testing.T) {
	data, err := json.Marshal(domain.NewRateLimitedMessage(0, 12))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "error", out["type"])
	assert.Equal(t, domain.ErrCodeRateLimited, out["code"])
	assert.EqualValues(t, 0, out["remaining"])
	assert.EqualValues(t, 12, out["retryAfter"])
}

func TestErrorMessage_OmitsQuotaFields(t *testing.T) {
	data, err := json.Marshal(domain.NewErrorMessage(domain.ErrCodeInvalidFormat, "bad"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "remaining")
	assert.NotContains(t, string(data), "retryAfter")
}
