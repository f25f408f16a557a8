package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// MessageKind 是推送信封的 type 字段。
type MessageKind string

const (
	KindNewPrivateMessage MessageKind = "new_private_message"
	KindOfflineMessage    MessageKind = "offline_message"
	KindError             MessageKind = "error"
	KindSendFailed        MessageKind = "message_send_failed"
)

// IsChat reports whether the envelope carries a ChatMessage payload.
func (k MessageKind) IsChat() bool {
	return k == KindNewPrivateMessage || k == KindOfflineMessage
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// MaxContentLen is the longest content the messaging endpoint accepts.
const MaxContentLen = 1024

// ChatMessage is immutable once received; ID is the only unique field.
// Kind is empty for messages that came from a history fetch.
type ChatMessage struct {
	Kind        MessageKind   `json:"-"`
	ID          int64         `json:"id"`
	SenderID    int64         `json:"senderid"`
	RecipientID int64         `json:"recipientid"`
	Content     string        `json:"content"`
	Timestamp   time.Time     `json:"timestamp"`
	Status      MessageStatus `json:"status,omitempty"`
}

// Between reports whether the message was exchanged by a and b, either direction.
func (m ChatMessage) Between(a, b int64) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// Envelope is one JSON document pushed over the live channel.
type Envelope struct {
	Type    MessageKind     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload accompanies error and message_send_failed envelopes.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OutboundMessage is the only frame the client writes.
type OutboundMessage struct {
	RecipientID int64  `json:"recipientid"`
	Content     string `json:"content"`
}

func ParseEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope failed: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope without type")
	}
	return env, nil
}

// Message decodes the payload of a chat envelope.
func (e Envelope) Message() (ChatMessage, error) {
	if !e.Type.IsChat() {
		return ChatMessage{}, fmt.Errorf("envelope %q carries no chat message", e.Type)
	}
	var m ChatMessage
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return ChatMessage{}, fmt.Errorf("unmarshal payload failed: %w", err)
	}
	m.Kind = e.Type
	return m, nil
}

// ErrorDetail decodes the payload of error / message_send_failed envelopes.
func (e Envelope) ErrorDetail() ErrorPayload {
	var p ErrorPayload
	_ = json.Unmarshal(e.Payload, &p)
	return p
}

// NewEnvelope wraps a payload, used by the dev endpoint.
func NewEnvelope(kind MessageKind, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: kind, Payload: b})
}

// SplitFrame splits a frame into its newline separated JSON documents.
// The endpoint coalesces queued pushes into one frame this way.
func SplitFrame(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{'\n'})
	out := parts[:0]
	for _, p := range parts {
		p = bytes.TrimSpace(p)
		if len(p) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// SortByTimestamp orders ascending; equal timestamps keep their input order.
func SortByTimestamp(msgs []ChatMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
