package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event discriminators
const (
	EventChatMessage    = "chat_message"
	EventTyping         = "typing"
	EventReadReceipt    = "read_receipt"
	EventHistoryRequest = "get_messages"
)

// Outbound event discriminators
const (
	EventConnectionEstablished = "connection_established"
	EventError                 = "error"
	EventMessageSent           = "message_sent"
	EventNewMessage            = "new_message"
	EventMessageHistory        = "message_history"
)

// InboundEvent is one decoded client frame. The concrete types below are the
// only implementations, so a type switch over them is exhaustive.
type InboundEvent interface {
	inboundEvent()
}

// ChatMessageEvent asks to send Message to RecipientID.
type ChatMessageEvent struct {
	Message     string `json:"message"`
	RecipientID ID     `json:"recipient_id"`
}

// TypingEvent signals that the sender started or stopped typing.
type TypingEvent struct {
	RecipientID ID   `json:"recipient_id"`
	IsTyping    bool `json:"is_typing"`
}

// ReadReceiptEvent tells SenderID that MessageID was read.
type ReadReceiptEvent struct {
	MessageID ID `json:"message_id"`
	SenderID  ID `json:"sender_id"`
}

// HistoryRequestEvent asks for messages with OtherUserID newer than LastID.
type HistoryRequestEvent struct {
	OtherUserID ID `json:"other_user_id"`
	LastID      ID `json:"last_id"`
}

// UnknownEvent carries a discriminator this server does not handle.
type UnknownEvent struct {
	Type string
}

func (ChatMessageEvent) inboundEvent()    {}
func (TypingEvent) inboundEvent()         {}
func (ReadReceiptEvent) inboundEvent()    {}
func (HistoryRequestEvent) inboundEvent() {}
func (UnknownEvent) inboundEvent()        {}

// DecodeInbound parses one text frame. A frame without a type is a chat
// message. Unrecognized types decode to UnknownEvent without error.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrMalformedFrame
	}

	kind := EventChatMessage
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return UnknownEvent{Type: string(raw)}, nil
		}
	}

	switch kind {
	case EventChatMessage:
		var ev ChatMessageEvent
		if err := decodeFields(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTyping:
		var ev TypingEvent
		if err := decodeFields(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventReadReceipt:
		var ev ReadReceiptEvent
		if err := decodeFields(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventHistoryRequest:
		var ev HistoryRequestEvent
		if err := decodeFields(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return UnknownEvent{Type: kind}, nil
	}
}

// decodeFields fills ev and reports wrongly typed fields as ErrInvalidField.
func decodeFields(data []byte, ev any) error {
	if err := json.Unmarshal(data, ev); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return fmt.Errorf("%w: %s", ErrInvalidField, typeErr.Field)
		}
		if errors.Is(err, ErrInvalidIdentifier) {
			return fmt.Errorf("%w: %v", ErrInvalidField, err)
		}
		return ErrMalformedFrame
	}
	return nil
}

// OutboundEvent is a server frame ready to be encoded as JSON.
type OutboundEvent interface {
	EventType() string
}

// MessagePayload is the wire form of a persisted ChatMessage.
type MessagePayload struct {
	ID          ID     `json:"id"`
	UserFrom    ID     `json:"user_from"`
	UserTo      ID     `json:"user_to"`
	Message     string `json:"message"`
	DateCreated string `json:"date_created"`
}

// NewMessagePayload is MessagePayload plus the sender's display name.
type NewMessagePayload struct {
	MessagePayload
	SenderName string `json:"sender_name"`
}

// PayloadOf converts a stored message to its wire form.
func PayloadOf(m *ChatMessage) MessagePayload {
	return MessagePayload{
		ID:          m.ID,
		UserFrom:    m.From,
		UserTo:      m.To,
		Message:     m.Body,
		DateCreated: FormatDate(m.CreatedAt),
	}
}

type ConnectionEstablished struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	UserID  ID     `json:"user_id"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MessageSent struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

type NewMessage struct {
	Type    string            `json:"type"`
	Message NewMessagePayload `json:"message"`
}

type Typing struct {
	Type     string `json:"type"`
	UserID   ID     `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
	UserName string `json:"user_name"`
}

type ReadReceipt struct {
	Type      string `json:"type"`
	MessageID ID     `json:"message_id"`
	ReadBy    ID     `json:"read_by"`
}

type MessageHistory struct {
	Type     string           `json:"type"`
	Messages []MessagePayload `json:"messages"`
}

func (ConnectionEstablished) EventType() string { return EventConnectionEstablished }
func (ErrorFrame) EventType() string            { return EventError }
func (MessageSent) EventType() string           { return EventMessageSent }
func (NewMessage) EventType() string            { return EventNewMessage }
func (Typing) EventType() string                { return EventTyping }
func (ReadReceipt) EventType() string           { return EventReadReceipt }
func (MessageHistory) EventType() string        { return EventMessageHistory }

func NewConnectionEstablished(userID ID) ConnectionEstablished {
	return ConnectionEstablished{
		Type:    EventConnectionEstablished,
		Message: "Connected to chat server",
		UserID:  userID,
	}
}

func NewErrorFrame(message string) ErrorFrame {
	return ErrorFrame{Type: EventError, Message: message}
}

func NewMessageSent(m *ChatMessage) MessageSent {
	return MessageSent{Type: EventMessageSent, Message: PayloadOf(m)}
}

func NewNewMessage(m *ChatMessage, senderName string) NewMessage {
	return NewMessage{
		Type:    EventNewMessage,
		Message: NewMessagePayload{MessagePayload: PayloadOf(m), SenderName: senderName},
	}
}

func NewTyping(sender Identity, isTyping bool) Typing {
	return Typing{
		Type:     EventTyping,
		UserID:   sender.UserID,
		IsTyping: isTyping,
		UserName: sender.DisplayName,
	}
}

func NewReadReceipt(messageID, readBy ID) ReadReceipt {
	return ReadReceipt{Type: EventReadReceipt, MessageID: messageID, ReadBy: readBy}
}

// NewMessageHistory always encodes messages as a JSON array, never null.
func NewMessageHistory(messages []*ChatMessage) MessageHistory {
	payloads := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		payloads = append(payloads, PayloadOf(m))
	}
	return MessageHistory{Type: EventMessageHistory, Messages: payloads}
}
