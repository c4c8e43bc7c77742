// Package channels defines the interfaces and types for ClawGate communication
// channels. Each channel (QQ, Lark, Discord) implements the Channel interface
// to receive and send messages in a unified way.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the conversation surface a message belongs to.
type MessageType string

const (
	MessagePrivate MessageType = "private"
	MessageGroup   MessageType = "group"
)

// UnifiedMessage represents a message received from any platform.
// Adapters construct it on inbound receipt; it is not mutated afterwards.
type UnifiedMessage struct {
	// Platform identifies the source platform (e.g. "qq", "lark", "discord").
	Platform string

	// UserID is the sender identifier on the platform.
	UserID string

	// ChatID is the group or DM identifier the message arrived in.
	ChatID string

	// Type is "private" or "group".
	Type MessageType

	// Content is the text content of the message.
	Content string

	// Images lists image references (URLs or local paths) attached to the message.
	Images []string

	// Raw contains the original platform payload for advanced use.
	Raw map[string]any

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// NewUnifiedMessage builds a UnifiedMessage, defaulting Timestamp to now.
func NewUnifiedMessage(platform, userID, chatID string, msgType MessageType, content string) *UnifiedMessage {
	return &UnifiedMessage{
		Platform:  platform,
		UserID:    userID,
		ChatID:    chatID,
		Type:      msgType,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// UnifiedSendRequest represents a message to be sent through a channel.
type UnifiedSendRequest struct {
	// ChatID is the target group or DM identifier.
	ChatID string

	// Content is the text content of the message.
	Content string

	// Type is "private" or "group" and selects the platform send path.
	Type MessageType

	// ReplyTo contains the ID of the message to reply to, if any.
	ReplyTo string

	// Extra contains additional platform-specific parameters.
	Extra map[string]any
}

// Handler processes a unified message delivered by a channel adapter.
type Handler func(ctx context.Context, msg *UnifiedMessage)

// Channel defines the interface that every communication channel must implement.
type Channel interface {
	// Name returns the platform identifier (e.g. "qq", "lark").
	Name() string

	// Start connects the channel to the messaging platform and begins
	// delivering inbound messages to the registered handler.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop() error

	// Send delivers a unified send request to the platform.
	Send(ctx context.Context, req *UnifiedSendRequest) error

	// SetHandler registers the inbound message handler. Must be called
	// before Start.
	SetHandler(h Handler)
}

// Errors.
var (
	ErrChannelNotFound     = fmt.Errorf("channel not found for platform")
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrSendFailed          = fmt.Errorf("failed to send message")
)
