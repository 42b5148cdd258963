package domain

import "time"

// MessageType classifies how a message should be rendered, not its content structure.
type MessageType string

const (
	MessageText         MessageType = "text"
	MessagePricing      MessageType = "pricing"
	MessageConfirmation MessageType = "confirmation"
	MessageSuccess      MessageType = "success"
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderAI   Sender = "ai"
	SenderUser Sender = "user"
)

// Message is a single conversation turn. Messages are immutable once appended.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Sender    Sender      `json:"sender"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}
