package services

import (
	"context"
	"time"

	"beast/internal/models"
)

// Account event names, used as message types on the event bus.
const (
	EventUserCreated       = "user.created"
	EventUserLoginKeyReset = "user.login_key_reset"
)

// AccountEvent is the payload published after an account changes.
type AccountEvent struct {
	Name       string            `json:"name"`
	User       models.PublicUser `json:"user"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventPublisher delivers messages to the event bus. *rabbitmq.Client satisfies it.
type EventPublisher interface {
	PublishJSON(ctx context.Context, messageType string, payload any) error
}
