// Package queue defines message payloads exchanged over the message broker.
package queue

import "time"

// Queue names for auth events.
const (
	QueueUserRegistered  = "auth.user.registered"
	QueuePasswordChanged = "auth.password.changed"
)

// AuthEvent is published after account lifecycle changes so downstream
// consumers (mailers, audit) can react without querying the user table.
// It never carries passwords or tokens.
type AuthEvent struct {
	Type       string    `json:"type"`
	UserID     uint64    `json:"user_id"`
	Email      string    `json:"email"`
	OccurredAt time.Time `json:"occurred_at"`
}
