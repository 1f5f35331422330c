// Package queue defines message payloads exchanged over the message broker.
package queue

// AuthEventsQueue is the durable queue carrying auth lifecycle events.
const AuthEventsQueue = "auth.events"

// Event types published by the auth service.
const (
    EventUserRegistered = "user.registered"
    EventSessionIssued  = "session.issued"
    EventSessionRevoked = "session.revoked"
)

// AuthEvent is published after an auth state change has committed.  It
// carries enough for an audit trail without querying the primary database;
// token strings are reduced to a fingerprint.
type AuthEvent struct {
    Type         string `json:"type"`
    UserID       uint64 `json:"user_id"`
    Username     string `json:"username,omitempty"`
    TokenID      string `json:"token_fingerprint,omitempty"`
    RevokedCount int64  `json:"revoked_count,omitempty"`
    OccurredAt   string `json:"occurred_at"`
}
