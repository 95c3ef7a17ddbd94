package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotificationMention    NotificationType = "mention"
	NotificationPollEnded  NotificationType = "poll_ended"
	NotificationUpdate     NotificationType = "update"
	NotificationQuote      NotificationType = "quote"
	NotificationFollowBack NotificationType = "follow_back"
)

// Notification represents a user notification produced by the ingestion
// pipeline (mentions, poll expirations, significant edits, quotes).
type Notification struct {
	Id               uuid.UUID
	AccountId        uuid.UUID        // the local user receiving the notification
	NotificationType NotificationType //
	ActorId          uuid.UUID        // the account that triggered it
	ActorUsername    string           // denormalized for display
	ActorDomain      string           // denormalized for display, empty for local
	StatusId         uuid.UUID
	StatusURI        string
	Read             bool
	CreatedAt        time.Time
}

// ActorHandle returns the formatted @user or @user@domain string
func (n *Notification) ActorHandle() string {
	if n.ActorDomain == "" {
		return "@" + n.ActorUsername
	}
	return "@" + n.ActorUsername + "@" + n.ActorDomain
}
