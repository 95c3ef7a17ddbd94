package domain

import (
	"time"

	"github.com/google/uuid"
)

// FeaturedTag is a hashtag an actor features on their profile. The set is
// reconciled wholesale on each synchronization pass.
type FeaturedTag struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	Name      string
	CreatedAt time.Time
}

// StatusPin marks a status featured (pinned) by its author.
type StatusPin struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	StatusId  uuid.UUID
	CreatedAt time.Time
}

// Follow represents a follow relationship between two actors (either side
// may be local or remote).
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // the follower
	TargetAccountId uuid.UUID // the followee
	URI             string    // Follow activity URI (empty for local-only)
	Accepted        bool
	CreatedAt       time.Time
}
