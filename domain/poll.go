package domain

import (
	"time"

	"github.com/google/uuid"
)

// Poll is owned 1:1 by a Status. Changing Options invalidates all recorded
// votes. Version backs the optimistic-concurrency save.
type Poll struct {
	Id            uuid.UUID
	StatusId      uuid.UUID
	Options       []string
	Multiple      bool
	ExpiresAt     *time.Time
	VotersCount   int
	CachedTallies []int
	Version       int
	LastFetchedAt time.Time
	CreatedAt     time.Time
}

// Expired reports whether the poll has an expiration in the past.
func (p *Poll) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && p.ExpiresAt.Before(now)
}

// PollVote is a locally recorded vote on a poll.
type PollVote struct {
	Id        uuid.UUID
	PollId    uuid.UUID
	AccountId uuid.UUID
	Choice    int
	CreatedAt time.Time
}
