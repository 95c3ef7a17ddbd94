package activitypub

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/domain"
)

// pollMergeRetries bounds how often a conflicted save is retried before the
// merge gives up for this delivery.
const pollMergeRetries = 3

// MergePoll folds a refetched Question object into the stored poll using
// production dependencies.
func MergePoll(pollId uuid.UUID, object map[string]any) error {
	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: defaultHTTPClient,
	}
	return MergePollWithDeps(pollId, object, deps)
}

// MergePollWithDeps merges remote poll state into the stored row. Saves go
// through an optimistic version check; a conflicting writer forces a re-read
// and re-merge. Changing the option set invalidates every locally recorded
// vote, so unchanged options deliberately leave votes alone.
func MergePollWithDeps(pollId uuid.UUID, object map[string]any, deps *InboxDeps) error {
	options, multiple := questionOptions(object)
	if len(options) == 0 {
		return fmt.Errorf("question has no options")
	}
	names := optionNames(options)
	tallies := optionTallies(options)

	var newExpiry *time.Time
	if endTime := getString(object, "endTime"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			newExpiry = &t
		}
	} else if closed := getString(object, "closed"); closed != "" {
		if t, err := time.Parse(time.RFC3339, closed); err == nil {
			newExpiry = &t
		}
	}

	for attempt := 0; attempt < pollMergeRetries; attempt++ {
		err, poll := deps.Database.ReadPollById(pollId)
		if err != nil {
			return err
		}

		optionsChanged := !equalStrings(poll.Options, names)
		expiryChanged := !equalTimePtr(poll.ExpiresAt, newExpiry)

		poll.Options = names
		poll.Multiple = multiple
		poll.CachedTallies = tallies
		poll.VotersCount = getInt(object, "votersCount")
		poll.ExpiresAt = newExpiry
		poll.LastFetchedAt = time.Now()

		if err := deps.Database.UpdatePollVersioned(poll); err != nil {
			if err == db.ErrVersionConflict {
				continue
			}
			return err
		}

		if optionsChanged {
			// The ballot changed under the voters; their choices no longer
			// mean anything.
			if derr := deps.Database.DeleteVotesByPollId(poll.Id); derr != nil {
				log.Printf("Poll: Failed to invalidate votes for %s: %v", poll.Id, derr)
			} else {
				log.Printf("Poll: Options of %s changed, local votes invalidated", poll.Id)
			}
		}

		if expiryChanged {
			reschedulePollExpiration(poll, deps)
		}
		return nil
	}

	return fmt.Errorf("poll %s merge kept conflicting after %d attempts", pollId, pollMergeRetries)
}

// reschedulePollExpiration replaces any pending expiration job with one
// matching the poll's current end time.
func reschedulePollExpiration(poll *domain.Poll, deps *InboxDeps) {
	if err := deps.Database.DeleteJobsByKindAndArgs(domain.JobPollExpiration, poll.Id.String()); err != nil {
		log.Printf("Poll: Failed to cancel expiration job for %s: %v", poll.Id, err)
	}
	if poll.ExpiresAt != nil && poll.ExpiresAt.After(time.Now()) {
		enqueueJob(deps.Database, domain.JobPollExpiration, poll.Id.String(), *poll.ExpiresAt)
	}
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
