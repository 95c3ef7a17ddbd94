package activitypub

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
)

func questionObject(endTime time.Time, options ...string) map[string]any {
	oneOf := make([]any, len(options))
	for i, name := range options {
		oneOf[i] = map[string]any{
			"name":    name,
			"replies": map[string]any{"totalItems": float64(i + 1)},
		}
	}
	return map[string]any{
		"id":          "https://remote.example/notes/1",
		"type":        "Question",
		"votersCount": float64(7),
		"endTime":     endTime.UTC().Format(time.RFC3339),
		"oneOf":       oneOf,
	}
}

func seedPoll(database *MockDatabase, expires time.Time, options ...string) *domain.Poll {
	poll := &domain.Poll{
		Id:            uuid.New(),
		StatusId:      uuid.New(),
		Options:       options,
		CachedTallies: make([]int, len(options)),
		ExpiresAt:     &expires,
		LastFetchedAt: time.Now().Add(-time.Hour),
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	database.CreatePoll(poll)
	return poll
}

func TestMergePollRefreshesTallies(t *testing.T) {
	database := NewMockDatabase()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	poll := seedPoll(database, expires, "yes", "no")
	database.Votes[poll.Id] = 2

	err := MergePollWithDeps(poll.Id, questionObject(expires, "yes", "no"), testDeps(database, NewMockHTTPClient()))
	if err != nil {
		t.Fatalf("MergePoll failed: %v", err)
	}

	_, merged := database.ReadPollById(poll.Id)
	if merged.CachedTallies[0] != 1 || merged.CachedTallies[1] != 2 {
		t.Errorf("Tallies not refreshed: %v", merged.CachedTallies)
	}
	if merged.VotersCount != 7 {
		t.Errorf("Voters count not refreshed: %d", merged.VotersCount)
	}
	if votes, _ := database.CountVotesByPollId(poll.Id); votes != 2 {
		t.Errorf("Unchanged options must keep votes, got %d", votes)
	}
}

func TestMergePollOptionChangeInvalidatesVotes(t *testing.T) {
	database := NewMockDatabase()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	poll := seedPoll(database, expires, "yes", "no")
	database.Votes[poll.Id] = 5

	err := MergePollWithDeps(poll.Id, questionObject(expires, "yes", "no", "maybe"), testDeps(database, NewMockHTTPClient()))
	if err != nil {
		t.Fatalf("MergePoll failed: %v", err)
	}

	_, merged := database.ReadPollById(poll.Id)
	if len(merged.Options) != 3 {
		t.Errorf("Options not replaced: %v", merged.Options)
	}
	if votes, _ := database.CountVotesByPollId(poll.Id); votes != 0 {
		t.Errorf("Changed options must invalidate votes, got %d", votes)
	}
}

func TestMergePollRetriesVersionConflict(t *testing.T) {
	database := NewMockDatabase()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	poll := seedPoll(database, expires, "yes", "no")
	database.UpdatePollConflicts = 1

	err := MergePollWithDeps(poll.Id, questionObject(expires, "yes", "no"), testDeps(database, NewMockHTTPClient()))
	if err != nil {
		t.Fatalf("Single conflict must be retried away: %v", err)
	}

	_, merged := database.ReadPollById(poll.Id)
	if merged.VotersCount != 7 {
		t.Error("Retry did not apply the merge")
	}
}

func TestMergePollGivesUpAfterRepeatedConflicts(t *testing.T) {
	database := NewMockDatabase()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	poll := seedPoll(database, expires, "yes", "no")
	database.UpdatePollConflicts = pollMergeRetries

	if err := MergePollWithDeps(poll.Id, questionObject(expires, "yes", "no"), testDeps(database, NewMockHTTPClient())); err == nil {
		t.Error("Expected error after exhausting merge retries")
	}
}

func TestMergePollReschedulesExpiration(t *testing.T) {
	database := NewMockDatabase()
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	poll := seedPoll(database, expires, "yes", "no")

	newExpiry := expires.Add(2 * time.Hour)
	err := MergePollWithDeps(poll.Id, questionObject(newExpiry, "yes", "no"), testDeps(database, NewMockHTTPClient()))
	if err != nil {
		t.Fatalf("MergePoll failed: %v", err)
	}

	var expirationJobs []domain.Job
	for _, job := range database.Jobs {
		if job.Kind == domain.JobPollExpiration {
			expirationJobs = append(expirationJobs, job)
		}
	}
	if len(expirationJobs) != 1 {
		t.Fatalf("Expected one expiration job, got %d", len(expirationJobs))
	}
	if !expirationJobs[0].RunAt.Equal(newExpiry) {
		t.Errorf("Job scheduled for %v, want %v", expirationJobs[0].RunAt, newExpiry)
	}
}

func TestMergePollRejectsEmptyOptions(t *testing.T) {
	database := NewMockDatabase()
	poll := seedPoll(database, time.Now().Add(time.Hour), "yes", "no")

	object := map[string]any{"id": "https://remote.example/notes/1", "type": "Question"}
	if err := MergePollWithDeps(poll.Id, object, testDeps(database, NewMockHTTPClient())); err == nil {
		t.Error("Expected error for a question without options")
	}
}
