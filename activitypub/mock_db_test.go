package activitypub

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/domain"
)

var errNotFound = sql.ErrNoRows

// MockDatabase is an in-memory Database implementation for tests. Inject
// failures by method name through Fail.
type MockDatabase struct {
	mu sync.Mutex

	Actors        map[string]*domain.Actor // keyed by URI
	Statuses      map[string]*domain.Status
	Edits         []domain.StatusEdit
	Media         map[uuid.UUID][]domain.MediaAttachment // keyed by status id
	Mentions      map[uuid.UUID][]domain.Mention
	Tags          map[uuid.UUID][]domain.StatusTag
	Emojis        map[string]*domain.CustomEmoji // shortcode+"@"+domain
	Polls         map[uuid.UUID]*domain.Poll
	Votes         map[uuid.UUID]int
	Quotes        map[uuid.UUID]*domain.Quote // keyed by quoting status id
	FeaturedTags  map[uuid.UUID][]domain.FeaturedTag
	Pins          map[uuid.UUID][]domain.StatusPin
	Follows       map[uuid.UUID]*domain.Follow
	Activities    map[string]*domain.Activity
	Jobs          []domain.Job
	Deliveries    []domain.DeliveryQueueItem
	Notifications []domain.Notification
	Tombstones    map[string]string // keyId -> actor URI

	Fail map[string]error

	// UpdatePollConflicts makes the first N versioned poll updates fail.
	UpdatePollConflicts int

	CreateActorCalls  int
	UpdateActorCalls  int
	CreateStatusCalls int
}

func NewMockDatabase() *MockDatabase {
	return &MockDatabase{
		Actors:       make(map[string]*domain.Actor),
		Statuses:     make(map[string]*domain.Status),
		Media:        make(map[uuid.UUID][]domain.MediaAttachment),
		Mentions:     make(map[uuid.UUID][]domain.Mention),
		Tags:         make(map[uuid.UUID][]domain.StatusTag),
		Emojis:       make(map[string]*domain.CustomEmoji),
		Polls:        make(map[uuid.UUID]*domain.Poll),
		Votes:        make(map[uuid.UUID]int),
		Quotes:       make(map[uuid.UUID]*domain.Quote),
		FeaturedTags: make(map[uuid.UUID][]domain.FeaturedTag),
		Pins:         make(map[uuid.UUID][]domain.StatusPin),
		Follows:      make(map[uuid.UUID]*domain.Follow),
		Activities:   make(map[string]*domain.Activity),
		Tombstones:   make(map[string]string),
		Fail:         make(map[string]error),
	}
}

func (m *MockDatabase) fail(method string) error {
	return m.Fail[method]
}

// Actor operations

func (m *MockDatabase) CreateActor(a *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateActor"); err != nil {
		return err
	}
	m.CreateActorCalls++
	if _, ok := m.Actors[a.URI]; ok {
		return errors.New("UNIQUE constraint failed: accounts.uri")
	}
	copied := *a
	m.Actors[a.URI] = &copied
	return nil
}

func (m *MockDatabase) UpdateActor(a *domain.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateActor"); err != nil {
		return err
	}
	m.UpdateActorCalls++
	copied := *a
	m.Actors[a.URI] = &copied
	return nil
}

func (m *MockDatabase) DeleteActor(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, a := range m.Actors {
		if a.Id == id {
			delete(m.Actors, uri)
		}
	}
	return nil
}

func (m *MockDatabase) ReadActorByURI(uri string) (error, *domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReadActorByURI"); err != nil {
		return err, nil
	}
	a, ok := m.Actors[uri]
	if !ok {
		return errNotFound, nil
	}
	copied := *a
	return nil, &copied
}

func (m *MockDatabase) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Actors {
		if a.Id == id {
			copied := *a
			return nil, &copied
		}
	}
	return errNotFound, nil
}

func (m *MockDatabase) ReadActorByAcct(username, dom string) (error, *domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Actors {
		if a.Username == username && a.Domain == dom && !a.Suspended {
			copied := *a
			return nil, &copied
		}
	}
	return errNotFound, nil
}

func (m *MockDatabase) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Actors {
		if a.Username == username && a.Domain == "" {
			copied := *a
			return nil, &copied
		}
	}
	return errNotFound, nil
}

func (m *MockDatabase) ReadActorsByURI(uri string) (error, *[]domain.Actor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Actor
	if a, ok := m.Actors[uri]; ok {
		out = append(out, *a)
	}
	return nil, &out
}

// Status operations

func (m *MockDatabase) CreateStatus(s *domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateStatus"); err != nil {
		return err
	}
	m.CreateStatusCalls++
	if _, ok := m.Statuses[s.URI]; ok {
		return errors.New("UNIQUE constraint failed: statuses.uri")
	}
	copied := *s
	m.Statuses[s.URI] = &copied
	return nil
}

func (m *MockDatabase) UpdateStatus(s *domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("UpdateStatus"); err != nil {
		return err
	}
	copied := *s
	m.Statuses[s.URI] = &copied
	return nil
}

func (m *MockDatabase) ReadStatusByURI(uri string) (error, *domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReadStatusByURI"); err != nil {
		return err, nil
	}
	s, ok := m.Statuses[uri]
	if !ok {
		return errNotFound, nil
	}
	copied := *s
	return nil, &copied
}

func (m *MockDatabase) ReadStatusById(id uuid.UUID) (error, *domain.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Statuses {
		if s.Id == id {
			copied := *s
			return nil, &copied
		}
	}
	return errNotFound, nil
}

func (m *MockDatabase) DeleteStatus(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, s := range m.Statuses {
		if s.Id == id {
			delete(m.Statuses, uri)
		}
	}
	delete(m.Media, id)
	delete(m.Mentions, id)
	delete(m.Tags, id)
	delete(m.Quotes, id)
	return nil
}

// Status edit operations

func (m *MockDatabase) CreateStatusEdit(e *domain.StatusEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Edits = append(m.Edits, *e)
	return nil
}

func (m *MockDatabase) CountStatusEdits(statusId uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.Edits {
		if e.StatusId == statusId {
			n++
		}
	}
	return n, nil
}

// Media operations

func (m *MockDatabase) CreateMediaAttachment(a *domain.MediaAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Media[a.StatusId] = append(m.Media[a.StatusId], *a)
	return nil
}

func (m *MockDatabase) UpdateMediaAttachment(a *domain.MediaAttachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.Media[a.StatusId]
	for i := range list {
		if list[i].Id == a.Id {
			list[i] = *a
		}
	}
	return nil
}

func (m *MockDatabase) DeleteMediaAttachment(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for statusId, list := range m.Media {
		var kept []domain.MediaAttachment
		for _, a := range list {
			if a.Id != id {
				kept = append(kept, a)
			}
		}
		m.Media[statusId] = kept
	}
	return nil
}

func (m *MockDatabase) ReadMediaByStatusId(statusId uuid.UUID) (error, *[]domain.MediaAttachment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]domain.MediaAttachment(nil), m.Media[statusId]...)
	return nil, &list
}

// Mention operations

func (m *MockDatabase) CreateMention(mn *domain.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Mentions[mn.StatusId] = append(m.Mentions[mn.StatusId], *mn)
	return nil
}

func (m *MockDatabase) UpdateMention(mn *domain.Mention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.Mentions[mn.StatusId]
	for i := range list {
		if list[i].Id == mn.Id {
			list[i] = *mn
		}
	}
	return nil
}

func (m *MockDatabase) ReadMentionsByStatusId(statusId uuid.UUID) (error, *[]domain.Mention) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]domain.Mention(nil), m.Mentions[statusId]...)
	return nil, &list
}

// Tag operations

func (m *MockDatabase) CreateStatusTag(t *domain.StatusTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tags[t.StatusId] = append(m.Tags[t.StatusId], *t)
	return nil
}

func (m *MockDatabase) DeleteStatusTagsByStatusId(statusId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Tags, statusId)
	return nil
}

func (m *MockDatabase) ReadTagsByStatusId(statusId uuid.UUID) (error, *[]domain.StatusTag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]domain.StatusTag(nil), m.Tags[statusId]...)
	return nil, &list
}

// Emoji operations

func (m *MockDatabase) ReadEmojiByShortcode(shortcode, dom string) (error, *domain.CustomEmoji) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Emojis[shortcode+"@"+dom]
	if !ok {
		return errNotFound, nil
	}
	copied := *e
	return nil, &copied
}

func (m *MockDatabase) CreateEmoji(e *domain.CustomEmoji) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.Emojis[e.Shortcode+"@"+e.Domain] = &copied
	return nil
}

func (m *MockDatabase) UpdateEmoji(e *domain.CustomEmoji) error {
	return m.CreateEmoji(e)
}

// Poll operations

func (m *MockDatabase) ReadPollById(id uuid.UUID) (error, *domain.Poll) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Polls[id]
	if !ok {
		return errNotFound, nil
	}
	copied := *p
	copied.Options = append([]string(nil), p.Options...)
	copied.CachedTallies = append([]int(nil), p.CachedTallies...)
	return nil, &copied
}

func (m *MockDatabase) CreatePoll(p *domain.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.Polls[p.Id] = &copied
	return nil
}

func (m *MockDatabase) UpdatePollVersioned(p *domain.Poll) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdatePollConflicts > 0 {
		m.UpdatePollConflicts--
		return db.ErrVersionConflict
	}
	existing, ok := m.Polls[p.Id]
	if !ok || existing.Version != p.Version {
		return db.ErrVersionConflict
	}
	copied := *p
	copied.Version = p.Version + 1
	m.Polls[p.Id] = &copied
	p.Version++
	return nil
}

func (m *MockDatabase) DeleteVotesByPollId(pollId uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Votes[pollId] = 0
	return nil
}

func (m *MockDatabase) CountVotesByPollId(pollId uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Votes[pollId], nil
}

// Quote operations

func (m *MockDatabase) ReadQuoteByStatusId(statusId uuid.UUID) (error, *domain.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.Quotes[statusId]
	if !ok {
		return errNotFound, nil
	}
	copied := *q
	return nil, &copied
}

func (m *MockDatabase) CreateQuote(q *domain.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *q
	m.Quotes[q.StatusId] = &copied
	return nil
}

func (m *MockDatabase) UpdateQuote(q *domain.Quote) error {
	return m.CreateQuote(q)
}

// Featured tag operations

func (m *MockDatabase) ReadFeaturedTagsByAccountId(accountId uuid.UUID) (error, *[]domain.FeaturedTag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]domain.FeaturedTag(nil), m.FeaturedTags[accountId]...)
	return nil, &list
}

func (m *MockDatabase) CreateFeaturedTag(t *domain.FeaturedTag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeaturedTags[t.AccountId] = append(m.FeaturedTags[t.AccountId], *t)
	return nil
}

func (m *MockDatabase) DeleteFeaturedTag(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for accountId, list := range m.FeaturedTags {
		var kept []domain.FeaturedTag
		for _, t := range list {
			if t.Id != id {
				kept = append(kept, t)
			}
		}
		m.FeaturedTags[accountId] = kept
	}
	return nil
}

// Status pin operations

func (m *MockDatabase) ReadPinsByAccountId(accountId uuid.UUID) (error, *[]domain.StatusPin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]domain.StatusPin(nil), m.Pins[accountId]...)
	return nil, &list
}

func (m *MockDatabase) CreateStatusPin(p *domain.StatusPin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pins[p.AccountId] = append(m.Pins[p.AccountId], *p)
	return nil
}

func (m *MockDatabase) DeleteStatusPin(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for accountId, list := range m.Pins {
		var kept []domain.StatusPin
		for _, p := range list {
			if p.Id != id {
				kept = append(kept, p)
			}
		}
		m.Pins[accountId] = kept
	}
	return nil
}

// Follow operations

func (m *MockDatabase) CreateFollow(f *domain.Follow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *f
	m.Follows[f.Id] = &copied
	return nil
}

func (m *MockDatabase) DeleteFollow(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Follows, id)
	return nil
}

func (m *MockDatabase) DeleteFollowByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.Follows {
		if f.URI == uri {
			delete(m.Follows, id)
		}
	}
	return nil
}

func (m *MockDatabase) AcceptFollowByURI(uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Follows {
		if f.URI == uri {
			f.Accepted = true
		}
	}
	return nil
}

func (m *MockDatabase) ReadFollowByAccountIds(accountId, targetAccountId uuid.UUID) (error, *domain.Follow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Follows {
		if f.AccountId == accountId && f.TargetAccountId == targetAccountId {
			copied := *f
			return nil, &copied
		}
	}
	return errNotFound, nil
}

func (m *MockDatabase) ReadFollowsByTargetAccountId(targetId uuid.UUID) (error, *[]domain.Follow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Follow
	for _, f := range m.Follows {
		if f.TargetAccountId == targetId {
			out = append(out, *f)
		}
	}
	return nil, &out
}

func (m *MockDatabase) ReadFollowsByAccountId(accountId uuid.UUID) (error, *[]domain.Follow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Follow
	for _, f := range m.Follows {
		if f.AccountId == accountId {
			out = append(out, *f)
		}
	}
	return nil, &out
}

// Activity log operations

func (m *MockDatabase) CreateActivity(a *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Activities[a.ActivityURI]; ok {
		return errors.New("UNIQUE constraint failed: activities.activity_uri")
	}
	copied := *a
	m.Activities[a.ActivityURI] = &copied
	return nil
}

func (m *MockDatabase) UpdateActivity(a *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.Activities[a.ActivityURI] = &copied
	return nil
}

func (m *MockDatabase) ReadActivityByURI(uri string) (error, *domain.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Activities[uri]
	if !ok {
		return errNotFound, nil
	}
	copied := *a
	return nil, &copied
}

// Job queue operations

func (m *MockDatabase) EnqueueJob(j *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Jobs = append(m.Jobs, *j)
	return nil
}

func (m *MockDatabase) ReadDueJobs(limit int) (error, *[]domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.Job
	now := time.Now()
	for _, j := range m.Jobs {
		if !j.RunAt.After(now) && len(due) < limit {
			due = append(due, j)
		}
	}
	return nil, &due
}

func (m *MockDatabase) UpdateJobAttempt(id uuid.UUID, attempts int, runAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Jobs {
		if m.Jobs[i].Id == id {
			m.Jobs[i].Attempts = attempts
			m.Jobs[i].RunAt = runAt
		}
	}
	return nil
}

func (m *MockDatabase) DeleteJob(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.Job
	for _, j := range m.Jobs {
		if j.Id != id {
			kept = append(kept, j)
		}
	}
	m.Jobs = kept
	return nil
}

func (m *MockDatabase) DeleteJobsByKindAndArgs(kind, args string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.Job
	for _, j := range m.Jobs {
		if !(j.Kind == kind && j.Args == args) {
			kept = append(kept, j)
		}
	}
	m.Jobs = kept
	return nil
}

// Delivery queue operations

func (m *MockDatabase) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deliveries = append(m.Deliveries, *item)
	return nil
}

func (m *MockDatabase) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []domain.DeliveryQueueItem
	now := time.Now()
	for _, d := range m.Deliveries {
		if !d.NextRetryAt.After(now) && len(due) < limit {
			due = append(due, d)
		}
	}
	return nil, &due
}

func (m *MockDatabase) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Deliveries {
		if m.Deliveries[i].Id == id {
			m.Deliveries[i].Attempts = attempts
			m.Deliveries[i].NextRetryAt = nextRetry
		}
	}
	return nil
}

func (m *MockDatabase) DeleteDelivery(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []domain.DeliveryQueueItem
	for _, d := range m.Deliveries {
		if d.Id != id {
			kept = append(kept, d)
		}
	}
	m.Deliveries = kept
	return nil
}

// Notification operations

func (m *MockDatabase) CreateNotification(n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notifications = append(m.Notifications, *n)
	return nil
}

// Key tombstone operations

func (m *MockDatabase) CreateKeyTombstone(t *domain.KeyTombstone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Tombstones[t.KeyId] = t.ActorURI
	return nil
}

func (m *MockDatabase) HasKeyTombstone(keyId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Tombstones[keyId]
	return ok, nil
}

func (m *MockDatabase) DeleteKeyTombstonesByActorURI(actorURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for keyId, owner := range m.Tombstones {
		if owner == actorURI {
			delete(m.Tombstones, keyId)
		}
	}
	return nil
}

var _ Database = (*MockDatabase)(nil)
