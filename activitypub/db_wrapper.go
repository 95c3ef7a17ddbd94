package activitypub

import (
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/domain"
)

// DBWrapper wraps the real database to implement the Database interface.
// This adapter allows the production code to use the existing db.GetDB() singleton
// while also supporting dependency injection for tests.
type DBWrapper struct {
	db *db.DB
}

// NewDBWrapper creates a new database wrapper around the singleton database
func NewDBWrapper() *DBWrapper {
	return &DBWrapper{db: db.GetDB()}
}

// Actor operations

func (w *DBWrapper) CreateActor(a *domain.Actor) error {
	return w.db.CreateActor(a)
}

func (w *DBWrapper) UpdateActor(a *domain.Actor) error {
	return w.db.UpdateActor(a)
}

func (w *DBWrapper) DeleteActor(id uuid.UUID) error {
	return w.db.DeleteActor(id)
}

func (w *DBWrapper) ReadActorByURI(uri string) (error, *domain.Actor) {
	return w.db.ReadActorByURI(uri)
}

func (w *DBWrapper) ReadActorById(id uuid.UUID) (error, *domain.Actor) {
	return w.db.ReadActorById(id)
}

func (w *DBWrapper) ReadActorByAcct(username, dom string) (error, *domain.Actor) {
	return w.db.ReadActorByAcct(username, dom)
}

func (w *DBWrapper) ReadLocalActorByUsername(username string) (error, *domain.Actor) {
	return w.db.ReadLocalActorByUsername(username)
}

func (w *DBWrapper) ReadActorsByURI(uri string) (error, *[]domain.Actor) {
	return w.db.ReadActorsByURI(uri)
}

// Status operations

func (w *DBWrapper) CreateStatus(s *domain.Status) error {
	return w.db.CreateStatus(s)
}

func (w *DBWrapper) UpdateStatus(s *domain.Status) error {
	return w.db.UpdateStatus(s)
}

func (w *DBWrapper) ReadStatusByURI(uri string) (error, *domain.Status) {
	return w.db.ReadStatusByURI(uri)
}

func (w *DBWrapper) ReadStatusById(id uuid.UUID) (error, *domain.Status) {
	return w.db.ReadStatusById(id)
}

func (w *DBWrapper) DeleteStatus(id uuid.UUID) error {
	return w.db.DeleteStatus(id)
}

// Status edit operations

func (w *DBWrapper) CreateStatusEdit(e *domain.StatusEdit) error {
	return w.db.CreateStatusEdit(e)
}

func (w *DBWrapper) CountStatusEdits(statusId uuid.UUID) (int, error) {
	return w.db.CountStatusEdits(statusId)
}

// Media operations

func (w *DBWrapper) CreateMediaAttachment(m *domain.MediaAttachment) error {
	return w.db.CreateMediaAttachment(m)
}

func (w *DBWrapper) UpdateMediaAttachment(m *domain.MediaAttachment) error {
	return w.db.UpdateMediaAttachment(m)
}

func (w *DBWrapper) DeleteMediaAttachment(id uuid.UUID) error {
	return w.db.DeleteMediaAttachment(id)
}

func (w *DBWrapper) ReadMediaByStatusId(statusId uuid.UUID) (error, *[]domain.MediaAttachment) {
	return w.db.ReadMediaByStatusId(statusId)
}

// Mention operations

func (w *DBWrapper) CreateMention(m *domain.Mention) error {
	return w.db.CreateMention(m)
}

func (w *DBWrapper) UpdateMention(m *domain.Mention) error {
	return w.db.UpdateMention(m)
}

func (w *DBWrapper) ReadMentionsByStatusId(statusId uuid.UUID) (error, *[]domain.Mention) {
	return w.db.ReadMentionsByStatusId(statusId)
}

// Tag operations

func (w *DBWrapper) CreateStatusTag(t *domain.StatusTag) error {
	return w.db.CreateStatusTag(t)
}

func (w *DBWrapper) DeleteStatusTagsByStatusId(statusId uuid.UUID) error {
	return w.db.DeleteStatusTagsByStatusId(statusId)
}

func (w *DBWrapper) ReadTagsByStatusId(statusId uuid.UUID) (error, *[]domain.StatusTag) {
	return w.db.ReadTagsByStatusId(statusId)
}

// Emoji operations

func (w *DBWrapper) ReadEmojiByShortcode(shortcode, dom string) (error, *domain.CustomEmoji) {
	return w.db.ReadEmojiByShortcode(shortcode, dom)
}

func (w *DBWrapper) CreateEmoji(e *domain.CustomEmoji) error {
	return w.db.CreateEmoji(e)
}

func (w *DBWrapper) UpdateEmoji(e *domain.CustomEmoji) error {
	return w.db.UpdateEmoji(e)
}

// Poll operations

func (w *DBWrapper) ReadPollById(id uuid.UUID) (error, *domain.Poll) {
	return w.db.ReadPollById(id)
}

func (w *DBWrapper) CreatePoll(p *domain.Poll) error {
	return w.db.CreatePoll(p)
}

func (w *DBWrapper) UpdatePollVersioned(p *domain.Poll) error {
	return w.db.UpdatePollVersioned(p)
}

func (w *DBWrapper) DeleteVotesByPollId(pollId uuid.UUID) error {
	return w.db.DeleteVotesByPollId(pollId)
}

func (w *DBWrapper) CountVotesByPollId(pollId uuid.UUID) (int, error) {
	return w.db.CountVotesByPollId(pollId)
}

// Quote operations

func (w *DBWrapper) ReadQuoteByStatusId(statusId uuid.UUID) (error, *domain.Quote) {
	return w.db.ReadQuoteByStatusId(statusId)
}

func (w *DBWrapper) CreateQuote(q *domain.Quote) error {
	return w.db.CreateQuote(q)
}

func (w *DBWrapper) UpdateQuote(q *domain.Quote) error {
	return w.db.UpdateQuote(q)
}

// Featured tag operations

func (w *DBWrapper) ReadFeaturedTagsByAccountId(accountId uuid.UUID) (error, *[]domain.FeaturedTag) {
	return w.db.ReadFeaturedTagsByAccountId(accountId)
}

func (w *DBWrapper) CreateFeaturedTag(t *domain.FeaturedTag) error {
	return w.db.CreateFeaturedTag(t)
}

func (w *DBWrapper) DeleteFeaturedTag(id uuid.UUID) error {
	return w.db.DeleteFeaturedTag(id)
}

// Status pin operations

func (w *DBWrapper) ReadPinsByAccountId(accountId uuid.UUID) (error, *[]domain.StatusPin) {
	return w.db.ReadPinsByAccountId(accountId)
}

func (w *DBWrapper) CreateStatusPin(p *domain.StatusPin) error {
	return w.db.CreateStatusPin(p)
}

func (w *DBWrapper) DeleteStatusPin(id uuid.UUID) error {
	return w.db.DeleteStatusPin(id)
}

// Follow operations

func (w *DBWrapper) CreateFollow(f *domain.Follow) error {
	return w.db.CreateFollow(f)
}

func (w *DBWrapper) DeleteFollow(id uuid.UUID) error {
	return w.db.DeleteFollow(id)
}

func (w *DBWrapper) DeleteFollowByURI(uri string) error {
	return w.db.DeleteFollowByURI(uri)
}

func (w *DBWrapper) AcceptFollowByURI(uri string) error {
	return w.db.AcceptFollowByURI(uri)
}

func (w *DBWrapper) ReadFollowByAccountIds(accountId, targetAccountId uuid.UUID) (error, *domain.Follow) {
	return w.db.ReadFollowByAccountIds(accountId, targetAccountId)
}

func (w *DBWrapper) ReadFollowsByTargetAccountId(targetId uuid.UUID) (error, *[]domain.Follow) {
	return w.db.ReadFollowsByTargetAccountId(targetId)
}

func (w *DBWrapper) ReadFollowsByAccountId(accountId uuid.UUID) (error, *[]domain.Follow) {
	return w.db.ReadFollowsByAccountId(accountId)
}

// Activity log operations

func (w *DBWrapper) CreateActivity(a *domain.Activity) error {
	return w.db.CreateActivity(a)
}

func (w *DBWrapper) UpdateActivity(a *domain.Activity) error {
	return w.db.UpdateActivity(a)
}

func (w *DBWrapper) ReadActivityByURI(uri string) (error, *domain.Activity) {
	return w.db.ReadActivityByURI(uri)
}

// Job queue operations

func (w *DBWrapper) EnqueueJob(j *domain.Job) error {
	return w.db.EnqueueJob(j)
}

func (w *DBWrapper) ReadDueJobs(limit int) (error, *[]domain.Job) {
	return w.db.ReadDueJobs(limit)
}

func (w *DBWrapper) UpdateJobAttempt(id uuid.UUID, attempts int, runAt time.Time) error {
	return w.db.UpdateJobAttempt(id, attempts, runAt)
}

func (w *DBWrapper) DeleteJob(id uuid.UUID) error {
	return w.db.DeleteJob(id)
}

func (w *DBWrapper) DeleteJobsByKindAndArgs(kind, args string) error {
	return w.db.DeleteJobsByKindAndArgs(kind, args)
}

// Delivery queue operations

func (w *DBWrapper) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return w.db.EnqueueDelivery(item)
}

func (w *DBWrapper) ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem) {
	return w.db.ReadPendingDeliveries(limit)
}

func (w *DBWrapper) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error {
	return w.db.UpdateDeliveryAttempt(id, attempts, nextRetry)
}

func (w *DBWrapper) DeleteDelivery(id uuid.UUID) error {
	return w.db.DeleteDelivery(id)
}

// Notification operations

func (w *DBWrapper) CreateNotification(n *domain.Notification) error {
	return w.db.CreateNotification(n)
}

// Key tombstone operations

func (w *DBWrapper) CreateKeyTombstone(t *domain.KeyTombstone) error {
	return w.db.CreateKeyTombstone(t)
}

func (w *DBWrapper) HasKeyTombstone(keyId string) (bool, error) {
	return w.db.HasKeyTombstone(keyId)
}

func (w *DBWrapper) DeleteKeyTombstonesByActorURI(actorURI string) error {
	return w.db.DeleteKeyTombstonesByActorURI(actorURI)
}

// Ensure DBWrapper implements Database interface
var _ Database = (*DBWrapper)(nil)
