package activitypub

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// Database defines the database operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type Database interface {
	// Actor operations
	CreateActor(a *domain.Actor) error
	UpdateActor(a *domain.Actor) error
	DeleteActor(id uuid.UUID) error
	ReadActorByURI(uri string) (error, *domain.Actor)
	ReadActorById(id uuid.UUID) (error, *domain.Actor)
	ReadActorByAcct(username, dom string) (error, *domain.Actor)
	ReadLocalActorByUsername(username string) (error, *domain.Actor)
	ReadActorsByURI(uri string) (error, *[]domain.Actor)

	// Status operations
	CreateStatus(s *domain.Status) error
	UpdateStatus(s *domain.Status) error
	ReadStatusByURI(uri string) (error, *domain.Status)
	ReadStatusById(id uuid.UUID) (error, *domain.Status)
	DeleteStatus(id uuid.UUID) error

	// Status edit operations
	CreateStatusEdit(e *domain.StatusEdit) error
	CountStatusEdits(statusId uuid.UUID) (int, error)

	// Media operations
	CreateMediaAttachment(m *domain.MediaAttachment) error
	UpdateMediaAttachment(m *domain.MediaAttachment) error
	DeleteMediaAttachment(id uuid.UUID) error
	ReadMediaByStatusId(statusId uuid.UUID) (error, *[]domain.MediaAttachment)

	// Mention operations
	CreateMention(m *domain.Mention) error
	UpdateMention(m *domain.Mention) error
	ReadMentionsByStatusId(statusId uuid.UUID) (error, *[]domain.Mention)

	// Tag operations
	CreateStatusTag(t *domain.StatusTag) error
	DeleteStatusTagsByStatusId(statusId uuid.UUID) error
	ReadTagsByStatusId(statusId uuid.UUID) (error, *[]domain.StatusTag)

	// Emoji operations
	ReadEmojiByShortcode(shortcode, dom string) (error, *domain.CustomEmoji)
	CreateEmoji(e *domain.CustomEmoji) error
	UpdateEmoji(e *domain.CustomEmoji) error

	// Poll operations
	ReadPollById(id uuid.UUID) (error, *domain.Poll)
	CreatePoll(p *domain.Poll) error
	UpdatePollVersioned(p *domain.Poll) error
	DeleteVotesByPollId(pollId uuid.UUID) error
	CountVotesByPollId(pollId uuid.UUID) (int, error)

	// Quote operations
	ReadQuoteByStatusId(statusId uuid.UUID) (error, *domain.Quote)
	CreateQuote(q *domain.Quote) error
	UpdateQuote(q *domain.Quote) error

	// Featured tag operations
	ReadFeaturedTagsByAccountId(accountId uuid.UUID) (error, *[]domain.FeaturedTag)
	CreateFeaturedTag(t *domain.FeaturedTag) error
	DeleteFeaturedTag(id uuid.UUID) error

	// Status pin operations
	ReadPinsByAccountId(accountId uuid.UUID) (error, *[]domain.StatusPin)
	CreateStatusPin(p *domain.StatusPin) error
	DeleteStatusPin(id uuid.UUID) error

	// Follow operations
	CreateFollow(f *domain.Follow) error
	DeleteFollow(id uuid.UUID) error
	DeleteFollowByURI(uri string) error
	AcceptFollowByURI(uri string) error
	ReadFollowByAccountIds(accountId, targetAccountId uuid.UUID) (error, *domain.Follow)
	ReadFollowsByTargetAccountId(targetId uuid.UUID) (error, *[]domain.Follow)
	ReadFollowsByAccountId(accountId uuid.UUID) (error, *[]domain.Follow)

	// Activity log operations
	CreateActivity(a *domain.Activity) error
	UpdateActivity(a *domain.Activity) error
	ReadActivityByURI(uri string) (error, *domain.Activity)

	// Job queue operations
	EnqueueJob(j *domain.Job) error
	ReadDueJobs(limit int) (error, *[]domain.Job)
	UpdateJobAttempt(id uuid.UUID, attempts int, runAt time.Time) error
	DeleteJob(id uuid.UUID) error
	DeleteJobsByKindAndArgs(kind, args string) error

	// Delivery queue operations
	EnqueueDelivery(item *domain.DeliveryQueueItem) error
	ReadPendingDeliveries(limit int) (error, *[]domain.DeliveryQueueItem)
	UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetry time.Time) error
	DeleteDelivery(id uuid.UUID) error

	// Notification operations
	CreateNotification(n *domain.Notification) error

	// Key tombstone operations
	CreateKeyTombstone(t *domain.KeyTombstone) error
	HasKeyTombstone(keyId string) (bool, error)
	DeleteKeyTombstonesByActorURI(actorURI string) error
}

// HTTPClient defines the HTTP client operations required by the ActivityPub package.
// This interface allows for dependency injection and testing with mock implementations.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPClient is the default HTTP client used in production
type DefaultHTTPClient struct {
	client *http.Client
}

// NewDefaultHTTPClient creates a new default HTTP client with the specified timeout
func NewDefaultHTTPClient(timeout time.Duration) *DefaultHTTPClient {
	return &DefaultHTTPClient{
		client: &http.Client{Timeout: timeout},
	}
}

// Do executes the HTTP request
func (c *DefaultHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

var defaultHTTPClient HTTPClient = NewDefaultHTTPClient(10 * time.Second)

var (
	confClientMu      sync.Mutex
	confClient        HTTPClient
	confClientTimeout time.Duration
)

// httpClientFor returns the shared production client, built with the
// configured fetch timeout. The client is rebuilt if the timeout changes.
func httpClientFor(conf *util.AppConfig) HTTPClient {
	timeout := 10 * time.Second
	if conf != nil && conf.Federation.FetchTimeoutSec > 0 {
		timeout = time.Duration(conf.Federation.FetchTimeoutSec) * time.Second
	}
	confClientMu.Lock()
	defer confClientMu.Unlock()
	if confClient == nil || confClientTimeout != timeout {
		confClient = NewDefaultHTTPClient(timeout)
		confClientTimeout = timeout
	}
	return confClient
}
