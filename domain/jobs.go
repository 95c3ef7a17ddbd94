package domain

import (
	"time"

	"github.com/google/uuid"
)

// Background job kinds.
const (
	JobMediaRedownload  = "media_redownload"
	JobRefollow         = "refollow"
	JobAccountMerge     = "account_merge"
	JobSuspendAccount   = "suspend_account"
	JobUnsuspendAccount = "unsuspend_account"
	JobFeaturedSync     = "featured_sync"
	JobFeaturedTagsSync = "featured_tags_sync"
	JobFollowersSync    = "followers_sync"
	JobPollExpiration   = "poll_expiration"
	JobProtocolUpgrade  = "protocol_upgrade"
	JobFieldVerify      = "field_verification"
)

// Job is a row in the background job queue. Args is a JSON-encoded argument
// list; RunAt delays execution (jittered retries for media downloads).
type Job struct {
	Id        uuid.UUID
	Kind      string
	Args      string
	RunAt     time.Time
	Attempts  int
	CreatedAt time.Time
}

// DeliveryQueueItem represents a signed activity waiting for delivery to a
// remote inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActorId      uuid.UUID // local actor whose key signs the request
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// Activity represents an inbound ActivityPub activity (for deduplication
// and debugging).
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	Local        bool
	CreatedAt    time.Time
}
