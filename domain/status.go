package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility values for a status.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityPrivate  = "private"
	VisibilityDirect   = "direct"
)

// Status is a local cache of a remote (or local) post. At most one Status
// exists per URI.
type Status struct {
	Id             uuid.UUID
	URI            string
	AccountId      uuid.UUID
	Text           string // rendered HTML content
	SpoilerText    string
	Language       string
	Visibility     string
	Sensitive      bool
	InReplyToId    *uuid.UUID
	InReplyToURI   string
	PollId         *uuid.UUID
	PreviewCardURL string
	Local          bool
	CreatedAt      time.Time
	EditedAt       *time.Time
	FetchedAt      time.Time
}

// StatusEdit is the baseline snapshot of a status, taken before its first
// significant edit mutates it. Later edits replace the current text without
// another snapshot.
type StatusEdit struct {
	Id                uuid.UUID
	StatusId          uuid.UUID
	Text              string
	SpoilerText       string
	Sensitive         bool
	MediaDescriptions []string
	PollOptions       []string
	CreatedAt         time.Time
}

// MediaAttachment is owned by a Status and matched across updates by
// RemoteURL, not by row identity.
type MediaAttachment struct {
	Id          uuid.UUID
	StatusId    uuid.UUID
	RemoteURL   string
	Description string
	FocalPoint  string
	Blurhash    string
	MediaType   string
	Downloaded  bool
	Position    int
	CreatedAt   time.Time
}

// Mention links a status to a mentioned actor. Mentions removed by an edit
// become silent instead of being deleted.
type Mention struct {
	Id        uuid.UUID
	StatusId  uuid.UUID
	AccountId uuid.UUID
	TargetURI string
	Silent    bool
	CreatedAt time.Time
}

// StatusTag is a hashtag applied to a status.
type StatusTag struct {
	Id       uuid.UUID
	StatusId uuid.UUID
	Name     string
}

// CustomEmoji is upserted by (shortcode, domain).
type CustomEmoji struct {
	Id        uuid.UUID
	Shortcode string
	Domain    string
	ImageURL  string
	UpdatedAt time.Time
	CreatedAt time.Time
}
