package domain

import (
	"time"

	"github.com/google/uuid"
)

// Actor protocol values
const (
	ProtocolActivityPub = "activitypub"
	ProtocolLegacy      = "legacy"
)

// Suspension origins
const (
	SuspensionNone   = ""
	SuspensionLocal  = "local"
	SuspensionRemote = "remote"
)

// Actor represents a local cache of a federated identity (Person, Group or
// Service), or a local account when Domain is empty.
type Actor struct {
	Id              uuid.UUID
	Username        string
	Domain          string // empty => local
	URI             string // globally unique, immutable once set
	ActorType       string // Person, Group, Service
	DisplayName     string
	Summary         string
	URL             string
	InboxURI        string
	SharedInboxURI  string
	OutboxURI       string
	FollowersURI    string
	FeaturedURI     string
	FeaturedTagsURI string
	AvatarURL       string
	HeaderURL       string
	PublicKeyPem    string
	PublicKeyId     string
	PrivateKeyPem   string // local actors only
	Protocol        string // activitypub | legacy
	Locked          bool
	Discoverable    bool
	HideCollections bool
	MovedToURI      string
	AlsoKnownAs     []string
	Fields          []ActorField
	FollowersCount  int

	Suspended        bool
	SuspensionOrigin string // "", local, remote

	RemoteCreatedAt   time.Time
	CreatedAt         time.Time
	LastFetchedAt     time.Time
	LastWebfingeredAt time.Time
}

// ActorField is one row of a profile's metadata table. VerifiedAt is set
// once the linked page is seen carrying a rel="me" link back to the profile.
type ActorField struct {
	Name       string    `json:"name"`
	Value      string    `json:"value"`
	VerifiedAt time.Time `json:"verifiedAt,omitzero"`
}

// IsLocal reports whether the actor lives on this server.
func (a *Actor) IsLocal() bool {
	return a.Domain == ""
}

// LocallySuspended reports whether the suspension came from a local
// moderation decision. Remote state never overrides it.
func (a *Actor) LocallySuspended() bool {
	return a.Suspended && a.SuspensionOrigin == SuspensionLocal
}

// Handle returns @user or @user@domain.
func (a *Actor) Handle() string {
	if a.Domain == "" {
		return "@" + a.Username
	}
	return "@" + a.Username + "@" + a.Domain
}

// KeyTombstone marks a public key id we have seen deleted or rotated away,
// so stale signatures referencing it can be refused until re-resolution.
type KeyTombstone struct {
	Id        uuid.UUID
	ActorURI  string
	KeyId     string
	CreatedAt time.Time
}
