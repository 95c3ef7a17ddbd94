package activitypub

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// Cached actor data older than this is refreshed on the next resolve.
const actorCacheTTL = 24 * time.Hour

// A webfinger confirmation this old is repeated before identity fields are
// trusted again.
const webfingerTTL = 24 * time.Hour

// ActorResponse represents the JSON structure of an ActivityPub actor
type ActorResponse struct {
	Context           any      `json:"@context"`
	ID                string   `json:"id"`
	Type              string   `json:"type"`
	PreferredUsername string   `json:"preferredUsername"`
	Name              string   `json:"name"`
	Summary           string   `json:"summary"`
	URL               any      `json:"url"`
	Inbox             string   `json:"inbox"`
	Outbox            string   `json:"outbox"`
	Followers         any      `json:"followers"`
	Featured          string   `json:"featured"`
	FeaturedTags      string   `json:"featuredTags"`
	MovedTo           string   `json:"movedTo"`
	AlsoKnownAs       []string `json:"alsoKnownAs"`
	Discoverable      bool     `json:"discoverable"`
	HideCollections   bool     `json:"hideCollections"`
	Suspended         bool     `json:"suspended"`
	Published         string   `json:"published"`
	ManuallyApproves  bool     `json:"manuallyApprovesFollowers"`
	Attachment        []struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"attachment"`
	Icon struct {
		Type      string `json:"type"`
		MediaType string `json:"mediaType"`
		URL       string `json:"url"`
	} `json:"icon"`
	Image struct {
		URL string `json:"url"`
	} `json:"image"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Endpoints struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
}

var allowedActorTypes = map[string]bool{
	"Person":       true,
	"Service":      true,
	"Application":  true,
	"Group":        true,
	"Organization": true,
}

// ResolveOpts carries the per-request limits threaded through resolution.
type ResolveOpts struct {
	// Depth counts how many dependency hops led here.
	Depth int
	// RequestId identifies the inbound request for discovery accounting.
	RequestId string
	// Budget caps new discoveries for the request; nil means unlimited.
	Budget *DiscoveryBudget
	// Refresh forces a refetch even when the cache is fresh.
	Refresh bool
	// OnlyKey limits the merge to identity and key material; collection
	// derived fields keep their cached values and no collection syncs are
	// scheduled.
	OnlyKey bool
	// BreakOnRedirect fails resolution with an ActorRedirectError when the
	// document identifies as a different URI instead of trusting it.
	BreakOnRedirect bool
	// SuppressErrors downgrades resolution failures to a nil actor with a
	// log line, for callers that treat a missing actor as skippable.
	SuppressErrors bool
}

// Spend consumes one discovery unit if a budget is attached.
func (o *ResolveOpts) Spend() error {
	if o.Budget == nil || o.RequestId == "" {
		return nil
	}
	return o.Budget.Spend(o.RequestId)
}

// Deeper returns a copy of the opts one dependency hop further down.
func (o ResolveOpts) Deeper() ResolveOpts {
	o.Depth++
	return o
}

// GetOrFetchActor returns an actor from cache or fetches it if missing or
// stale, using production dependencies.
func GetOrFetchActor(actorURI string, conf *util.AppConfig) (*domain.Actor, error) {
	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: httpClientFor(conf),
	}
	return GetOrFetchActorWithDeps(actorURI, conf, deps, ResolveOpts{})
}

// GetOrFetchActorWithDeps resolves an actor URI into a stored account row.
//
// Local URIs short-circuit to the local account without touching the
// network. Remote URIs go through fetch, JSON-LD context check, identity
// confirmation via WebFinger, and a field-by-field merge into any existing
// row. Concurrent resolves of the same URI are serialized by a named lock so
// only one row is ever created.
func GetOrFetchActorWithDeps(actorURI string, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Actor, error) {
	actor, err := resolveActor(actorURI, conf, deps, opts)
	if err != nil && opts.SuppressErrors {
		log.Printf("Resolver: Suppressing failure for %s: %v", actorURI, err)
		return nil, nil
	}
	return actor, err
}

func resolveActor(actorURI string, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Actor, error) {
	if opts.Depth > conf.Federation.MaxRecursionDepth {
		return nil, ErrRecursionLimit
	}

	host := util.ExtractHost(actorURI)
	if host == "" {
		return nil, fmt.Errorf("invalid actor uri: %s", actorURI)
	}

	if host == strings.ToLower(conf.Conf.SslDomain) {
		err, local := deps.Database.ReadActorByURI(actorURI)
		if err != nil {
			return nil, fmt.Errorf("unknown local actor %s: %w", actorURI, err)
		}
		return local, nil
	}

	release := defaultLocker.Acquire("actor:" + actorURI)
	merged, post, err := resolveActorLocked(actorURI, conf, deps, opts)
	release()
	if post != nil {
		// Scheduling work runs unlocked: a job handler fired from here may
		// itself resolve this actor and must not find the lock held.
		post()
	}
	return merged, err
}

// resolveActorLocked fetches, verifies and merges one remote actor. The
// caller holds the named lock for the URI. Side-effects that belong after
// the commit come back as a closure to run once the lock is released.
func resolveActorLocked(actorURI string, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Actor, func(), error) {
	err, cached := deps.Database.ReadActorByURI(actorURI)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, err
	}

	if cached != nil {
		if cached.LocallySuspended() {
			// Local moderation decisions are never overwritten by a refetch.
			return cached, nil, nil
		}
		if !opts.Refresh && time.Since(cached.LastFetchedAt) < actorCacheTTL {
			return cached, nil, nil
		}
	}

	if cached == nil {
		if err := opts.Spend(); err != nil {
			return nil, nil, err
		}
	}

	fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
	doc, err := fetcher.FetchAny(actorURI)
	if err != nil {
		if errors.Is(err, ErrActorGone) && cached != nil {
			cached.Suspended = true
			cached.SuspensionOrigin = domain.SuspensionRemote
			if uerr := deps.Database.UpdateActor(cached); uerr != nil {
				log.Printf("Resolver: Failed to mark %s gone: %v", actorURI, uerr)
			}
		}
		if cached != nil && IsTransient(err) {
			// Stale data beats no data when the remote is merely down.
			return cached, nil, nil
		}
		return nil, nil, err
	}

	if !CheckContext(doc) {
		return nil, nil, ErrUnsupportedContext
	}

	var actor ActorResponse
	raw, _ := json.Marshal(doc)
	if err := json.Unmarshal(raw, &actor); err != nil {
		return nil, nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}

	if !allowedActorTypes[actor.Type] {
		return nil, nil, fmt.Errorf("unsupported actor type %q for %s", actor.Type, actorURI)
	}
	if actor.ID == "" || actor.Inbox == "" || actor.PublicKey.PublicKeyPem == "" || actor.PreferredUsername == "" {
		return nil, nil, fmt.Errorf("actor %s missing required fields", actorURI)
	}
	if !util.SameOrigin(actor.PublicKey.ID, actor.ID) {
		return nil, nil, fmt.Errorf("actor %s key id %s crosses origins", actor.ID, actor.PublicKey.ID)
	}
	if opts.BreakOnRedirect && actor.ID != actorURI {
		return nil, nil, &ActorRedirectError{Requested: actorURI, Target: actor.ID}
	}

	docHost := util.ExtractHost(actor.ID)

	// Identity fields come from WebFinger, not from the actor document.
	username, acctDomain := actor.PreferredUsername, docHost
	needWebfinger := cached == nil ||
		time.Since(cached.LastWebfingeredAt) > webfingerTTL ||
		!strings.EqualFold(cached.Username, actor.PreferredUsername)
	webfingeredAt := time.Time{}
	if cached != nil {
		username, acctDomain = cached.Username, cached.Domain
		webfingeredAt = cached.LastWebfingeredAt
	}
	if needWebfinger {
		confUsername, confDomain, err := VerifyIdentity(actor.ID, actor.PreferredUsername, docHost, deps.HTTPClient, conf)
		if err != nil {
			if cached != nil && IsTransient(err) {
				return cached, nil, nil
			}
			return nil, nil, fmt.Errorf("identity verification for %s failed: %w", actorURI, err)
		}
		username, acctDomain = confUsername, confDomain
		webfingeredAt = time.Now()
	}

	followersURI, followersTotal, hasFollowersTotal := followersCollection(actor.Followers)

	now := time.Now()
	merged := &domain.Actor{
		Id:                uuid.New(),
		Username:          username,
		Domain:            acctDomain,
		URI:               actor.ID,
		ActorType:         actor.Type,
		DisplayName:       actor.Name,
		Summary:           actor.Summary,
		URL:               actorURLString(actor.URL),
		InboxURI:          actor.Inbox,
		SharedInboxURI:    actor.Endpoints.SharedInbox,
		OutboxURI:         actor.Outbox,
		FollowersURI:      followersURI,
		FollowersCount:    followersTotal,
		FeaturedURI:       actor.Featured,
		FeaturedTagsURI:   actor.FeaturedTags,
		AvatarURL:         actor.Icon.URL,
		HeaderURL:         actor.Image.URL,
		PublicKeyPem:      actor.PublicKey.PublicKeyPem,
		PublicKeyId:       actor.PublicKey.ID,
		Protocol:          domain.ProtocolActivityPub,
		Locked:            actor.ManuallyApproves,
		Discoverable:      actor.Discoverable,
		HideCollections:   actor.HideCollections,
		MovedToURI:        actor.MovedTo,
		AlsoKnownAs:       actor.AlsoKnownAs,
		Fields:            actorFields(&actor, cached),
		Suspended:         actor.Suspended,
		SuspensionOrigin:  domain.SuspensionNone,
		CreatedAt:         now,
		LastFetchedAt:     now,
		LastWebfingeredAt: webfingeredAt,
	}
	if actor.Suspended {
		merged.SuspensionOrigin = domain.SuspensionRemote
	}
	if actor.Published != "" {
		if t, err := time.Parse(time.RFC3339, actor.Published); err == nil {
			merged.RemoteCreatedAt = t
		}
	}

	if cached == nil {
		if err := deps.Database.CreateActor(merged); err != nil {
			return nil, nil, fmt.Errorf("failed to store actor: %w", err)
		}
		log.Printf("Resolver: Discovered %s (%s)", merged.Handle(), merged.URI)
		post := func() {
			checkDuplicateActors(merged.URI, deps)
			scheduleActorMedia(merged, nil, conf, deps)
			scheduleCollectionSyncs(merged, opts, deps)
			scheduleFieldVerification(merged, opts, deps)
		}
		return merged, post, nil
	}

	merged.Id = cached.Id
	merged.CreatedAt = cached.CreatedAt
	if !hasFollowersTotal {
		// The remote did not inline its follower collection; keep the last
		// count we learned.
		merged.FollowersCount = cached.FollowersCount
	}

	// A suspended account's profile stays frozen until the suspension lifts;
	// only connectivity and key material keep refreshing.
	if merged.Suspended {
		merged.DisplayName = cached.DisplayName
		merged.Summary = cached.Summary
		merged.AvatarURL = cached.AvatarURL
		merged.HeaderURL = cached.HeaderURL
		merged.Discoverable = cached.Discoverable
		merged.Locked = cached.Locked
		merged.AlsoKnownAs = cached.AlsoKnownAs
		merged.Fields = cached.Fields
	}
	if opts.OnlyKey || merged.Suspended {
		merged.FeaturedURI = cached.FeaturedURI
		merged.FeaturedTagsURI = cached.FeaturedTagsURI
		merged.MovedToURI = cached.MovedToURI
		merged.FollowersCount = cached.FollowersCount
		merged.HideCollections = cached.HideCollections
	}

	keyChanged := cached.PublicKeyPem != "" && cached.PublicKeyPem != merged.PublicKeyPem

	if err := deps.Database.UpdateActor(merged); err != nil {
		return nil, nil, fmt.Errorf("failed to update actor: %w", err)
	}

	post := func() {
		if keyChanged {
			// A live actor presenting a fresh key is trusted again: retire
			// markers left from an earlier deletion and rebuild follow state,
			// since the remote may have lost it along with the old key.
			if err := deps.Database.DeleteKeyTombstonesByActorURI(merged.URI); err != nil {
				log.Printf("Resolver: Failed to clear tombstones for %s: %v", merged.URI, err)
			}
			scheduleRefollows(merged, deps)
		}

		if cached.Suspended != merged.Suspended {
			kind := domain.JobSuspendAccount
			if !merged.Suspended {
				kind = domain.JobUnsuspendAccount
			}
			enqueueJob(deps.Database, kind, merged.URI, time.Now())
		}

		scheduleActorMedia(merged, cached, conf, deps)
		scheduleCollectionSyncs(merged, opts, deps)
		scheduleFieldVerification(merged, opts, deps)

		if cached.Protocol == domain.ProtocolLegacy {
			enqueueJob(deps.Database, domain.JobProtocolUpgrade, merged.URI, time.Now())
		}
	}

	return merged, post, nil
}

// scheduleRefollows queues a fresh Follow from every accepted local follower
// of the given remote actor.
func scheduleRefollows(remote *domain.Actor, deps *InboxDeps) {
	err, follows := deps.Database.ReadFollowsByTargetAccountId(remote.Id)
	if err != nil || follows == nil {
		return
	}
	for _, f := range *follows {
		if !f.Accepted {
			continue
		}
		err, local := deps.Database.ReadActorById(f.AccountId)
		if err != nil || local == nil || !local.IsLocal() {
			continue
		}
		enqueueJob(deps.Database, domain.JobRefollow, local.URI+" "+remote.URI, time.Now())
	}
}

// scheduleCollectionSyncs queues reconciliation of the actor's featured
// statuses and featured tags. Skipped for suspended actors and key-only
// lookups.
func scheduleCollectionSyncs(merged *domain.Actor, opts ResolveOpts, deps *InboxDeps) {
	if merged.Suspended || opts.OnlyKey {
		return
	}
	if merged.FeaturedURI != "" {
		enqueueJob(deps.Database, domain.JobFeaturedSync, merged.URI, time.Now())
	}
	if merged.FeaturedTagsURI != "" {
		enqueueJob(deps.Database, domain.JobFeaturedTagsSync, merged.URI, time.Now())
	}
}

// scheduleFieldVerification queues a rel="me" check when the profile carries
// a link field whose current value has not been verified yet. Skipped for
// suspended actors and key-only lookups.
func scheduleFieldVerification(merged *domain.Actor, opts ResolveOpts, deps *InboxDeps) {
	if merged.Suspended || opts.OnlyKey {
		return
	}
	for _, f := range merged.Fields {
		if f.VerifiedAt.IsZero() && fieldLinkTarget(f.Value) != "" {
			enqueueJob(deps.Database, domain.JobFieldVerify, merged.URI, time.Now())
			return
		}
	}
}

// checkDuplicateActors looks for racing inserts of the same URI and hands
// repair off to the merge job.
func checkDuplicateActors(uri string, deps *InboxDeps) {
	err, rows := deps.Database.ReadActorsByURI(uri)
	if err != nil || rows == nil || len(*rows) <= 1 {
		return
	}
	log.Printf("Resolver: %d rows for %s, scheduling merge", len(*rows), uri)
	enqueueJob(deps.Database, domain.JobAccountMerge, uri, time.Now())
}

// scheduleActorMedia queues avatar and header downloads when their remote
// URLs change. Downloads are spread out with jitter so a burst of profile
// updates does not hammer one host.
func scheduleActorMedia(merged, previous *domain.Actor, conf *util.AppConfig, deps *InboxDeps) {
	changed := previous == nil ||
		previous.AvatarURL != merged.AvatarURL ||
		previous.HeaderURL != merged.HeaderURL
	if !changed || (merged.AvatarURL == "" && merged.HeaderURL == "") {
		return
	}
	delay := util.JitterDuration(conf.Federation.MediaRetryMinSec, conf.Federation.MediaRetryMaxSec)
	enqueueJob(deps.Database, domain.JobMediaRedownload, merged.Id.String(), time.Now().Add(delay))
}

func enqueueJob(database Database, kind, args string, runAt time.Time) {
	job := &domain.Job{
		Id:        uuid.New(),
		Kind:      kind,
		Args:      args,
		RunAt:     runAt,
		CreatedAt: time.Now(),
	}
	if err := database.EnqueueJob(job); err != nil {
		log.Printf("Jobs: Failed to enqueue %s: %v", kind, err)
	}
}

// InstanceActorName is the username of the service account whose key signs
// outbound fetches.
const InstanceActorName = "vireo.internal"

// instanceSigner returns the local account whose key signs outbound fetches,
// or nil when none exists yet.
func instanceSigner(conf *util.AppConfig, deps *InboxDeps) *domain.Actor {
	err, signer := deps.Database.ReadLocalActorByUsername(InstanceActorName)
	if err != nil {
		return nil
	}
	return signer
}

// actorFields converts the profile's attachment rows into field records.
// Verification stamps carry over from cached fields whose value is unchanged,
// so an unrelated profile edit does not reset them.
func actorFields(actor *ActorResponse, cached *domain.Actor) []domain.ActorField {
	var out []domain.ActorField
	for _, att := range actor.Attachment {
		if att.Type != "PropertyValue" || att.Name == "" {
			continue
		}
		field := domain.ActorField{Name: att.Name, Value: att.Value}
		if cached != nil {
			for _, prev := range cached.Fields {
				if prev.Name == field.Name && prev.Value == field.Value {
					field.VerifiedAt = prev.VerifiedAt
					break
				}
			}
		}
		out = append(out, field)
	}
	return out
}

// followersCollection splits an actor's followers field into the collection
// URI and, when the collection is inlined, its advertised size.
func followersCollection(v any) (uri string, total int, hasTotal bool) {
	switch f := v.(type) {
	case string:
		return f, 0, false
	case map[string]any:
		uri, _ = f["id"].(string)
		if raw, ok := f["totalItems"].(float64); ok {
			return uri, int(raw), true
		}
	}
	return uri, 0, false
}

func actorURLString(v any) string {
	switch u := v.(type) {
	case string:
		return u
	case map[string]any:
		if href, ok := u["href"].(string); ok {
			return href
		}
	}
	return ""
}
