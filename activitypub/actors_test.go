package activitypub

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
)

func TestResolveNewActor(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")

	actor, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if actor.Username != "alice" || actor.Domain != "remote.example" {
		t.Errorf("Expected alice@remote.example, got %s@%s", actor.Username, actor.Domain)
	}
	if actor.URI != actorURI {
		t.Errorf("Expected URI %s, got %s", actorURI, actor.URI)
	}
	if actor.InboxURI != actorURI+"/inbox" {
		t.Errorf("Unexpected inbox %s", actor.InboxURI)
	}
	if database.CreateActorCalls != 1 {
		t.Errorf("Expected one stored row, got %d creates", database.CreateActorCalls)
	}
	if actor.Protocol != domain.ProtocolActivityPub {
		t.Errorf("Expected activitypub protocol, got %s", actor.Protocol)
	}
}

func TestResolveCachedActorSkipsNetwork(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()

	database.Actors["https://remote.example/users/alice"] = &domain.Actor{
		Id:            uuid.New(),
		Username:      "alice",
		Domain:        "remote.example",
		URI:           "https://remote.example/users/alice",
		LastFetchedAt: time.Now(),
	}

	actor, err := GetOrFetchActorWithDeps("https://remote.example/users/alice", conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if actor.Username != "alice" {
		t.Errorf("Expected cached alice, got %s", actor.Username)
	}
	if client.RequestCount() != 0 {
		t.Errorf("Fresh cache must not hit the network, saw %d requests", client.RequestCount())
	}
}

func TestResolveConcurrentSingleRow(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")
	deps := testDeps(database, client)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := GetOrFetchActorWithDeps(actorURI, conf, deps, ResolveOpts{}); err != nil {
				t.Errorf("Concurrent resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(database.Actors) != 1 {
		t.Errorf("Expected a single stored row, got %d", len(database.Actors))
	}
}

func TestResolveRecursionLimit(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()

	opts := ResolveOpts{Depth: conf.Federation.MaxRecursionDepth + 1}
	_, err := GetOrFetchActorWithDeps("https://remote.example/users/alice", conf, testDeps(database, client), opts)
	if !errors.Is(err, ErrRecursionLimit) {
		t.Errorf("Expected ErrRecursionLimit, got %v", err)
	}
	if client.RequestCount() != 0 {
		t.Errorf("Depth check must run before any fetch, saw %d requests", client.RequestCount())
	}
}

func TestResolveSpendsDiscoveryBudget(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")

	budget := NewDiscoveryBudget(0, time.Minute)
	defer budget.Stop()
	opts := ResolveOpts{RequestId: "req-1", Budget: budget}

	_, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), opts)
	if !errors.Is(err, ErrDiscoveryLimit) {
		t.Errorf("Expected ErrDiscoveryLimit with exhausted budget, got %v", err)
	}
	if len(database.Actors) != 0 {
		t.Errorf("No row may be created once the budget is spent")
	}
}

func TestResolveCachedActorNotBudgeted(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()

	database.Actors["https://remote.example/users/alice"] = &domain.Actor{
		Id:            uuid.New(),
		Username:      "alice",
		Domain:        "remote.example",
		URI:           "https://remote.example/users/alice",
		LastFetchedAt: time.Now(),
	}

	budget := NewDiscoveryBudget(0, time.Minute)
	defer budget.Stop()
	opts := ResolveOpts{RequestId: "req-1", Budget: budget}

	if _, err := GetOrFetchActorWithDeps("https://remote.example/users/alice", conf, testDeps(database, client), opts); err != nil {
		t.Errorf("Known actors cost no budget, got %v", err)
	}
}

func TestResolveLocalActorShortCircuits(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()

	localURI := "https://vireo.example/users/bob"
	database.Actors[localURI] = &domain.Actor{
		Id:       uuid.New(),
		Username: "bob",
		URI:      localURI,
	}

	actor, err := GetOrFetchActorWithDeps(localURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Local resolve failed: %v", err)
	}
	if actor.Username != "bob" {
		t.Errorf("Expected bob, got %s", actor.Username)
	}
	if client.RequestCount() != 0 {
		t.Errorf("Local actors must never be fetched, saw %d requests", client.RequestCount())
	}
}

func TestResolveLocallySuspendedNeverRefetched(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")

	database.Actors[actorURI] = &domain.Actor{
		Id:               uuid.New(),
		Username:         "alice",
		Domain:           "remote.example",
		URI:              actorURI,
		Suspended:        true,
		SuspensionOrigin: domain.SuspensionLocal,
		LastFetchedAt:    time.Now().Add(-48 * time.Hour),
	}

	actor, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{Refresh: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !actor.LocallySuspended() {
		t.Error("Local suspension must survive resolution")
	}
	if client.RequestCount() != 0 {
		t.Errorf("Locally suspended actors must not be refetched, saw %d requests", client.RequestCount())
	}
}

func TestResolveKeyRotationClearsTombstonesAndRefollows(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")

	remote := &domain.Actor{
		Id:                uuid.New(),
		Username:          "alice",
		Domain:            "remote.example",
		URI:               actorURI,
		PublicKeyPem:      "-----BEGIN PUBLIC KEY-----\nOLDKEY\n-----END PUBLIC KEY-----\n",
		PublicKeyId:       actorURI + "#main-key",
		Protocol:          domain.ProtocolActivityPub,
		LastFetchedAt:     time.Now().Add(-48 * time.Hour),
		LastWebfingeredAt: time.Now(),
	}
	database.Actors[actorURI] = remote
	database.Tombstones[remote.PublicKeyId] = actorURI

	local := &domain.Actor{
		Id:       uuid.New(),
		Username: "bob",
		URI:      "https://vireo.example/users/bob",
	}
	database.Actors[local.URI] = local
	follow := &domain.Follow{
		Id:              uuid.New(),
		AccountId:       local.Id,
		TargetAccountId: remote.Id,
		Accepted:        true,
		CreatedAt:       time.Now(),
	}
	database.Follows[follow.Id] = follow

	if _, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	tombstoned, err := database.HasKeyTombstone(remote.PublicKeyId)
	if err != nil {
		t.Fatalf("HasKeyTombstone failed: %v", err)
	}
	if tombstoned {
		t.Error("A live actor with a fresh key must shed old tombstones")
	}

	var refollows []domain.Job
	for _, job := range database.Jobs {
		if job.Kind == domain.JobRefollow {
			refollows = append(refollows, job)
		}
	}
	if len(refollows) != 1 {
		t.Fatalf("Expected one refollow job, got %d", len(refollows))
	}
	if want := local.URI + " " + actorURI; refollows[0].Args != want {
		t.Errorf("Refollow args = %q, want %q", refollows[0].Args, want)
	}
}

func TestResolveActorGoneMarksSuspended(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := "https://remote.example/users/alice"
	client.Statuses[actorURI] = 410
	client.Responses[actorURI] = ""

	database.Actors[actorURI] = &domain.Actor{
		Id:            uuid.New(),
		Username:      "alice",
		Domain:        "remote.example",
		URI:           actorURI,
		LastFetchedAt: time.Now().Add(-48 * time.Hour),
	}

	_, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if !errors.Is(err, ErrActorGone) {
		t.Errorf("Expected ErrActorGone, got %v", err)
	}

	_, stored := database.ReadActorByURI(actorURI)
	if stored == nil || !stored.Suspended || stored.SuspensionOrigin != domain.SuspensionRemote {
		t.Error("A 410 must mark the cached actor suspended-remote")
	}
}

func TestResolveStaleReturnedOnTransientFailure(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := "https://remote.example/users/alice"
	client.Statuses[actorURI] = 503
	client.Responses[actorURI] = ""

	database.Actors[actorURI] = &domain.Actor{
		Id:            uuid.New(),
		Username:      "alice",
		Domain:        "remote.example",
		URI:           actorURI,
		LastFetchedAt: time.Now().Add(-48 * time.Hour),
	}

	actor, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Expected stale data on transient failure, got %v", err)
	}
	if actor.Username != "alice" {
		t.Errorf("Expected cached alice, got %s", actor.Username)
	}
}

func TestResolveRejectsCrossOriginKey(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := "https://remote.example/users/alice"
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/users/alice",
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "https://remote.example/users/alice/inbox",
		"publicKey": {
			"id": "https://evil.example/keys/1",
			"owner": "https://remote.example/users/alice",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nX\n-----END PUBLIC KEY-----\n"
		}
	}`

	if _, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{}); err == nil {
		t.Error("Expected rejection of a key hosted on a different origin")
	}
}

func TestResolveRejectsUnsupportedType(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := "https://remote.example/users/alice"
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "https://remote.example/users/alice",
		"type": "Tombstone",
		"preferredUsername": "alice",
		"inbox": "https://remote.example/users/alice/inbox",
		"publicKey": {"id": "https://remote.example/users/alice#main-key", "publicKeyPem": "x"}
	}`

	if _, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{}); err == nil {
		t.Error("Expected rejection of unsupported actor type")
	}
}

func TestResolveBlockedDomain(t *testing.T) {
	conf := testConf()
	conf.Federation.BlockedDomains = []string{"remote.example"}
	database := NewMockDatabase()
	client := NewMockHTTPClient()

	_, err := GetOrFetchActorWithDeps("https://remote.example/users/alice", conf, testDeps(database, client), ResolveOpts{})
	if !errors.Is(err, ErrDomainBlocked) {
		t.Errorf("Expected ErrDomainBlocked, got %v", err)
	}
	if client.RequestCount() != 0 {
		t.Errorf("Blocked domains must not be contacted, saw %d requests", client.RequestCount())
	}
}

func TestResolveBreakOnRedirect(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	requested := "https://remote.example/users/alice"
	canonical := "https://remote.example/users/alice-renamed"
	client.Responses[requested] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + canonical + `",
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "` + canonical + `/inbox",
		"publicKey": {
			"id": "` + canonical + `#main-key",
			"owner": "` + canonical + `",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`

	_, err := GetOrFetchActorWithDeps(requested, conf, testDeps(database, client), ResolveOpts{BreakOnRedirect: true})
	var redirect *ActorRedirectError
	if !errors.As(err, &redirect) {
		t.Fatalf("Expected ActorRedirectError, got %v", err)
	}
	if redirect.Target != canonical {
		t.Errorf("Redirect target = %q, want %q", redirect.Target, canonical)
	}
	if len(database.Actors) != 0 {
		t.Error("A refused redirect must not store an actor")
	}
}

func TestResolveSuppressErrors(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()

	actor, err := GetOrFetchActorWithDeps("https://remote.example/users/ghost", conf, testDeps(database, client), ResolveOpts{SuppressErrors: true})
	if err != nil {
		t.Fatalf("Suppressed resolution must not return an error, got %v", err)
	}
	if actor != nil {
		t.Error("Failed resolution must yield a nil actor")
	}
}

func TestResolveOnlyKeyKeepsCollectionFields(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")

	database.Actors[actorURI] = &domain.Actor{
		Id:                uuid.New(),
		Username:          "alice",
		Domain:            "remote.example",
		URI:               actorURI,
		PublicKeyPem:      "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n",
		PublicKeyId:       actorURI + "#main-key",
		FeaturedURI:       actorURI + "/collections/featured",
		FeaturedTagsURI:   actorURI + "/collections/tags",
		MovedToURI:        "https://elsewhere.example/users/alice",
		Protocol:          domain.ProtocolActivityPub,
		LastFetchedAt:     time.Now().Add(-48 * time.Hour),
		LastWebfingeredAt: time.Now(),
	}

	resolved, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{OnlyKey: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.FeaturedURI != actorURI+"/collections/featured" {
		t.Error("Key-only lookups must not touch collection fields")
	}
	if resolved.MovedToURI != "https://elsewhere.example/users/alice" {
		t.Error("Key-only lookups must not touch the move target")
	}
	for _, job := range database.Jobs {
		if job.Kind == domain.JobFeaturedSync || job.Kind == domain.JobFeaturedTagsSync {
			t.Errorf("Key-only lookups must not queue %s", job.Kind)
		}
	}
}

func TestResolveQueuesFeaturedSyncs(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + actorURI + `",
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "` + actorURI + `/inbox",
		"featured": "` + actorURI + `/collections/featured",
		"featuredTags": "` + actorURI + `/collections/tags",
		"publicKey": {
			"id": "` + actorURI + `#main-key",
			"owner": "` + actorURI + `",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`

	if _, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	kinds := map[string]int{}
	for _, job := range database.Jobs {
		kinds[job.Kind]++
	}
	if kinds[domain.JobFeaturedSync] != 1 || kinds[domain.JobFeaturedTagsSync] != 1 {
		t.Errorf("Expected one featured and one featured-tags sync, got %v", kinds)
	}
}

func TestResolveMergesFollowerStats(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + actorURI + `",
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "` + actorURI + `/inbox",
		"hideCollections": true,
		"followers": {
			"id": "` + actorURI + `/followers",
			"type": "OrderedCollection",
			"totalItems": 42
		},
		"publicKey": {
			"id": "` + actorURI + `#main-key",
			"owner": "` + actorURI + `",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`

	resolved, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.FollowersURI != actorURI+"/followers" {
		t.Errorf("Inlined followers collection must set the followers URI, got %q", resolved.FollowersURI)
	}
	if resolved.FollowersCount != 42 {
		t.Errorf("Expected followers count 42, got %d", resolved.FollowersCount)
	}
	if !resolved.HideCollections {
		t.Error("hideCollections must carry over from the profile")
	}
}

func TestResolveKeepsFollowerCountWithoutInlinedTotal(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")

	database.Actors[actorURI] = &domain.Actor{
		Id:                uuid.New(),
		Username:          "alice",
		Domain:            "remote.example",
		URI:               actorURI,
		FollowersURI:      actorURI + "/followers",
		FollowersCount:    17,
		PublicKeyPem:      "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n",
		PublicKeyId:       actorURI + "#main-key",
		Protocol:          domain.ProtocolActivityPub,
		LastFetchedAt:     time.Now().Add(-48 * time.Hour),
		LastWebfingeredAt: time.Now(),
	}

	resolved, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.FollowersCount != 17 {
		t.Errorf("A profile without an inlined total must keep the cached count, got %d", resolved.FollowersCount)
	}
}

// lockCheckingDatabase records whether the actor lock was free the first
// time a job lands in the queue.
type lockCheckingDatabase struct {
	*MockDatabase
	uri      string
	checked  bool
	lockFree bool
}

func (d *lockCheckingDatabase) EnqueueJob(j *domain.Job) error {
	if !d.checked {
		d.checked = true
		acquired := make(chan func(), 1)
		go func() { acquired <- defaultLocker.Acquire("actor:" + d.uri) }()
		select {
		case release := <-acquired:
			release()
			d.lockFree = true
		case <-time.After(2 * time.Second):
		}
	}
	return d.MockDatabase.EnqueueJob(j)
}

func TestResolveSchedulesJobsOutsideActorLock(t *testing.T) {
	conf := testConf()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + actorURI + `",
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "` + actorURI + `/inbox",
		"featured": "` + actorURI + `/collections/featured",
		"publicKey": {
			"id": "` + actorURI + `#main-key",
			"owner": "` + actorURI + `",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`
	database := &lockCheckingDatabase{MockDatabase: NewMockDatabase(), uri: actorURI}
	deps := &InboxDeps{Database: database, HTTPClient: client}

	if _, err := GetOrFetchActorWithDeps(actorURI, conf, deps, ResolveOpts{}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !database.checked {
		t.Fatal("Expected the resolve to queue at least one job")
	}
	if !database.lockFree {
		t.Error("Jobs must be scheduled after the actor lock is released")
	}
}

func TestResolveParsesProfileFields(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + actorURI + `",
		"type": "Person",
		"preferredUsername": "alice",
		"inbox": "` + actorURI + `/inbox",
		"attachment": [
			{"type": "PropertyValue", "name": "Website", "value": "<a href=\"https://site.example/alice\">site</a>"},
			{"type": "PropertyValue", "name": "Pronouns", "value": "they/them"},
			{"type": "Link", "name": "ignored", "value": "x"}
		],
		"publicKey": {
			"id": "` + actorURI + `#main-key",
			"owner": "` + actorURI + `",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`

	resolved, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(resolved.Fields) != 2 {
		t.Fatalf("Expected 2 fields, got %d", len(resolved.Fields))
	}
	if resolved.Fields[0].Name != "Website" || !resolved.Fields[0].VerifiedAt.IsZero() {
		t.Errorf("First field wrong or already verified: %+v", resolved.Fields[0])
	}

	verifyJobs := 0
	for _, job := range database.Jobs {
		if job.Kind == domain.JobFieldVerify {
			verifyJobs++
		}
	}
	if verifyJobs != 1 {
		t.Errorf("Expected one field verification job, got %d", verifyJobs)
	}
}

func TestResolveRemoteSuspensionQueuesJob(t *testing.T) {
	conf := testConf()
	database := NewMockDatabase()
	client := NewMockHTTPClient()
	actorURI := registerRemoteActor(client, "alice", "remote.example")
	client.Responses[actorURI] = `{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id": "` + actorURI + `",
		"type": "Person",
		"preferredUsername": "alice",
		"suspended": true,
		"inbox": "` + actorURI + `/inbox",
		"publicKey": {
			"id": "` + actorURI + `#main-key",
			"owner": "` + actorURI + `",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`

	database.Actors[actorURI] = &domain.Actor{
		Id:                uuid.New(),
		Username:          "alice",
		Domain:            "remote.example",
		URI:               actorURI,
		DisplayName:       "Alice",
		PublicKeyPem:      "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n",
		PublicKeyId:       actorURI + "#main-key",
		Protocol:          domain.ProtocolActivityPub,
		LastFetchedAt:     time.Now().Add(-48 * time.Hour),
		LastWebfingeredAt: time.Now(),
	}

	resolved, err := GetOrFetchActorWithDeps(actorURI, conf, testDeps(database, client), ResolveOpts{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !resolved.Suspended || resolved.SuspensionOrigin != domain.SuspensionRemote {
		t.Error("Remote suspension flag must carry over as remote-origin")
	}
	if resolved.DisplayName != "Alice" {
		t.Error("A suspended account's profile must stay frozen")
	}
	suspendJobs := 0
	for _, job := range database.Jobs {
		if job.Kind == domain.JobSuspendAccount {
			suspendJobs++
		}
	}
	if suspendJobs != 1 {
		t.Errorf("Expected one suspend job, got %d", suspendJobs)
	}
}
