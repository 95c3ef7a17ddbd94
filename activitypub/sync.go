package activitypub

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// SyncFeaturedStatuses reconciles the pins of a remote actor against their
// featured collection. The collection arrives newest first; walking it in
// reverse restores chronological pin order. The stored set is replaced
// wholesale: pins absent from the collection are dropped, new entries are
// resolved and added.
func SyncFeaturedStatusesWithDeps(actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	if actor.FeaturedURI == "" {
		return nil
	}

	fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
	items, err := fetcher.WalkCollection(actor.FeaturedURI)
	if err != nil {
		return fmt.Errorf("failed to walk featured collection: %w", err)
	}

	desired := make(map[uuid.UUID]bool)
	for i := len(items) - 1; i >= 0; i-- {
		uri := firstString(items[i])
		if uri == "" {
			continue
		}
		status, rerr := ResolveStatusWithDeps(uri, conf, deps, opts.Deeper())
		if rerr != nil {
			log.Printf("Sync: Could not resolve featured status %s: %v", uri, rerr)
			continue
		}
		if status.AccountId != actor.Id {
			// Featuring someone else's post is a boost, not a pin.
			continue
		}
		desired[status.Id] = true
	}

	err, pins := deps.Database.ReadPinsByAccountId(actor.Id)
	if err != nil {
		return err
	}
	existing := make(map[uuid.UUID]bool)
	if pins != nil {
		for _, pin := range *pins {
			if !desired[pin.StatusId] {
				if derr := deps.Database.DeleteStatusPin(pin.Id); derr != nil {
					log.Printf("Sync: Failed to unpin %s: %v", pin.StatusId, derr)
				}
				continue
			}
			existing[pin.StatusId] = true
		}
	}

	for statusId := range desired {
		if existing[statusId] {
			continue
		}
		pin := &domain.StatusPin{
			Id:        uuid.New(),
			AccountId: actor.Id,
			StatusId:  statusId,
			CreatedAt: time.Now(),
		}
		if cerr := deps.Database.CreateStatusPin(pin); cerr != nil {
			log.Printf("Sync: Failed to pin %s: %v", statusId, cerr)
		}
	}

	return nil
}

// SyncFeaturedTagsWithDeps reconciles an actor's featured hashtags with the
// remote featuredTags collection, adding and removing wholesale.
func SyncFeaturedTagsWithDeps(actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps) error {
	if actor.FeaturedTagsURI == "" {
		return nil
	}

	fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
	items, err := fetcher.WalkCollection(actor.FeaturedTagsURI)
	if err != nil {
		return fmt.Errorf("failed to walk featured tags: %w", err)
	}

	desired := make(map[string]bool)
	for _, item := range items {
		tag, ok := item.(map[string]any)
		if !ok || getString(tag, "type") != "Hashtag" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(getString(tag, "name"), "#"))
		if name != "" {
			desired[name] = true
		}
	}

	err, stored := deps.Database.ReadFeaturedTagsByAccountId(actor.Id)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	if stored != nil {
		for _, tag := range *stored {
			if !desired[tag.Name] {
				if derr := deps.Database.DeleteFeaturedTag(tag.Id); derr != nil {
					log.Printf("Sync: Failed to remove featured tag #%s: %v", tag.Name, derr)
				}
				continue
			}
			existing[tag.Name] = true
		}
	}

	for name := range desired {
		if existing[name] {
			continue
		}
		tag := &domain.FeaturedTag{
			Id:        uuid.New(),
			AccountId: actor.Id,
			Name:      name,
			CreatedAt: time.Now(),
		}
		if cerr := deps.Database.CreateFeaturedTag(tag); cerr != nil {
			log.Printf("Sync: Failed to add featured tag #%s: %v", name, cerr)
		}
	}

	return nil
}

// CollectionSync is a parsed Collection-Synchronization header.
type CollectionSync struct {
	CollectionId string
	URL          string
	Digest       string
}

// ParseCollectionSynchronization parses the comma-separated key="value"
// attributes of a Collection-Synchronization header.
func ParseCollectionSynchronization(header string) (*CollectionSync, error) {
	sync := &CollectionSync{}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("malformed attribute %q", part)
		}
		value = strings.Trim(value, `"`)
		switch key {
		case "collectionId":
			sync.CollectionId = value
		case "url":
			sync.URL = value
		case "digest":
			sync.Digest = value
		}
	}
	if sync.CollectionId == "" || sync.URL == "" || sync.Digest == "" {
		return nil, fmt.Errorf("header missing collectionId, url or digest")
	}
	return sync, nil
}

// FollowersHash computes the order-independent digest over follower URIs
// used by the followers synchronization mechanism: the XOR of the SHA-256
// hashes of each URI.
func FollowersHash(uris []string) string {
	var acc [sha256.Size]byte
	for _, uri := range uris {
		sum := sha256.Sum256([]byte(uri))
		for i := range acc {
			acc[i] ^= sum[i]
		}
	}
	return hex.EncodeToString(acc[:])
}

// SyncFollowersWithDeps handles a Collection-Synchronization header sent by
// a remote actor. The digest covers the subset of the remote's followers
// that live on this server. When it disagrees with local state, the partial
// collection is fetched and reconciled both ways: follows the remote knows
// about but we do not get an Undo queued, and follows we hold that the
// remote lost get re-sent.
func SyncFollowersWithDeps(remoteActor *domain.Actor, header string, conf *util.AppConfig, deps *InboxDeps) error {
	sync, err := ParseCollectionSynchronization(header)
	if err != nil {
		return fmt.Errorf("bad synchronization header: %w", err)
	}
	if sync.CollectionId != remoteActor.FollowersURI {
		return fmt.Errorf("header names collection %s, actor advertises %s", sync.CollectionId, remoteActor.FollowersURI)
	}
	if !util.SameOrigin(sync.URL, remoteActor.URI) {
		return fmt.Errorf("partial collection %s crosses origins with %s", sync.URL, remoteActor.URI)
	}

	localFollowers, err := localFollowerURIs(remoteActor, deps)
	if err != nil {
		return err
	}

	if FollowersHash(localFollowers.uris) == sync.Digest {
		return nil
	}
	log.Printf("Sync: Follower digest mismatch for %s, reconciling", remoteActor.Handle())

	fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
	items, err := fetcher.WalkCollection(sync.URL)
	if err != nil {
		return fmt.Errorf("failed to walk partial followers collection: %w", err)
	}

	remoteSet := make(map[string]bool)
	for _, item := range items {
		if uri := firstString(item); uri != "" {
			remoteSet[uri] = true
		}
	}

	// Follows the remote believes in but we have no record of: a local
	// account appears in their followers list without a stored follow. The
	// only safe repair is to retract it.
	localSet := make(map[string]bool)
	for _, uri := range localFollowers.uris {
		localSet[uri] = true
	}
	for uri := range remoteSet {
		if localSet[uri] {
			continue
		}
		err, local := deps.Database.ReadActorByURI(uri)
		if err != nil || local == nil || !local.IsLocal() {
			continue
		}
		log.Printf("Sync: %s listed as follower of %s without local record, sending Undo", local.Handle(), remoteActor.Handle())
		if serr := SendUndoFollowWithDeps(local, remoteActor, conf, deps); serr != nil {
			log.Printf("Sync: Failed to queue Undo: %v", serr)
		}
	}

	// Follows we hold that the remote does not list: the remote is the
	// authority on its own follower collection, so retract ours to match.
	for _, uri := range localFollowers.uris {
		if remoteSet[uri] {
			continue
		}
		err, local := deps.Database.ReadActorByURI(uri)
		if err != nil || local == nil {
			continue
		}
		log.Printf("Sync: %s no longer listed as follower of %s, sending Undo", local.Handle(), remoteActor.Handle())
		if serr := SendUndoFollowWithDeps(local, remoteActor, conf, deps); serr != nil {
			log.Printf("Sync: Failed to queue Undo: %v", serr)
		}
	}

	return nil
}

type followerSet struct {
	uris []string
}

// localFollowerURIs collects the URIs of local accounts following the
// remote actor.
func localFollowerURIs(remoteActor *domain.Actor, deps *InboxDeps) (*followerSet, error) {
	err, follows := deps.Database.ReadFollowsByTargetAccountId(remoteActor.Id)
	if err != nil {
		return nil, err
	}
	set := &followerSet{}
	if follows == nil {
		return set, nil
	}
	for _, follow := range *follows {
		err, follower := deps.Database.ReadActorById(follow.AccountId)
		if err != nil || follower == nil || !follower.IsLocal() {
			continue
		}
		set.uris = append(set.uris, follower.URI)
	}
	return set, nil
}
