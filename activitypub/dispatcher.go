package activitypub

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// suspendedAllowedTypes are the only activities a suspended account may
// still deliver: cleanup and retraction.
var suspendedAllowedTypes = map[string]bool{
	"Delete": true,
	"Reject": true,
	"Undo":   true,
	"Update": true,
}

// DispatchWithDeps routes one activity document to its handler.
//
// Activities without the ActivityStreams context are dropped silently; the
// sender speaks a dialect we do not, and erroring would only trigger
// redeliveries. Suspended senders are restricted to retraction types. An
// activity whose object turns out to be a collection of activities is
// unwrapped and dispatched entry by entry in reverse, so the oldest entry
// lands first.
func DispatchWithDeps(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	if opts.Depth > conf.Federation.MaxRecursionDepth {
		return ErrRecursionLimit
	}

	if !CheckContext(activity) {
		log.Printf("Dispatch: Dropping activity without ActivityStreams context from %s", actor.Handle())
		return nil
	}

	activityType := getString(activity, "type")

	if claimed := getString(activity, "actor"); claimed != "" && claimed != actor.URI {
		// Without a verifiable embedded signature a relayed activity cannot
		// be attributed to anyone but its deliverer.
		log.Printf("Dispatch: Dropping %s claiming %s, delivered by %s", activityType, claimed, actor.Handle())
		return nil
	}

	// Embedded linked-data signatures are not verified here; strip them so
	// the document is never passed on carrying a signature we cannot vouch
	// for.
	delete(activity, "signature")

	if actor.Suspended && !suspendedAllowedTypes[activityType] {
		log.Printf("Dispatch: Dropping %s from suspended %s", activityType, actor.Handle())
		return nil
	}

	switch activityType {
	case "Collection", "OrderedCollection", "CollectionPage", "OrderedCollectionPage":
		return dispatchCollection(activity, actor, conf, deps, opts)
	}

	switch activityType {
	case "Create":
		return dispatchCreate(activity, actor, conf, deps, opts)
	case "Announce":
		return dispatchAnnounce(activity, actor, conf, deps, opts)
	case "Update":
		return dispatchUpdate(activity, actor, conf, deps, opts)
	case "Delete":
		return dispatchDelete(activity, actor, conf, deps)
	case "Follow":
		return dispatchFollow(activity, actor, conf, deps)
	case "Accept":
		return dispatchAccept(activity, deps)
	case "Reject":
		return dispatchReject(activity, deps)
	case "Undo":
		return dispatchUndo(activity, actor, deps)
	case "Move":
		return dispatchMove(activity, actor, conf, deps, opts)
	default:
		log.Printf("Dispatch: Unsupported activity type %q from %s", activityType, actor.Handle())
		return nil
	}
}

// dispatchCollection unwraps a collection of activities, oldest first.
func dispatchCollection(doc map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	items, _ := collectionItems(doc)
	for i := len(items) - 1; i >= 0; i-- {
		entry, ok := items[i].(map[string]any)
		if !ok {
			continue
		}
		if _, hasContext := entry["@context"]; !hasContext {
			entry["@context"] = doc["@context"]
		}
		if err := DispatchWithDeps(entry, actor, conf, deps, opts.Deeper()); err != nil {
			log.Printf("Dispatch: Collection entry failed: %v", err)
		}
	}
	return nil
}

// materializeObject returns the activity's object as a document, fetching it
// when only a URI was delivered.
func materializeObject(activity map[string]any, conf *util.AppConfig, deps *InboxDeps) (map[string]any, error) {
	switch obj := activity["object"].(type) {
	case map[string]any:
		return obj, nil
	case string:
		fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
		doc, err := fetcher.Fetch(obj)
		if err != nil {
			return nil, err
		}
		if !CheckContext(doc) {
			return nil, ErrUnsupportedContext
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("activity has no usable object")
	}
}

func dispatchCreate(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	object, err := materializeObject(activity, conf, deps)
	if err != nil {
		return err
	}
	_, err = ProcessCreateWithDeps(object, actor, conf, deps, opts.Deeper())
	return err
}

// dispatchAnnounce ingests the boosted status. The boost itself carries no
// content of its own; its value to this pipeline is discovering the target.
func dispatchAnnounce(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	announceURI := getString(activity, "id")
	if announceURI == "" {
		return fmt.Errorf("announce without id")
	}
	if !util.SameOrigin(announceURI, actor.URI) {
		return fmt.Errorf("announce %s crosses origins with actor %s", announceURI, actor.URI)
	}

	objectURI := firstString(activity["object"])
	if objectURI == "" {
		return fmt.Errorf("announce without object")
	}
	_, err := ResolveStatusWithDeps(objectURI, conf, deps, opts.Deeper())
	return err
}

func dispatchUpdate(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	object, err := materializeObject(activity, conf, deps)
	if err != nil {
		return err
	}

	if allowedActorTypes[getString(object, "type")] {
		// A profile edit: refetch through the resolver so identity rules
		// and merge policy apply.
		objectURI := getString(object, "id")
		if objectURI != actor.URI {
			return fmt.Errorf("profile update for %s signed by %s", objectURI, actor.URI)
		}
		_, err := GetOrFetchActorWithDeps(objectURI, conf, deps, ResolveOpts{
			Refresh:   true,
			Depth:     opts.Depth,
			RequestId: opts.RequestId,
			Budget:    opts.Budget,
		})
		return err
	}

	_, err = ProcessUpdateWithDeps(object, actor, conf, deps, opts.Deeper())
	return err
}

// dispatchDelete removes a status, or marks the sending account itself gone
// when it deletes its own actor document.
func dispatchDelete(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps) error {
	objectURI := firstString(activity["object"])
	if objectURI == "" {
		return fmt.Errorf("delete without object")
	}

	if objectURI == actor.URI {
		actor.Suspended = true
		actor.SuspensionOrigin = domain.SuspensionRemote
		if err := deps.Database.UpdateActor(actor); err != nil {
			return err
		}
		tombstone := &domain.KeyTombstone{
			Id:        uuid.New(),
			ActorURI:  actor.URI,
			KeyId:     actor.PublicKeyId,
			CreatedAt: time.Now(),
		}
		if err := deps.Database.CreateKeyTombstone(tombstone); err != nil {
			log.Printf("Dispatch: Failed to tombstone key of deleted %s: %v", actor.Handle(), err)
		}
		log.Printf("Dispatch: Account %s deleted itself", actor.Handle())
		return nil
	}

	if !util.SameOrigin(objectURI, actor.URI) {
		return fmt.Errorf("delete of %s from foreign origin %s", objectURI, actor.URI)
	}

	err, status := deps.Database.ReadStatusByURI(objectURI)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if status.AccountId != actor.Id {
		return fmt.Errorf("delete of %s by non-author %s", objectURI, actor.Handle())
	}
	if status.PollId != nil {
		deps.Database.DeleteJobsByKindAndArgs(domain.JobPollExpiration, status.PollId.String())
	}
	if err := deps.Database.DeleteStatus(status.Id); err != nil {
		return err
	}
	log.Printf("Dispatch: Deleted %s", objectURI)
	return nil
}

// dispatchFollow records an incoming follow of a local account and, for
// unlocked accounts, answers with an Accept straight away.
func dispatchFollow(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps) error {
	targetURI := firstString(activity["object"])
	followURI := getString(activity, "id")
	if targetURI == "" || followURI == "" {
		return fmt.Errorf("malformed follow")
	}

	err, target := deps.Database.ReadActorByURI(targetURI)
	if err != nil {
		return fmt.Errorf("follow of unknown account %s", targetURI)
	}
	if !target.IsLocal() {
		return fmt.Errorf("follow of non-local account %s", targetURI)
	}

	err, existing := deps.Database.ReadFollowByAccountIds(actor.Id, target.Id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if existing == nil {
		follow := &domain.Follow{
			Id:              uuid.New(),
			AccountId:       actor.Id,
			TargetAccountId: target.Id,
			URI:             followURI,
			Accepted:        !target.Locked,
			CreatedAt:       time.Now(),
		}
		if err := deps.Database.CreateFollow(follow); err != nil {
			return err
		}
	}

	if !target.Locked {
		return SendAcceptWithDeps(target, actor, followURI, conf, deps)
	}
	return nil
}

func dispatchAccept(activity map[string]any, deps *InboxDeps) error {
	object, ok := activity["object"].(map[string]any)
	if !ok || getString(object, "type") != "Follow" {
		return nil
	}
	followURI := getString(object, "id")
	if followURI == "" {
		return nil
	}
	return deps.Database.AcceptFollowByURI(followURI)
}

func dispatchReject(activity map[string]any, deps *InboxDeps) error {
	object, ok := activity["object"].(map[string]any)
	if !ok || getString(object, "type") != "Follow" {
		return nil
	}
	followURI := getString(object, "id")
	if followURI == "" {
		return nil
	}
	return deps.Database.DeleteFollowByURI(followURI)
}

func dispatchUndo(activity map[string]any, actor *domain.Actor, deps *InboxDeps) error {
	object, ok := activity["object"].(map[string]any)
	if !ok {
		return nil
	}
	if getString(object, "type") != "Follow" {
		log.Printf("Dispatch: Unsupported Undo of %s from %s", getString(object, "type"), actor.Handle())
		return nil
	}
	followURI := getString(object, "id")
	if followURI == "" {
		return nil
	}
	return deps.Database.DeleteFollowByURI(followURI)
}

// dispatchMove refreshes the moving account so movedTo/alsoKnownAs land,
// then queues refollows of the new account for local followers.
func dispatchMove(activity map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	targetURI := firstString(activity["target"])
	if targetURI == "" {
		return fmt.Errorf("move without target")
	}

	moved, err := GetOrFetchActorWithDeps(actor.URI, conf, deps, ResolveOpts{
		Refresh:   true,
		Depth:     opts.Depth,
		RequestId: opts.RequestId,
		Budget:    opts.Budget,
	})
	if err != nil {
		return err
	}
	if moved.MovedToURI != targetURI {
		return fmt.Errorf("move target %s not confirmed by actor document", targetURI)
	}

	// The destination must answer for the exact URI the move names; a
	// document redirecting elsewhere could splice a third account into the
	// migration.
	moveOpts := opts.Deeper()
	moveOpts.BreakOnRedirect = true
	newAccount, err := GetOrFetchActorWithDeps(targetURI, conf, deps, moveOpts)
	if err != nil {
		return err
	}
	if !contains(newAccount.AlsoKnownAs, actor.URI) {
		return fmt.Errorf("move target %s does not acknowledge %s", targetURI, actor.URI)
	}

	err, follows := deps.Database.ReadFollowsByTargetAccountId(actor.Id)
	if err != nil {
		return err
	}
	if follows != nil {
		for _, follow := range *follows {
			err, follower := deps.Database.ReadActorById(follow.AccountId)
			if err != nil || !follower.IsLocal() {
				continue
			}
			enqueueJob(deps.Database, domain.JobRefollow, follower.URI+" "+targetURI, time.Now())
		}
	}
	return nil
}
