package activitypub

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// SendActivity sends an activity to a remote inbox immediately, signed with
// the local account's key.
func SendActivity(activity any, inboxURI string, localAccount *domain.Actor, conf *util.AppConfig) error {
	return SendActivityWithClient(activity, inboxURI, localAccount, conf, httpClientFor(conf))
}

func SendActivityWithClient(activity any, inboxURI string, localAccount *domain.Actor, conf *util.AppConfig, client HTTPClient) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	hash := sha256.Sum256(activityJSON)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", inboxURI, bytes.NewReader(activityJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	privateKey, err := ParsePrivateKey(localAccount.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	keyID := fmt.Sprintf("https://%s/users/%s#main-key", conf.Conf.SslDomain, localAccount.Username)
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	log.Printf("Outbox: Sent %T to %s (status: %d)", activity, inboxURI, resp.StatusCode)
	return nil
}

// QueueActivity hands an activity to the delivery queue for asynchronous,
// retried delivery.
func QueueActivity(activity any, inboxURI string, actorId uuid.UUID, database Database) error {
	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		ActorId:      actorId,
		ActivityJSON: mustMarshal(activity),
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	}
	return database.EnqueueDelivery(item)
}

// SendAcceptWithDeps queues an Accept for a received Follow.
func SendAcceptWithDeps(localAccount, remoteActor *domain.Actor, followURI string, conf *util.AppConfig, deps *InboxDeps) error {
	acceptID := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New().String())

	accept := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       acceptID,
		"type":     "Accept",
		"actor":    localAccount.URI,
		"object": map[string]any{
			"id":     followURI,
			"type":   "Follow",
			"actor":  remoteActor.URI,
			"object": localAccount.URI,
		},
	}

	return QueueActivity(accept, remoteActor.InboxURI, localAccount.Id, deps.Database)
}

// SendUndoFollowWithDeps queues an Undo of the local account's follow of the
// remote actor and drops the local record if one exists.
func SendUndoFollowWithDeps(localAccount, remoteActor *domain.Actor, conf *util.AppConfig, deps *InboxDeps) error {
	followURI := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New().String())

	err, follow := deps.Database.ReadFollowByAccountIds(localAccount.Id, remoteActor.Id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if follow != nil {
		if follow.URI != "" {
			followURI = follow.URI
		}
		if derr := deps.Database.DeleteFollow(follow.Id); derr != nil {
			log.Printf("Outbox: Failed to delete follow record: %v", derr)
		}
	}

	undoID := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New().String())
	undo := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       undoID,
		"type":     "Undo",
		"actor":    localAccount.URI,
		"object": map[string]any{
			"id":     followURI,
			"type":   "Follow",
			"actor":  localAccount.URI,
			"object": remoteActor.URI,
		},
	}

	return QueueActivity(undo, remoteActor.InboxURI, localAccount.Id, deps.Database)
}

// SendFollowWithDeps queues a (re-)Follow of the remote actor.
func SendFollowWithDeps(localAccount, remoteActor *domain.Actor, conf *util.AppConfig, deps *InboxDeps) error {
	followID := fmt.Sprintf("https://%s/activities/%s", conf.Conf.SslDomain, uuid.New().String())

	err, existing := deps.Database.ReadFollowByAccountIds(localAccount.Id, remoteActor.Id)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if existing == nil {
		record := &domain.Follow{
			Id:              uuid.New(),
			AccountId:       localAccount.Id,
			TargetAccountId: remoteActor.Id,
			URI:             followID,
			CreatedAt:       time.Now(),
		}
		if cerr := deps.Database.CreateFollow(record); cerr != nil {
			return fmt.Errorf("failed to store follow: %w", cerr)
		}
	} else if existing.URI != "" {
		followID = existing.URI
	}

	follow := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       followID,
		"type":     "Follow",
		"actor":    localAccount.URI,
		"object":   remoteActor.URI,
	}

	return QueueActivity(follow, remoteActor.InboxURI, localAccount.Id, deps.Database)
}

// mustMarshal marshals v to JSON, panicking on error
func mustMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return string(b)
}
