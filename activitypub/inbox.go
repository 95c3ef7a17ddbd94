package activitypub

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// InboxDeps holds dependencies for inbox handlers (for testing)
type InboxDeps struct {
	Database   Database
	HTTPClient HTTPClient
	Budget     *DiscoveryBudget
}

// Activity represents the generic envelope of an ActivityPub activity
type Activity struct {
	Context any    `json:"@context"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Actor   string `json:"actor"`
	Object  any    `json:"object"`
}

// HandleInbox processes an incoming ActivityPub delivery.
func HandleInbox(w http.ResponseWriter, r *http.Request, conf *util.AppConfig) {
	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: httpClientFor(conf),
		Budget:     sharedBudget(conf),
	}
	HandleInboxWithDeps(w, r, conf, deps)
}

// HandleInboxWithDeps processes an incoming ActivityPub delivery.
// This version accepts dependencies for testing.
func HandleInboxWithDeps(w http.ResponseWriter, r *http.Request, conf *util.AppConfig, deps *InboxDeps) {
	signature := r.Header.Get("Signature")
	if signature == "" {
		log.Printf("Inbox: Missing HTTP signature")
		http.Error(w, "Missing signature", http.StatusUnauthorized)
		return
	}

	maxBodySize := conf.Federation.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxBodySize)))
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if int64(len(body)) == maxBodySize {
		log.Printf("Inbox: Request body too large")
		http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
		return
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		log.Printf("Inbox: Failed to parse activity: %v", err)
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	if activity.Actor == "" || activity.ID == "" {
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	log.Printf("Inbox: Received %s from %s", activity.Type, activity.Actor)

	// A signature naming a retired key is dead on arrival.
	if keyId := SignatureKeyId(r); keyId != "" {
		if tombstoned, terr := deps.Database.HasKeyTombstone(keyId); terr == nil && tombstoned {
			log.Printf("Inbox: Signature uses tombstoned key %s", keyId)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	// Every discovery triggered by this delivery draws from one budget.
	requestId := uuid.New().String()
	if deps.Budget != nil {
		defer deps.Budget.Release(requestId)
	}
	opts := ResolveOpts{RequestId: requestId, Budget: deps.Budget}

	// Key-only lookup: signature verification needs the key, not the
	// actor's collections.
	keyOpts := opts
	keyOpts.OnlyKey = true
	actor, err := GetOrFetchActorWithDeps(activity.Actor, conf, deps, keyOpts)
	if err != nil {
		log.Printf("Inbox: Failed to resolve actor %s: %v", activity.Actor, err)
		http.Error(w, "Failed to verify actor", http.StatusBadRequest)
		return
	}

	// Restore body for signature verification (body was consumed during read)
	r.Body = io.NopCloser(bytes.NewReader(body))

	if _, err = VerifyRequest(r, actor.PublicKeyPem); err != nil {
		// The remote may have rotated keys since we cached this actor; one
		// forced refresh settles it.
		refreshed, rerr := GetOrFetchActorWithDeps(activity.Actor, conf, deps, ResolveOpts{
			Refresh:   true,
			OnlyKey:   true,
			RequestId: requestId,
			Budget:    deps.Budget,
		})
		if rerr == nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			_, err = VerifyRequest(r, refreshed.PublicKeyPem)
			actor = refreshed
		}
		if err != nil {
			log.Printf("Inbox: Signature verification failed: %v", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
	}

	objectURI := ""
	switch obj := activity.Object.(type) {
	case string:
		objectURI = obj
	case map[string]any:
		if id, ok := obj["id"].(string); ok {
			objectURI = id
		}
	}

	activityRecord := &domain.Activity{
		Id:           uuid.New(),
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    objectURI,
		RawJSON:      string(body),
		CreatedAt:    time.Now(),
	}

	if err := deps.Database.CreateActivity(activityRecord); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			log.Printf("Inbox: Activity %s already processed, returning success", activity.ID)
			w.WriteHeader(http.StatusAccepted)
			return
		}
		log.Printf("Inbox: Failed to store activity: %v", err)
		// Don't fail the request, we'll process it anyway
	}

	// Followers synchronization piggybacks on deliveries as a header;
	// reconciliation happens off the request path.
	if header := r.Header.Get("Collection-Synchronization"); header != "" && actor.FollowersURI != "" {
		args, _ := json.Marshal(followersSyncArgs{ActorURI: actor.URI, Header: header})
		enqueueJob(deps.Database, domain.JobFollowersSync, string(args), time.Now())
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}

	if err := DispatchWithDeps(doc, actor, conf, deps, opts); err != nil {
		log.Printf("Inbox: Failed to process %s: %v", activity.Type, err)
		http.Error(w, "Failed to process activity", http.StatusInternalServerError)
		return
	}

	activityRecord.Processed = true
	if err := deps.Database.UpdateActivity(activityRecord); err != nil {
		log.Printf("Inbox: Failed to update activity: %v", err)
	}

	w.WriteHeader(http.StatusAccepted)
}

var (
	budget     *DiscoveryBudget
	budgetOnce sync.Once
)

// sharedBudget lazily builds the process-wide discovery budget from config.
func sharedBudget(conf *util.AppConfig) *DiscoveryBudget {
	budgetOnce.Do(func() {
		budget = NewDiscoveryBudget(conf.Federation.DiscoveriesPerRequest,
			time.Duration(conf.Federation.DiscoveryTTLSec)*time.Second)
	})
	return budget
}
