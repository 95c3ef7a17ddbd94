package activitypub

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// deliveryBackoffMinutes is the retry schedule; after its end every retry
// waits a day, and deliveries are abandoned at maxDeliveryAttempts.
var deliveryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

const maxDeliveryAttempts = 10

// StartDeliveryWorker starts a background worker that processes the delivery queue
func StartDeliveryWorker(conf *util.AppConfig, stop <-chan struct{}) {
	log.Println("Starting delivery worker...")

	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: httpClientFor(conf),
	}

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ProcessDeliveryQueueWithDeps(conf, deps)
			}
		}
	}()
}

// ProcessDeliveryQueueWithDeps runs one pass over due deliveries.
func ProcessDeliveryQueueWithDeps(conf *util.AppConfig, deps *InboxDeps) {
	err, items := deps.Database.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if items == nil || len(*items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(*items))

	for _, item := range *items {
		if err := deliverActivity(&item, conf, deps); err != nil {
			item.Attempts++
			backoffMinutes := deliveryBackoffMinutes[min(item.Attempts-1, len(deliveryBackoffMinutes)-1)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoffMinutes) * time.Minute)

			if item.Attempts >= maxDeliveryAttempts {
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
				deps.Database.DeleteDelivery(item.Id)
			} else {
				log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
					item.InboxURI, item.Attempts, backoffMinutes, err)
				deps.Database.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
			}
		} else {
			deps.Database.DeleteDelivery(item.Id)
		}
	}
}

// deliverActivity attempts to deliver a single queued activity, signed with
// the sending account's key.
func deliverActivity(item *domain.DeliveryQueueItem, conf *util.AppConfig, deps *InboxDeps) error {
	err, sender := deps.Database.ReadActorById(item.ActorId)
	if err != nil {
		return fmt.Errorf("failed to load sending account: %w", err)
	}
	if sender.PrivateKeyPem == "" {
		return fmt.Errorf("account %s has no signing key", sender.Handle())
	}

	privateKey, err := ParsePrivateKey(sender.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("failed to parse private key: %w", err)
	}

	body := []byte(item.ActivityJSON)
	hash := sha256.Sum256(body)
	digest := "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])

	req, err := http.NewRequest("POST", item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("Digest", digest)

	keyID := fmt.Sprintf("https://%s/users/%s#main-key", conf.Conf.SslDomain, sender.Username)
	if err := SignRequest(req, privateKey, keyID); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status: %d", resp.StatusCode)
	}

	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
