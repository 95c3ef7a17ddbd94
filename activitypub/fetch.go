package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

const userAgent = "vireo/1.0 ActivityPub"

// Fetcher performs authorized fetches of remote ActivityPub documents.
type Fetcher struct {
	Client HTTPClient
	Conf   *util.AppConfig
	// Signer is the local account whose key signs outgoing GETs. When nil
	// the fetch goes out unsigned.
	Signer *domain.Actor
}

func NewFetcher(conf *util.AppConfig, client HTTPClient, signer *domain.Actor) *Fetcher {
	if client == nil {
		client = httpClientFor(conf)
	}
	return &Fetcher{Client: client, Conf: conf, Signer: signer}
}

// CheckContext reports whether the document declares the ActivityStreams
// JSON-LD context, either as a bare string or as part of a context array.
func CheckContext(doc map[string]any) bool {
	switch ctx := doc["@context"].(type) {
	case string:
		return ctx == activityStreamsContext
	case []any:
		for _, entry := range ctx {
			if s, ok := entry.(string); ok && s == activityStreamsContext {
				return true
			}
		}
	}
	return false
}

// Fetch retrieves and parses the document at uri. The fetch is refused for
// blocked domains, capped at the configured body size, and the document's id
// must equal the requested URI. A mismatch is fatal: it would let a peer
// serve attacker-chosen content under a forged identifier.
func (f *Fetcher) Fetch(uri string) (map[string]any, error) {
	return f.fetch(uri, true, false)
}

// FetchAny retrieves uri without requiring the document's id to equal it,
// for documents legitimately reachable through an alias (actor documents
// behind account redirects). A same-origin id is accepted as-is; a
// cross-origin id is re-fetched once from the claimed id, where strict
// matching applies again.
func (f *Fetcher) FetchAny(uri string) (map[string]any, error) {
	return f.fetch(uri, false, true)
}

func (f *Fetcher) fetch(uri string, requireIDMatch, followId bool) (map[string]any, error) {
	host := util.ExtractHost(uri)
	if host == "" {
		return nil, fmt.Errorf("invalid resource uri: %s", uri)
	}
	for _, blocked := range f.Conf.Federation.BlockedDomains {
		if host == blocked {
			return nil, ErrDomainBlocked
		}
	}

	req, err := http.NewRequest("GET", uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)

	if f.Signer != nil && f.Signer.PrivateKeyPem != "" {
		privateKey, err := ParsePrivateKey(f.Signer.PrivateKeyPem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		keyId := f.Signer.PublicKeyId
		if keyId == "" {
			keyId = f.Signer.URI + "#main-key"
		}
		if err := SignGetRequest(req, privateKey, keyId); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, ErrActorGone
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("remote returned status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch of %s failed with status %d", uri, resp.StatusCode)
	}

	if !trustedContentType(resp.Header.Get("Content-Type")) {
		return nil, fmt.Errorf("untrusted content type %q from %s", resp.Header.Get("Content-Type"), uri)
	}

	maxBody := int64(f.Conf.Federation.MaxBodyBytes)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if int64(len(body)) > maxBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxBody)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	id, _ := doc["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("document at %s has no id", uri)
	}

	// The final URL after redirects is what the id checks run against.
	finalURI := uri
	if resp.Request != nil && resp.Request.URL != nil {
		finalURI = resp.Request.URL.String()
	}
	if requireIDMatch {
		if id != uri && id != finalURI {
			return nil, fmt.Errorf("document at %s claims id %s", uri, id)
		}
		return doc, nil
	}
	if !util.SameOrigin(id, finalURI) {
		if !followId {
			return nil, fmt.Errorf("document id %s crosses origins from %s", id, finalURI)
		}
		// The host we asked does not own the id it handed back; the only
		// trustworthy copy lives at the id itself.
		return f.fetch(id, true, false)
	}

	return doc, nil
}

// Parse validates an already-delivered document body against the URI it was
// delivered for, applying the same id check as a network fetch so both paths
// share one notion of trust.
func (f *Fetcher) Parse(body []byte, uri string) (map[string]any, error) {
	if int64(len(body)) > int64(f.Conf.Federation.MaxBodyBytes) {
		return nil, fmt.Errorf("document exceeds %d bytes", f.Conf.Federation.MaxBodyBytes)
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	id, _ := doc["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("document for %s has no id", uri)
	}
	if id != uri {
		return nil, fmt.Errorf("document for %s claims id %s", uri, id)
	}
	return doc, nil
}

// trustedContentType reports whether the response media type is an
// ActivityPub one: application/activity+json, or application/ld+json
// carrying the ActivityStreams profile.
func trustedContentType(header string) bool {
	mediaType, params, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	switch mediaType {
	case "application/activity+json":
		return true
	case "application/ld+json":
		profile, ok := params["profile"]
		return !ok || strings.Contains(profile, activityStreamsContext)
	}
	return false
}
