package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/vireo-social/vireo/util"
)

// WebFingerLink is a single link relation in a WebFinger response.
type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

// WebFingerResponse represents the JSON Resource Descriptor returned by
// /.well-known/webfinger.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases"`
	Links   []WebFingerLink `json:"links"`
}

// SelfLink returns the href of the ActivityPub self link, or "".
func (r *WebFingerResponse) SelfLink() string {
	for _, link := range r.Links {
		if link.Rel != "self" {
			continue
		}
		if link.Type == "application/activity+json" ||
			strings.HasPrefix(link.Type, `application/ld+json`) {
			return link.Href
		}
	}
	return ""
}

// VerifyIdentity confirms via WebFinger that the actor document found at
// actorURI really speaks for username@host. The first lookup may answer with
// a different canonical acct (a domain serving its accounts from a
// subdomain); that canonical acct is then confirmed with a second lookup
// against its own domain, which must agree with itself. More than one hop is
// treated as a redirect loop.
//
// It returns the confirmed username and domain.
func VerifyIdentity(actorURI, username, host string, client HTTPClient, conf *util.AppConfig) (string, string, error) {
	resp, err := webfingerLookup(username, host, host, client, conf)
	if err != nil {
		return "", "", err
	}

	confUsername, confDomain, err := parseSubject(resp.Subject)
	if err != nil {
		return "", "", err
	}

	if !strings.EqualFold(confUsername, username) || !strings.EqualFold(confDomain, host) {
		// The canonical acct lives elsewhere; it must vouch for itself.
		log.Printf("WebFinger: %s@%s resolves to canonical %s@%s", username, host, confUsername, confDomain)
		second, err := webfingerLookup(confUsername, confDomain, confDomain, client, conf)
		if err != nil {
			return "", "", err
		}
		secondUsername, secondDomain, err := parseSubject(second.Subject)
		if err != nil {
			return "", "", err
		}
		if !strings.EqualFold(secondUsername, confUsername) || !strings.EqualFold(secondDomain, confDomain) {
			return "", "", ErrRedirectLoop
		}
		resp = second
	}

	if self := resp.SelfLink(); self != actorURI {
		return "", "", fmt.Errorf("webfinger self link %q does not point at actor %q", self, actorURI)
	}

	return confUsername, confDomain, nil
}

// webfingerLookup queries host for acct:username@acctDomain.
func webfingerLookup(username, acctDomain, host string, client HTTPClient, conf *util.AppConfig) (*WebFingerResponse, error) {
	for _, blocked := range conf.Federation.BlockedDomains {
		if host == blocked {
			return nil, ErrDomainBlocked
		}
	}

	resource := fmt.Sprintf("acct:%s@%s", username, acctDomain)
	endpoint := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, url.QueryEscape(resource))

	req, err := http.NewRequest("GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/jrd+json, application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		return nil, ErrActorGone
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &TransientError{Err: fmt.Errorf("webfinger returned status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("webfinger lookup for %s failed with status %d", resource, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(conf.Federation.MaxBodyBytes)))
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	var wf WebFingerResponse
	if err := json.Unmarshal(body, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse webfinger response: %w", err)
	}
	return &wf, nil
}

func parseSubject(subject string) (string, string, error) {
	username, acctDomain, ok := util.ParseAcct(subject)
	if !ok {
		return "", "", fmt.Errorf("malformed webfinger subject: %q", subject)
	}
	if valid, _ := util.IsValidWebFingerUsername(username); !valid || !util.IsValidDomain(acctDomain) {
		return "", "", fmt.Errorf("invalid acct in webfinger subject: %q", subject)
	}
	return username, acctDomain, nil
}
