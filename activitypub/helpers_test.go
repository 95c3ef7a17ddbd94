package activitypub

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/vireo-social/vireo/util"
)

// MockHTTPClient serves canned responses keyed by exact URL and records
// every request it sees. Responses default to the ActivityPub content type
// unless overridden per URL.
type MockHTTPClient struct {
	mu           sync.Mutex
	Responses    map[string]string
	Statuses     map[string]int
	ContentTypes map[string]string
	Requests     []string
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		Responses:    make(map[string]string),
		Statuses:     make(map[string]int),
		ContentTypes: make(map[string]string),
	}
}

func (c *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := req.URL.String()
	c.Requests = append(c.Requests, u)

	status, ok := c.Statuses[u]
	if !ok {
		status = http.StatusOK
	}
	body, found := c.Responses[u]
	if !found && status == http.StatusOK {
		status = http.StatusNotFound
	}
	header := make(http.Header)
	contentType, ok := c.ContentTypes[u]
	if !ok {
		contentType = "application/activity+json"
	}
	header.Set("Content-Type", contentType)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
		Header:     header,
	}, nil
}

func (c *MockHTTPClient) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}

func testConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "vireo.example"
	conf.Federation.FetchTimeoutSec = 10
	conf.Federation.MaxBodyBytes = 1 * 1024 * 1024
	conf.Federation.MaxRecursionDepth = 4
	conf.Federation.DiscoveriesPerRequest = 1000
	conf.Federation.DiscoveryTTLSec = 300
	conf.Federation.MaxCollectionPages = 10
	conf.Federation.MaxCollectionItems = 400
	conf.Federation.MediaRetryMinSec = 30
	conf.Federation.MediaRetryMaxSec = 600
	return conf
}

func testDeps(database *MockDatabase, client *MockHTTPClient) *InboxDeps {
	return &InboxDeps{Database: database, HTTPClient: client}
}

// remoteActorDoc builds an actor document for username at host with a
// matching webfinger response registered on the client.
func registerRemoteActor(client *MockHTTPClient, username, host string) string {
	actorURI := fmt.Sprintf("https://%s/users/%s", host, username)
	client.Responses[actorURI] = fmt.Sprintf(`{
		"@context": ["https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"],
		"id": "%s",
		"type": "Person",
		"preferredUsername": "%s",
		"name": "%s",
		"inbox": "%s/inbox",
		"outbox": "%s/outbox",
		"followers": "%s/followers",
		"publicKey": {
			"id": "%s#main-key",
			"owner": "%s",
			"publicKeyPem": "-----BEGIN PUBLIC KEY-----\nMFowDQ==\n-----END PUBLIC KEY-----\n"
		}
	}`, actorURI, username, username, actorURI, actorURI, actorURI, actorURI, actorURI)

	resource := url.QueryEscape(fmt.Sprintf("acct:%s@%s", username, host))
	wfURL := fmt.Sprintf("https://%s/.well-known/webfinger?resource=%s", host, resource)
	client.Responses[wfURL] = fmt.Sprintf(`{
		"subject": "acct:%s@%s",
		"links": [
			{"rel": "self", "type": "application/activity+json", "href": "%s"}
		]
	}`, username, host, actorURI)

	return actorURI
}
