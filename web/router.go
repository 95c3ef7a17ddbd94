package web

import (
	"fmt"
	"log"
	"strings"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/google/uuid"
	"github.com/vireo-social/vireo/activitypub"
	"github.com/vireo-social/vireo/db"
	"github.com/vireo-social/vireo/util"
	"golang.org/x/time/rate"
)

func Router(conf *util.AppConfig) (*gin.Engine, error) {
	log.Printf("Building federation router for %s:%d", conf.Conf.Host, conf.Conf.HttpPort)
	gin.DefaultWriter = util.GetLogWriter()
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
	apLimiter := NewRateLimiter(rate.Limit(5), 10)
	maxBodySize := MaxBytesMiddleware(conf.Federation.MaxBodyBytes)

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {
		c.Header("Content-Type", "application/xml; charset=utf-8")
		err, rss := GetRSSFeed(conf)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	g.GET("/users/:actor", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		err, actor := GetActor(c.Param("actor"), conf)
		if err != nil {
			c.Render(404, render.String{Format: actor})
		} else {
			c.Render(200, render.String{Format: actor})
		}
	})

	// Serve individual statuses as ActivityPub objects
	g.GET("/statuses/:id", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")

		statusId, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(404, gin.H{"error": "Invalid status ID"})
			return
		}

		err, status := GetStatusObject(statusId, conf)
		if err != nil {
			c.JSON(404, gin.H{"error": "Status not found"})
		} else {
			c.Render(200, render.String{Format: status})
		}
	})

	// The shared inbox and the per-actor inboxes run through the same
	// pipeline; addressing is resolved from the activity itself.
	g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		activitypub.HandleInbox(c.Writer, c.Request, conf)
	})

	g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
		activitypub.HandleInbox(c.Writer, c.Request, conf)
	})

	g.GET("/users/:actor/outbox", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		collectionURI := fmt.Sprintf("https://%s/users/%s/outbox", conf.Conf.SslDomain, c.Param("actor"))
		c.Render(200, render.String{Format: fmt.Sprintf(
			`{"@context": "https://www.w3.org/ns/activitystreams", "id": "%s", "type": "OrderedCollection", "totalItems": 0, "orderedItems": []}`,
			collectionURI)})
	})

	g.GET("/users/:actor/followers", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		actor := c.Param("actor")

		uris, err := followerURIs(actor)
		if err != nil {
			c.Render(404, render.String{Format: "{}"})
			return
		}

		if c.Query("page") == "" {
			c.Render(200, render.String{Format: GetFollowersCollection(actor, conf, uris)})
		} else {
			c.Render(200, render.String{Format: GetFollowersPage(actor, conf, uris, 1)})
		}
	})

	g.GET("/users/:actor/following", func(c *gin.Context) {
		c.Header("Content-Type", "application/activity+json; charset=utf-8")
		actor := c.Param("actor")

		uris, err := followingURIs(actor)
		if err != nil {
			c.Render(404, render.String{Format: "{}"})
			return
		}

		collectionURI := fmt.Sprintf("https://%s/users/%s/following", conf.Conf.SslDomain, actor)
		collection := fmt.Sprintf(
			`{"@context": "https://www.w3.org/ns/activitystreams", "id": "%s", "type": "OrderedCollection", "totalItems": %d, "orderedItems": %s}`,
			collectionURI, len(uris), jsonStringArray(uris))
		c.Render(200, render.String{Format: collection})
	})

	g.GET("/.well-known/webfinger", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")

		resource := c.Query("resource")
		if resource == "" || !strings.HasPrefix(resource, "acct:") {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
			return
		}
		resource = strings.TrimPrefix(resource, "acct:")
		resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", conf.Conf.SslDomain))
		err, resp := GetWebfinger(resource, conf)
		if err != nil {
			c.Render(404, render.String{Format: GetWebFingerNotFound()})
		} else {
			c.Render(200, render.String{Format: resp})
		}
	})

	g.GET("/.well-known/nodeinfo", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Render(200, render.String{Format: GetNodeInfoDiscovery(conf)})
	})

	g.GET("/nodeinfo/2.0", func(c *gin.Context) {
		c.Header("Content-Type", "application/json; charset=utf-8")
		c.Render(200, render.String{Format: GetNodeInfo(conf)})
	})

	return g, nil
}

func followerURIs(username string) ([]string, error) {
	database := db.GetDB()
	err, account := database.ReadLocalActorByUsername(username)
	if err != nil {
		return nil, err
	}
	err, follows := database.ReadFollowsByTargetAccountId(account.Id)
	if err != nil {
		return nil, err
	}
	var uris []string
	for _, f := range *follows {
		if !f.Accepted {
			continue
		}
		err, follower := database.ReadActorById(f.AccountId)
		if err != nil {
			continue
		}
		uris = append(uris, follower.URI)
	}
	return uris, nil
}

func followingURIs(username string) ([]string, error) {
	database := db.GetDB()
	err, account := database.ReadLocalActorByUsername(username)
	if err != nil {
		return nil, err
	}
	err, follows := database.ReadFollowsByAccountId(account.Id)
	if err != nil {
		return nil, err
	}
	var uris []string
	for _, f := range *follows {
		if !f.Accepted {
			continue
		}
		err, target := database.ReadActorById(f.TargetAccountId)
		if err != nil {
			continue
		}
		uris = append(uris, target.URI)
	}
	return uris, nil
}

func jsonStringArray(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteString("[")
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%q", item))
	}
	sb.WriteString("]")
	return sb.String()
}
