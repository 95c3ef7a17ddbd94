package activitypub

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// MaxMediaAttachments caps how many attachments a status may carry; the
// rest are dropped.
const MaxMediaAttachments = 5

var supportedObjectTypes = map[string]bool{
	"Note":     true,
	"Question": true,
}

// ProcessCreate ingests a Create activity's object using production
// dependencies.
func ProcessCreate(object map[string]any, actor *domain.Actor, conf *util.AppConfig) (*domain.Status, error) {
	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: httpClientFor(conf),
	}
	return ProcessCreateWithDeps(object, actor, conf, deps, ResolveOpts{})
}

// ProcessCreateWithDeps turns a Note or Question object into a stored
// status, together with its media, mentions, tags, emojis, poll and quote
// edges. The object must be attributed to actor and share its origin. A
// Create for a URI that already exists is handled as an update of that
// status.
func ProcessCreateWithDeps(object map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Status, error) {
	objectURI := getString(object, "id")
	if objectURI == "" {
		return nil, fmt.Errorf("object has no id")
	}

	release := defaultLocker.Acquire("status:" + objectURI)
	defer release()

	return createStatusLocked(object, actor, conf, deps, opts)
}

// createStatusLocked is the create path proper. The caller holds the status
// lock for the object's id.
func createStatusLocked(object map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Status, error) {
	if opts.Depth > conf.Federation.MaxRecursionDepth {
		return nil, ErrRecursionLimit
	}

	objectURI := getString(object, "id")
	objectType := getString(object, "type")
	if !supportedObjectTypes[objectType] {
		return nil, fmt.Errorf("unsupported object type %q", objectType)
	}

	attributedTo := firstString(object["attributedTo"])
	if attributedTo == "" {
		return nil, fmt.Errorf("object %s has no attribution", objectURI)
	}
	if attributedTo != actor.URI {
		return nil, fmt.Errorf("object %s attributed to %s, not acting %s", objectURI, attributedTo, actor.URI)
	}
	if !util.SameOrigin(objectURI, attributedTo) {
		return nil, fmt.Errorf("object %s crosses origins with author %s", objectURI, attributedTo)
	}

	err, existing := deps.Database.ReadStatusByURI(objectURI)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing != nil {
		// A replayed Create carries the latest object state; treat it as an
		// edit of what we already hold.
		return applyUpdateWithDeps(existing, object, actor, conf, deps, opts)
	}

	if err := opts.Spend(); err != nil {
		return nil, err
	}

	now := time.Now()
	status := &domain.Status{
		Id:           uuid.New(),
		URI:          objectURI,
		AccountId:    actor.Id,
		Text:         getString(object, "content"),
		SpoilerText:  getString(object, "summary"),
		Language:     objectLanguage(object),
		Visibility:   objectVisibility(object, actor.FollowersURI),
		Sensitive:    getBool(object, "sensitive"),
		InReplyToURI: firstString(object["inReplyTo"]),
		Local:        false,
		CreatedAt:    now,
		FetchedAt:    now,
	}
	if published := getString(object, "published"); published != "" {
		if t, terr := time.Parse(time.RFC3339, published); terr == nil {
			status.CreatedAt = t
		}
	}

	if status.InReplyToURI != "" {
		if parent := resolveThreadParent(status.InReplyToURI, conf, deps, opts); parent != nil {
			status.InReplyToId = &parent.Id
		}
	}

	if objectType == "Question" {
		poll, perr := buildPoll(object, status.Id, deps)
		if perr != nil {
			log.Printf("Status: Dropping malformed poll on %s: %v", objectURI, perr)
		} else if poll != nil {
			status.PollId = &poll.Id
		}
	}

	if err := deps.Database.CreateStatus(status); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// Lost a race with another delivery of the same object.
			err, raced := deps.Database.ReadStatusByURI(objectURI)
			if err != nil {
				return nil, err
			}
			return raced, nil
		}
		return nil, fmt.Errorf("failed to store status: %w", err)
	}

	attachMedia(object, status, conf, deps)
	processTags(object, status, actor, conf, deps, opts)
	processQuote(object, status, actor, conf, deps, opts)

	log.Printf("Status: Ingested %s from %s", objectURI, actor.Handle())
	return status, nil
}

// ResolveStatus returns the stored status for uri, fetching and ingesting it
// (and its author) when unknown.
func ResolveStatusWithDeps(uri string, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Status, error) {
	if opts.Depth > conf.Federation.MaxRecursionDepth {
		return nil, ErrRecursionLimit
	}

	err, existing := deps.Database.ReadStatusByURI(uri)
	if err == nil && existing != nil {
		return existing, nil
	}

	fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
	doc, err := fetcher.Fetch(uri)
	if err != nil {
		return nil, err
	}
	if !CheckContext(doc) {
		return nil, ErrUnsupportedContext
	}

	attributedTo := firstString(doc["attributedTo"])
	if attributedTo == "" {
		return nil, fmt.Errorf("object %s has no attribution", uri)
	}
	author, err := GetOrFetchActorWithDeps(attributedTo, conf, deps, opts.Deeper())
	if err != nil {
		return nil, err
	}
	if author.Suspended {
		return nil, ErrSuspended
	}

	return ProcessCreateWithDeps(doc, author, conf, deps, opts.Deeper())
}

// resolveThreadParent tries to materialize the replied-to status. Limits or
// fetch failures leave the thread dangling by URI instead of failing the
// ingest.
func resolveThreadParent(parentURI string, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) *domain.Status {
	parent, err := ResolveStatusWithDeps(parentURI, conf, deps, opts.Deeper())
	if err != nil {
		log.Printf("Status: Could not resolve thread parent %s: %v", parentURI, err)
		return nil
	}
	return parent
}

// attachMedia stores up to MaxMediaAttachments attachments in document order
// and schedules their download.
func attachMedia(object map[string]any, status *domain.Status, conf *util.AppConfig, deps *InboxDeps) {
	attachments, ok := object["attachment"].([]any)
	if !ok || len(attachments) == 0 {
		return
	}

	stored := 0
	for _, raw := range attachments {
		if stored >= MaxMediaAttachments {
			log.Printf("Status: %s carries more than %d attachments, dropping the rest", status.URI, MaxMediaAttachments)
			break
		}
		att, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		remoteURL := getString(att, "url")
		if remoteURL == "" {
			continue
		}
		media := &domain.MediaAttachment{
			Id:          uuid.New(),
			StatusId:    status.Id,
			RemoteURL:   remoteURL,
			Description: getString(att, "name"),
			FocalPoint:  focalPointString(att["focalPoint"]),
			Blurhash:    getString(att, "blurhash"),
			MediaType:   getString(att, "mediaType"),
			Position:    stored,
			CreatedAt:   time.Now(),
		}
		if err := deps.Database.CreateMediaAttachment(media); err != nil {
			log.Printf("Status: Failed to store attachment %s: %v", remoteURL, err)
			continue
		}
		stored++
	}

	if stored > 0 {
		delay := util.JitterDuration(conf.Federation.MediaRetryMinSec, conf.Federation.MediaRetryMaxSec)
		enqueueJob(deps.Database, domain.JobMediaRedownload, status.Id.String(), time.Now().Add(delay))
	}
}

// processTags walks the object's tag array handling mentions, hashtags and
// custom emojis.
func processTags(object map[string]any, status *domain.Status, author *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) {
	tags, ok := object["tag"].([]any)
	if !ok {
		return
	}
	for _, raw := range tags {
		tag, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		switch getString(tag, "type") {
		case "Mention":
			processMention(tag, status, author, conf, deps, opts)
		case "Hashtag":
			name := strings.ToLower(strings.TrimPrefix(getString(tag, "name"), "#"))
			if name == "" {
				continue
			}
			st := &domain.StatusTag{Id: uuid.New(), StatusId: status.Id, Name: name}
			if err := deps.Database.CreateStatusTag(st); err != nil {
				log.Printf("Status: Failed to store hashtag #%s: %v", name, err)
			}
		case "Emoji":
			upsertEmoji(tag, author, deps)
		}
	}
}

func processMention(tag map[string]any, status *domain.Status, author *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) {
	href := getString(tag, "href")
	if href == "" {
		return
	}
	// An unresolvable mention degrades to plain text; it never fails the
	// status.
	mentionOpts := opts.Deeper()
	mentionOpts.SuppressErrors = true
	mentioned, err := GetOrFetchActorWithDeps(href, conf, deps, mentionOpts)
	if err != nil || mentioned == nil {
		return
	}
	mention := &domain.Mention{
		Id:        uuid.New(),
		StatusId:  status.Id,
		AccountId: mentioned.Id,
		TargetURI: href,
		CreatedAt: time.Now(),
	}
	if err := deps.Database.CreateMention(mention); err != nil {
		if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			log.Printf("Status: Failed to store mention of %s: %v", href, err)
		}
		return
	}
	if mentioned.IsLocal() {
		notify(deps.Database, mentioned.Id, domain.NotificationMention, author, status)
	}
}

// upsertEmoji stores a custom emoji keyed by (shortcode, domain), refreshing
// the image only when the remote updated timestamp moved forward.
func upsertEmoji(tag map[string]any, author *domain.Actor, deps *InboxDeps) {
	shortcode := strings.Trim(getString(tag, "name"), ":")
	if shortcode == "" {
		return
	}
	imageURL := ""
	if icon, ok := tag["icon"].(map[string]any); ok {
		imageURL = getString(icon, "url")
	}
	if imageURL == "" {
		return
	}
	updatedAt := time.Now()
	if updated := getString(tag, "updated"); updated != "" {
		if t, err := time.Parse(time.RFC3339, updated); err == nil {
			updatedAt = t
		}
	}

	err, existing := deps.Database.ReadEmojiByShortcode(shortcode, author.Domain)
	if err != nil || existing == nil {
		emoji := &domain.CustomEmoji{
			Id:        uuid.New(),
			Shortcode: shortcode,
			Domain:    author.Domain,
			ImageURL:  imageURL,
			UpdatedAt: updatedAt,
			CreatedAt: time.Now(),
		}
		if cerr := deps.Database.CreateEmoji(emoji); cerr != nil &&
			!strings.Contains(cerr.Error(), "UNIQUE constraint failed") {
			log.Printf("Status: Failed to store emoji :%s:: %v", shortcode, cerr)
		}
		return
	}
	if updatedAt.After(existing.UpdatedAt) {
		existing.ImageURL = imageURL
		existing.UpdatedAt = updatedAt
		if uerr := deps.Database.UpdateEmoji(existing); uerr != nil {
			log.Printf("Status: Failed to refresh emoji :%s:: %v", shortcode, uerr)
		}
	}
}

// buildPoll creates the poll row for a Question object. Options come from
// oneOf (single choice) or anyOf (multiple choice).
func buildPoll(object map[string]any, statusId uuid.UUID, deps *InboxDeps) (*domain.Poll, error) {
	options, multiple := questionOptions(object)
	if len(options) == 0 {
		return nil, fmt.Errorf("question has no options")
	}

	poll := &domain.Poll{
		Id:            uuid.New(),
		StatusId:      statusId,
		Options:       optionNames(options),
		Multiple:      multiple,
		VotersCount:   getInt(object, "votersCount"),
		CachedTallies: optionTallies(options),
		LastFetchedAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	if endTime := getString(object, "endTime"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			poll.ExpiresAt = &t
		}
	} else if closed := getString(object, "closed"); closed != "" {
		if t, err := time.Parse(time.RFC3339, closed); err == nil {
			poll.ExpiresAt = &t
		}
	}

	if err := deps.Database.CreatePoll(poll); err != nil {
		return nil, err
	}

	if poll.ExpiresAt != nil && poll.ExpiresAt.After(time.Now()) {
		enqueueJob(deps.Database, domain.JobPollExpiration, poll.Id.String(), *poll.ExpiresAt)
	}
	return poll, nil
}

func notify(database Database, accountId uuid.UUID, kind domain.NotificationType, actor *domain.Actor, status *domain.Status) {
	n := &domain.Notification{
		Id:               uuid.New(),
		AccountId:        accountId,
		NotificationType: kind,
		ActorId:          actor.Id,
		ActorUsername:    actor.Username,
		ActorDomain:      actor.Domain,
		StatusId:         status.Id,
		StatusURI:        status.URI,
		CreatedAt:        time.Now(),
	}
	if err := database.CreateNotification(n); err != nil {
		log.Printf("Status: Failed to store notification: %v", err)
	}
}

// JSON helpers for loosely typed ActivityStreams documents.

func getString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func getBool(doc map[string]any, key string) bool {
	b, _ := doc[key].(bool)
	return b
}

func getInt(doc map[string]any, key string) int {
	if f, ok := doc[key].(float64); ok {
		return int(f)
	}
	return 0
}

// firstString reduces a value that may be a string, an object with an id,
// or a list of either, to a single URI.
func firstString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		return getString(val, "id")
	case []any:
		for _, entry := range val {
			if s := firstString(entry); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringList(v any) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []any:
		var out []string
		for _, entry := range val {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

const publicAudience = "https://www.w3.org/ns/activitystreams#Public"

// objectVisibility derives visibility from the to/cc audiences.
func objectVisibility(object map[string]any, followersURI string) string {
	to := stringList(object["to"])
	cc := stringList(object["cc"])
	if contains(to, publicAudience) {
		return domain.VisibilityPublic
	}
	if contains(cc, publicAudience) {
		return domain.VisibilityUnlisted
	}
	if followersURI != "" && (contains(to, followersURI) || contains(cc, followersURI)) {
		return domain.VisibilityPrivate
	}
	return domain.VisibilityDirect
}

func objectLanguage(object map[string]any) string {
	contentMap, ok := object["contentMap"].(map[string]any)
	if !ok {
		return ""
	}
	for lang := range contentMap {
		return lang
	}
	return ""
}

func focalPointString(v any) string {
	point, ok := v.([]any)
	if !ok || len(point) != 2 {
		return ""
	}
	x, xok := point[0].(float64)
	y, yok := point[1].(float64)
	if !xok || !yok {
		return ""
	}
	return fmt.Sprintf("%g,%g", x, y)
}

func contains(list []string, s string) bool {
	for _, entry := range list {
		if entry == s {
			return true
		}
	}
	return false
}

type questionOption struct {
	name    string
	tallies int
}

func questionOptions(object map[string]any) ([]questionOption, bool) {
	parse := func(v any) []questionOption {
		list, ok := v.([]any)
		if !ok {
			return nil
		}
		var out []questionOption
		for _, raw := range list {
			opt, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			name := getString(opt, "name")
			if name == "" {
				continue
			}
			count := 0
			if replies, ok := opt["replies"].(map[string]any); ok {
				count = getInt(replies, "totalItems")
			}
			out = append(out, questionOption{name: name, tallies: count})
		}
		return out
	}

	if opts := parse(object["anyOf"]); len(opts) > 0 {
		return opts, true
	}
	return parse(object["oneOf"]), false
}

func optionNames(options []questionOption) []string {
	names := make([]string, len(options))
	for i, opt := range options {
		names[i] = opt.name
	}
	return names
}

func optionTallies(options []questionOption) []int {
	tallies := make([]int, len(options))
	for i, opt := range options {
		tallies[i] = opt.tallies
	}
	return tallies
}
