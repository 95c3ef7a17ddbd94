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

// ProcessUpdate ingests an Update activity's object using production
// dependencies.
func ProcessUpdate(object map[string]any, actor *domain.Actor, conf *util.AppConfig) (*domain.Status, error) {
	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: httpClientFor(conf),
	}
	return ProcessUpdateWithDeps(object, actor, conf, deps, ResolveOpts{})
}

// ProcessUpdateWithDeps applies an edit to a stored status. When the status
// is unknown the update carries everything needed to ingest it fresh, so it
// falls through to create handling.
func ProcessUpdateWithDeps(object map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Status, error) {
	objectURI := getString(object, "id")
	if objectURI == "" {
		return nil, fmt.Errorf("object has no id")
	}

	release := defaultLocker.Acquire("status:" + objectURI)
	defer release()

	err, existing := deps.Database.ReadStatusByURI(objectURI)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if existing == nil {
		// The update carries full object state; ingest it fresh. The lock for
		// this URI is already held, so go through the lock-free create core.
		return createStatusLocked(object, actor, conf, deps, opts)
	}
	return applyUpdateWithDeps(existing, object, actor, conf, deps, opts)
}

// applyUpdateWithDeps merges the edited object into the stored status. The
// caller holds the status lock.
//
// Stale updates (an `updated` timestamp at or before the stored edit time)
// are dropped. A significant edit snapshots the replaced state into a
// StatusEdit row first; insignificant changes are folded in silently.
func applyUpdateWithDeps(existing *domain.Status, object map[string]any, actor *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) (*domain.Status, error) {
	if actor.Id != existing.AccountId {
		return nil, fmt.Errorf("update of %s by %s, owned by another account", existing.URI, actor.Handle())
	}
	if attributedTo := firstString(object["attributedTo"]); attributedTo != "" && attributedTo != actor.URI {
		return nil, fmt.Errorf("update of %s attributed to %s, not acting %s", existing.URI, attributedTo, actor.URI)
	}

	var updatedAt *time.Time
	if updated := getString(object, "updated"); updated != "" {
		if t, err := time.Parse(time.RFC3339, updated); err == nil {
			updatedAt = &t
		}
	}
	if updatedAt != nil && existing.EditedAt != nil && !updatedAt.After(*existing.EditedAt) {
		// Deliveries can arrive out of order; an older revision never wins.
		// Poll tallies are cumulative and stay useful regardless, so merge
		// them even from a stale payload. That never counts as an edit.
		if existing.PollId != nil && getString(object, "type") == "Question" {
			if merr := MergePollWithDeps(*existing.PollId, object, deps); merr != nil {
				log.Printf("Status: Poll merge for %s failed: %v", existing.URI, merr)
			}
		}
		log.Printf("Status: Stale update for %s, ignoring", existing.URI)
		return existing, nil
	}

	err, prevMedia := deps.Database.ReadMediaByStatusId(existing.Id)
	if err != nil {
		return nil, err
	}
	var prevPoll *domain.Poll
	if existing.PollId != nil {
		if perr, p := deps.Database.ReadPollById(*existing.PollId); perr == nil {
			prevPoll = p
		}
	}

	newText := getString(object, "content")
	newSpoiler := getString(object, "summary")
	newSensitive := getBool(object, "sensitive")

	newMedia := desiredMedia(object)
	newOptions, _ := questionOptions(object)

	significant := isSignificantChange(existing, prevMedia, prevPoll, newText, newSpoiler, newSensitive, newMedia, optionNames(newOptions))

	if significant {
		// The pre-edit state is snapshotted once, on the first edit. Later
		// revisions only replace the current text.
		edits, cerr := deps.Database.CountStatusEdits(existing.Id)
		if cerr != nil {
			return nil, cerr
		}
		if edits == 0 {
			snapshot := &domain.StatusEdit{
				Id:                uuid.New(),
				StatusId:          existing.Id,
				Text:              existing.Text,
				SpoilerText:       existing.SpoilerText,
				Sensitive:         existing.Sensitive,
				MediaDescriptions: mediaDescriptions(prevMedia),
				CreatedAt:         time.Now(),
			}
			if prevPoll != nil {
				snapshot.PollOptions = prevPoll.Options
			}
			if err := deps.Database.CreateStatusEdit(snapshot); err != nil {
				return nil, fmt.Errorf("failed to snapshot edit: %w", err)
			}
		}

		editTime := time.Now()
		if updatedAt != nil {
			editTime = *updatedAt
		}
		existing.EditedAt = &editTime
		// Any cached link preview is for the old text.
		existing.PreviewCardURL = ""
	}

	existing.Text = newText
	existing.SpoilerText = newSpoiler
	existing.Sensitive = newSensitive
	existing.Language = objectLanguage(object)
	existing.FetchedAt = time.Now()

	reconcileMedia(existing, prevMedia, newMedia, conf, deps)
	reconcileMentions(existing, object, actor, significant, conf, deps, opts)
	reconcileTags(existing, object, actor, deps)

	if getString(object, "type") == "Question" {
		if prevPoll != nil {
			if err := MergePollWithDeps(prevPoll.Id, object, deps); err != nil {
				log.Printf("Status: Poll merge for %s failed: %v", existing.URI, err)
			}
		} else {
			if poll, perr := buildPoll(object, existing.Id, deps); perr == nil && poll != nil {
				existing.PollId = &poll.Id
			}
		}
	}

	if err := deps.Database.UpdateStatus(existing); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}

	if significant {
		forwardEditToAudience(existing, object, actor, conf, deps)
		log.Printf("Status: Recorded significant edit of %s", existing.URI)
	}
	return existing, nil
}

// forwardEditToAudience relays a significant edit to the author's known
// followers: local ones get an update notification, remote ones get the
// Update queued to their inbox (deduplicated by shared inbox).
func forwardEditToAudience(status *domain.Status, object map[string]any, author *domain.Actor, conf *util.AppConfig, deps *InboxDeps) {
	err, follows := deps.Database.ReadFollowsByTargetAccountId(author.Id)
	if err != nil || follows == nil {
		return
	}

	update := map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       fmt.Sprintf("%s#updates/%d", status.URI, time.Now().Unix()),
		"type":     "Update",
		"actor":    author.URI,
		"object":   object,
	}

	queued := make(map[string]bool)
	for _, f := range *follows {
		if !f.Accepted {
			continue
		}
		ferr, follower := deps.Database.ReadActorById(f.AccountId)
		if ferr != nil || follower == nil {
			continue
		}
		if follower.IsLocal() {
			notify(deps.Database, follower.Id, domain.NotificationUpdate, author, status)
			continue
		}
		inbox := follower.SharedInboxURI
		if inbox == "" {
			inbox = follower.InboxURI
		}
		if inbox == "" || queued[inbox] {
			continue
		}
		queued[inbox] = true
		if qerr := QueueActivity(update, inbox, follower.Id, deps.Database); qerr != nil {
			log.Printf("Status: Failed to queue edit forward to %s: %v", inbox, qerr)
		}
	}
}

type desiredAttachment struct {
	remoteURL   string
	description string
	focalPoint  string
	blurhash    string
	mediaType   string
}

func desiredMedia(object map[string]any) []desiredAttachment {
	attachments, ok := object["attachment"].([]any)
	if !ok {
		return nil
	}
	var out []desiredAttachment
	for _, raw := range attachments {
		if len(out) >= MaxMediaAttachments {
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
		out = append(out, desiredAttachment{
			remoteURL:   remoteURL,
			description: getString(att, "name"),
			focalPoint:  focalPointString(att["focalPoint"]),
			blurhash:    getString(att, "blurhash"),
			mediaType:   getString(att, "mediaType"),
		})
	}
	return out
}

// reconcileMedia matches stored attachments to the edited set by remote URL:
// vanished rows are deleted, surviving rows take the new metadata and
// position, and new URLs are inserted and scheduled for download.
func reconcileMedia(status *domain.Status, prevMedia *[]domain.MediaAttachment, desired []desiredAttachment, conf *util.AppConfig, deps *InboxDeps) {
	byURL := make(map[string]*domain.MediaAttachment)
	if prevMedia != nil {
		for i := range *prevMedia {
			m := &(*prevMedia)[i]
			byURL[m.RemoteURL] = m
		}
	}

	kept := make(map[string]bool)
	added := 0
	for pos, want := range desired {
		if existing, ok := byURL[want.remoteURL]; ok {
			kept[want.remoteURL] = true
			existing.Description = want.description
			existing.FocalPoint = want.focalPoint
			existing.Blurhash = want.blurhash
			existing.MediaType = want.mediaType
			existing.Position = pos
			if err := deps.Database.UpdateMediaAttachment(existing); err != nil {
				log.Printf("Status: Failed to update attachment %s: %v", want.remoteURL, err)
			}
			continue
		}
		media := &domain.MediaAttachment{
			Id:          uuid.New(),
			StatusId:    status.Id,
			RemoteURL:   want.remoteURL,
			Description: want.description,
			FocalPoint:  want.focalPoint,
			Blurhash:    want.blurhash,
			MediaType:   want.mediaType,
			Position:    pos,
			CreatedAt:   time.Now(),
		}
		if err := deps.Database.CreateMediaAttachment(media); err != nil {
			log.Printf("Status: Failed to store attachment %s: %v", want.remoteURL, err)
			continue
		}
		added++
	}

	if prevMedia != nil {
		for _, m := range *prevMedia {
			if !kept[m.RemoteURL] {
				if err := deps.Database.DeleteMediaAttachment(m.Id); err != nil {
					log.Printf("Status: Failed to delete attachment %s: %v", m.RemoteURL, err)
				}
			}
		}
	}

	if added > 0 {
		delay := util.JitterDuration(conf.Federation.MediaRetryMinSec, conf.Federation.MediaRetryMaxSec)
		enqueueJob(deps.Database, domain.JobMediaRedownload, status.Id.String(), time.Now().Add(delay))
	}
}

// reconcileMentions keeps mention rows stable across edits: hrefs no longer
// present go silent (they stay attached so threading and notifications keep
// their context), new hrefs are added, and previously silent mentions that
// reappear are un-silenced.
func reconcileMentions(status *domain.Status, object map[string]any, author *domain.Actor, significant bool, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) {
	desired := make(map[string]bool)
	if tags, ok := object["tag"].([]any); ok {
		for _, raw := range tags {
			tag, ok := raw.(map[string]any)
			if !ok || getString(tag, "type") != "Mention" {
				continue
			}
			if href := getString(tag, "href"); href != "" {
				desired[href] = true
			}
		}
	}

	err, existing := deps.Database.ReadMentionsByStatusId(status.Id)
	if err != nil {
		log.Printf("Status: Failed to read mentions for %s: %v", status.URI, err)
		return
	}

	seen := make(map[string]bool)
	if existing != nil {
		for _, m := range *existing {
			seen[m.TargetURI] = true
			wantSilent := !desired[m.TargetURI]
			if m.Silent != wantSilent {
				m.Silent = wantSilent
				if uerr := deps.Database.UpdateMention(&m); uerr != nil {
					log.Printf("Status: Failed to update mention %s: %v", m.TargetURI, uerr)
				}
			}
		}
	}

	for href := range desired {
		if seen[href] {
			continue
		}
		mentionOpts := opts.Deeper()
		mentionOpts.SuppressErrors = true
		mentioned, rerr := GetOrFetchActorWithDeps(href, conf, deps, mentionOpts)
		if rerr != nil || mentioned == nil {
			continue
		}
		mention := &domain.Mention{
			Id:        uuid.New(),
			StatusId:  status.Id,
			AccountId: mentioned.Id,
			TargetURI: href,
			CreatedAt: time.Now(),
		}
		if cerr := deps.Database.CreateMention(mention); cerr != nil {
			continue
		}
		if mentioned.IsLocal() {
			kind := domain.NotificationMention
			if significant {
				kind = domain.NotificationUpdate
			}
			notify(deps.Database, mentioned.Id, kind, author, status)
		}
	}
}

// reconcileTags replaces the hashtag set wholesale and re-upserts emojis.
func reconcileTags(status *domain.Status, object map[string]any, author *domain.Actor, deps *InboxDeps) {
	if err := deps.Database.DeleteStatusTagsByStatusId(status.Id); err != nil {
		log.Printf("Status: Failed to clear hashtags for %s: %v", status.URI, err)
	}
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
		case "Hashtag":
			name := strings.ToLower(strings.TrimPrefix(getString(tag, "name"), "#"))
			if name == "" {
				continue
			}
			st := &domain.StatusTag{Id: uuid.New(), StatusId: status.Id, Name: name}
			deps.Database.CreateStatusTag(st)
		case "Emoji":
			upsertEmoji(tag, author, deps)
		}
	}
}

// isSignificantChange decides whether an edit deserves a history snapshot
// and notifications. Formatting-only changes to the HTML are not
// significant; text, warnings, sensitivity, the media set or descriptions,
// and poll options are.
func isSignificantChange(existing *domain.Status, prevMedia *[]domain.MediaAttachment, prevPoll *domain.Poll,
	newText, newSpoiler string, newSensitive bool, newMedia []desiredAttachment, newOptions []string) bool {
	if util.StripHTML(existing.Text) != util.StripHTML(newText) {
		return true
	}
	if existing.SpoilerText != newSpoiler {
		return true
	}
	if existing.Sensitive != newSensitive {
		return true
	}

	var prevURLs, prevDescs []string
	if prevMedia != nil {
		for _, m := range *prevMedia {
			prevURLs = append(prevURLs, m.RemoteURL)
			prevDescs = append(prevDescs, m.Description)
		}
	}
	var newURLs, newDescs []string
	for _, m := range newMedia {
		newURLs = append(newURLs, m.remoteURL)
		newDescs = append(newDescs, m.description)
	}
	if !equalStrings(prevURLs, newURLs) || !equalStrings(prevDescs, newDescs) {
		return true
	}

	if prevPoll != nil && len(newOptions) > 0 && !equalStrings(prevPoll.Options, newOptions) {
		return true
	}

	return false
}

func mediaDescriptions(media *[]domain.MediaAttachment) []string {
	if media == nil {
		return nil
	}
	descs := make([]string, len(*media))
	for i, m := range *media {
		descs[i] = m.Description
	}
	return descs
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
