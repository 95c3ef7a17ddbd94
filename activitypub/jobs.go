package activitypub

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

const maxJobAttempts = 5

// StartJobWorker starts the background worker that drains the job queue.
func StartJobWorker(conf *util.AppConfig, stop <-chan struct{}) {
	log.Println("Starting job worker...")

	deps := &InboxDeps{
		Database:   NewDBWrapper(),
		HTTPClient: httpClientFor(conf),
	}

	ticker := time.NewTicker(15 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ProcessJobQueueWithDeps(conf, deps)
			}
		}
	}()
}

// ProcessJobQueueWithDeps runs one pass over due jobs.
func ProcessJobQueueWithDeps(conf *util.AppConfig, deps *InboxDeps) {
	err, jobs := deps.Database.ReadDueJobs(25)
	if err != nil {
		log.Printf("JobWorker: Failed to read queue: %v", err)
		return
	}
	if jobs == nil || len(*jobs) == 0 {
		return
	}

	for _, job := range *jobs {
		if err := runJob(&job, conf, deps); err != nil {
			job.Attempts++
			if job.Attempts >= maxJobAttempts {
				log.Printf("JobWorker: Dropping %s job after %d attempts: %v", job.Kind, job.Attempts, err)
				deps.Database.DeleteJob(job.Id)
				continue
			}
			retryAt := time.Now().Add(time.Duration(job.Attempts) * 5 * time.Minute)
			log.Printf("JobWorker: %s job failed (attempt %d), retrying later: %v", job.Kind, job.Attempts, err)
			deps.Database.UpdateJobAttempt(job.Id, job.Attempts, retryAt)
			continue
		}
		deps.Database.DeleteJob(job.Id)
	}
}

func runJob(job *domain.Job, conf *util.AppConfig, deps *InboxDeps) error {
	switch job.Kind {
	case domain.JobMediaRedownload:
		return runMediaRedownload(job.Args, conf, deps)
	case domain.JobRefollow:
		return runRefollow(job.Args, conf, deps)
	case domain.JobAccountMerge:
		return runAccountMerge(job.Args, deps)
	case domain.JobSuspendAccount:
		return runSuspension(job.Args, true, deps)
	case domain.JobUnsuspendAccount:
		return runSuspension(job.Args, false, deps)
	case domain.JobFeaturedSync:
		return runFeaturedSync(job.Args, conf, deps)
	case domain.JobFeaturedTagsSync:
		return runFeaturedTagsSync(job.Args, conf, deps)
	case domain.JobFollowersSync:
		return runFollowersSync(job.Args, conf, deps)
	case domain.JobPollExpiration:
		return runPollExpiration(job.Args, conf, deps)
	case domain.JobProtocolUpgrade:
		return runProtocolUpgrade(job.Args, conf, deps)
	case domain.JobFieldVerify:
		return runFieldVerification(job.Args, conf, deps)
	default:
		log.Printf("JobWorker: Unknown job kind %q, dropping", job.Kind)
		return nil
	}
}

// runMediaRedownload fetches pending attachments of a status and marks them
// downloaded. Failures surface as job retries.
func runMediaRedownload(args string, conf *util.AppConfig, deps *InboxDeps) error {
	id, err := uuid.Parse(args)
	if err != nil {
		return fmt.Errorf("bad media job args %q: %w", args, err)
	}

	err, media := deps.Database.ReadMediaByStatusId(id)
	if err != nil {
		return err
	}
	if media == nil || len(*media) == 0 {
		// The id names an account instead: a profile media refresh. The
		// remote URLs are recorded on the account row already, nothing to
		// download separately.
		return nil
	}

	var firstErr error
	for i := range *media {
		m := &(*media)[i]
		if m.Downloaded {
			continue
		}
		if err := probeMedia(m.RemoteURL, deps); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.Downloaded = true
		if uerr := deps.Database.UpdateMediaAttachment(m); uerr != nil {
			log.Printf("JobWorker: Failed to mark media %s downloaded: %v", m.RemoteURL, uerr)
		}
	}
	return firstErr
}

func probeMedia(remoteURL string, deps *InboxDeps) error {
	req, err := http.NewRequest("GET", remoteURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media %s returned status %d", remoteURL, resp.StatusCode)
	}
	return nil
}

// runRefollow replays a follow the remote side lost. Args: "localURI remoteURI".
func runRefollow(args string, conf *util.AppConfig, deps *InboxDeps) error {
	localURI, remoteURI, found := strings.Cut(args, " ")
	if !found {
		return fmt.Errorf("bad refollow args %q", args)
	}
	err, local := deps.Database.ReadActorByURI(localURI)
	if err != nil {
		return err
	}
	remote, err := GetOrFetchActorWithDeps(remoteURI, conf, deps, ResolveOpts{})
	if err != nil {
		return err
	}
	return SendFollowWithDeps(local, remote, conf, deps)
}

// runAccountMerge collapses duplicate rows for one actor URI onto the
// oldest row.
func runAccountMerge(uri string, deps *InboxDeps) error {
	err, rows := deps.Database.ReadActorsByURI(uri)
	if err != nil {
		return err
	}
	if rows == nil || len(*rows) <= 1 {
		return nil
	}

	keeper := (*rows)[0]
	for _, row := range (*rows)[1:] {
		if row.CreatedAt.Before(keeper.CreatedAt) {
			keeper = row
		}
	}

	for _, row := range *rows {
		if row.Id == keeper.Id {
			continue
		}
		if derr := deps.Database.DeleteActor(row.Id); derr != nil {
			return derr
		}
	}
	log.Printf("JobWorker: Merged %d duplicate rows for %s", len(*rows)-1, uri)
	return nil
}

func runSuspension(uri string, suspend bool, deps *InboxDeps) error {
	err, actor := deps.Database.ReadActorByURI(uri)
	if err != nil {
		return err
	}
	actor.Suspended = suspend
	if suspend {
		actor.SuspensionOrigin = domain.SuspensionLocal
	} else {
		actor.SuspensionOrigin = domain.SuspensionNone
	}
	return deps.Database.UpdateActor(actor)
}

func runFeaturedSync(uri string, conf *util.AppConfig, deps *InboxDeps) error {
	err, actor := deps.Database.ReadActorByURI(uri)
	if err != nil {
		return err
	}
	return SyncFeaturedStatusesWithDeps(actor, conf, deps, ResolveOpts{})
}

func runFeaturedTagsSync(uri string, conf *util.AppConfig, deps *InboxDeps) error {
	err, actor := deps.Database.ReadActorByURI(uri)
	if err != nil {
		return err
	}
	return SyncFeaturedTagsWithDeps(actor, conf, deps)
}

// followersSyncArgs carries a queued Collection-Synchronization check.
type followersSyncArgs struct {
	ActorURI string `json:"actor_uri"`
	Header   string `json:"header"`
}

func runFollowersSync(args string, conf *util.AppConfig, deps *InboxDeps) error {
	var parsed followersSyncArgs
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return fmt.Errorf("bad followers sync args: %w", err)
	}
	err, actor := deps.Database.ReadActorByURI(parsed.ActorURI)
	if err != nil {
		return err
	}
	return SyncFollowersWithDeps(actor, parsed.Header, conf, deps)
}

// runPollExpiration fires when a poll's end time passes: the poll is
// refreshed once for final tallies and the local author is told it ended.
func runPollExpiration(args string, conf *util.AppConfig, deps *InboxDeps) error {
	pollId, err := uuid.Parse(args)
	if err != nil {
		return fmt.Errorf("bad poll job args %q: %w", args, err)
	}
	err, poll := deps.Database.ReadPollById(pollId)
	if err != nil {
		return err
	}
	if !poll.Expired(time.Now()) {
		// The expiry moved while the job sat in the queue.
		if poll.ExpiresAt != nil {
			enqueueJob(deps.Database, domain.JobPollExpiration, poll.Id.String(), *poll.ExpiresAt)
		}
		return nil
	}

	err, status := deps.Database.ReadStatusById(poll.StatusId)
	if err != nil {
		return err
	}

	if !status.Local {
		fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
		if doc, ferr := fetcher.Fetch(status.URI); ferr == nil && CheckContext(doc) {
			if merr := MergePollWithDeps(poll.Id, doc, deps); merr != nil {
				log.Printf("JobWorker: Final poll refresh for %s failed: %v", status.URI, merr)
			}
		}
	}

	err, author := deps.Database.ReadActorById(status.AccountId)
	if err != nil {
		return err
	}
	if author.IsLocal() {
		notify(deps.Database, author.Id, domain.NotificationPollEnded, author, status)
	}
	return nil
}

// runProtocolUpgrade refreshes an account that moved from a legacy protocol
// to ActivityPub and forgets key tombstones from its previous life.
func runProtocolUpgrade(uri string, conf *util.AppConfig, deps *InboxDeps) error {
	if _, err := GetOrFetchActorWithDeps(uri, conf, deps, ResolveOpts{Refresh: true}); err != nil {
		return err
	}
	return deps.Database.DeleteKeyTombstonesByActorURI(uri)
}

// runFieldVerification checks each linked profile field for a rel="me" link
// back to the actor's profile page and stamps the ones that have it. An
// unreachable page just leaves its field unverified.
func runFieldVerification(uri string, conf *util.AppConfig, deps *InboxDeps) error {
	err, actor := deps.Database.ReadActorByURI(uri)
	if err != nil {
		return err
	}

	profile := actor.URL
	if profile == "" {
		profile = actor.URI
	}

	changed := false
	for i := range actor.Fields {
		field := &actor.Fields[i]
		if !field.VerifiedAt.IsZero() {
			continue
		}
		target := fieldLinkTarget(field.Value)
		if target == "" {
			continue
		}
		body, ferr := fetchPage(target, conf, deps)
		if ferr != nil {
			log.Printf("JobWorker: Field link %s unreachable: %v", target, ferr)
			continue
		}
		if pageLinksBack(body, profile) || pageLinksBack(body, actor.URI) {
			field.VerifiedAt = time.Now()
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return deps.Database.UpdateActor(actor)
}

// fieldLinkTarget extracts the https URL a field value points at, whether
// the value is a bare URL or an HTML anchor.
func fieldLinkTarget(value string) string {
	start := strings.Index(value, "https://")
	if start < 0 {
		return ""
	}
	rest := value[start:]
	if end := strings.IndexAny(rest, `"'<> `); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// pageLinksBack reports whether the HTML contains an <a> or <link> tag with
// rel="me" whose href is the given profile URL.
func pageLinksBack(body, profile string) bool {
	if profile == "" {
		return false
	}
	rest := body
	for {
		open := strings.IndexByte(rest, '<')
		if open < 0 {
			return false
		}
		end := strings.IndexByte(rest[open:], '>')
		if end < 0 {
			return false
		}
		tag := rest[open : open+end+1]
		rest = rest[open+end+1:]

		lower := strings.ToLower(tag)
		if !strings.HasPrefix(lower, "<a ") && !strings.HasPrefix(lower, "<link ") {
			continue
		}
		if !relMe(lower) {
			continue
		}
		if strings.Contains(tag, `href="`+profile+`"`) || strings.Contains(tag, `href='`+profile+`'`) {
			return true
		}
	}
}

// relMe reports whether a lowercased tag carries "me" in its rel attribute.
func relMe(tag string) bool {
	idx := strings.Index(tag, `rel=`)
	if idx < 0 {
		return false
	}
	rest := tag[idx+4:]
	if len(rest) == 0 {
		return false
	}
	quote := rest[0]
	if quote != '"' && quote != '\'' {
		return false
	}
	end := strings.IndexByte(rest[1:], quote)
	if end < 0 {
		return false
	}
	for _, rel := range strings.Fields(rest[1 : 1+end]) {
		if rel == "me" {
			return true
		}
	}
	return false
}

// fetchPage does a plain size-limited GET of an HTML page.
func fetchPage(pageURL string, conf *util.AppConfig, deps *InboxDeps) (string, error) {
	req, err := http.NewRequest("GET", pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")
	resp, err := deps.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page %s returned status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, conf.Federation.MaxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
