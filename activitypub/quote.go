package activitypub

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vireo-social/vireo/domain"
	"github.com/vireo-social/vireo/util"
)

// Quote markers in the wild: FEP-044f "quote", plus the older vendor
// properties still emitted by some servers.
var quoteProperties = []string{"quote", "quoteUri", "quoteUrl", "_misskey_quote"}

// processQuote records a quote edge on a freshly ingested status and runs
// verification. A status without quote markers is left untouched.
func processQuote(object map[string]any, status *domain.Status, author *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) {
	quotedURI := ""
	for _, prop := range quoteProperties {
		if quotedURI = firstString(object[prop]); quotedURI != "" {
			break
		}
	}
	if quotedURI == "" {
		return
	}

	quote := &domain.Quote{
		Id:          uuid.New(),
		StatusId:    status.Id,
		QuotedURI:   quotedURI,
		ApprovalURI: firstString(object["quoteAuthorization"]),
		State:       domain.QuotePending,
		CreatedAt:   time.Now(),
	}
	if err := deps.Database.CreateQuote(quote); err != nil {
		log.Printf("Quote: Failed to store quote edge for %s: %v", status.URI, err)
		return
	}

	if err := VerifyQuoteWithDeps(quote, status, author, conf, deps, opts); err != nil {
		log.Printf("Quote: Verification of %s -> %s deferred: %v", status.URI, quotedURI, err)
	}
}

// VerifyQuoteWithDeps drives the quote through its state machine.
//
// A quote of the author's own post is accepted outright with no network
// traffic. Anything else needs a QuoteAuthorization issued from the quoted
// author's origin, naming both sides of the edge. An unreachable
// authorization rejects the quote: silence from the quoted server is
// denial. Only a transient failure to fetch the quoted post itself, with no
// usable inline copy in the authorization, leaves the quote pending for a
// later pass.
func VerifyQuoteWithDeps(quote *domain.Quote, status *domain.Status, author *domain.Actor, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) error {
	if quote.State != domain.QuotePending {
		return nil
	}

	// Self-quote short-circuit: the quoted status is already ours to check.
	if err, quoted := deps.Database.ReadStatusByURI(quote.QuotedURI); err == nil && quoted != nil {
		if quoted.AccountId == status.AccountId {
			return acceptQuote(quote, quoted.Id, deps)
		}
	}

	// A fetch failure here is held on to; the authorization may carry an
	// inline copy of the quoted post that resolves it.
	quoted, fetchErr := ResolveStatusWithDeps(quote.QuotedURI, conf, deps, opts.Deeper())
	if quoted != nil && quoted.AccountId == status.AccountId {
		return acceptQuote(quote, quoted.Id, deps)
	}

	if quote.ApprovalURI == "" {
		return rejectQuote(quote, deps, "no authorization attached")
	}
	if !util.SameOrigin(quote.ApprovalURI, quote.QuotedURI) {
		// Only the quoted author's server can hand out approvals for its
		// own posts.
		return rejectQuote(quote, deps, "authorization crosses origins")
	}

	fetcher := NewFetcher(conf, deps.HTTPClient, instanceSigner(conf, deps))
	doc, err := fetcher.Fetch(quote.ApprovalURI)
	if err != nil {
		return rejectQuote(quote, deps, fmt.Sprintf("authorization unreachable: %v", err))
	}

	if getString(doc, "type") != "QuoteAuthorization" {
		return rejectQuote(quote, deps, "authorization document has wrong type")
	}
	if firstString(doc["interactingObject"]) != status.URI {
		return rejectQuote(quote, deps, "authorization names a different quoting status")
	}
	if firstString(doc["interactionTarget"]) != quote.QuotedURI {
		return rejectQuote(quote, deps, "authorization names a different quoted status")
	}

	if quoted == nil {
		quoted = importInlineTarget(doc, quote, conf, deps, opts)
	}
	if quoted == nil {
		if fetchErr != nil && IsTransient(fetchErr) {
			return fetchErr
		}
		return rejectQuote(quote, deps, fmt.Sprintf("quoted status unreachable: %v", fetchErr))
	}

	err, quotedAuthor := deps.Database.ReadActorById(quoted.AccountId)
	if err != nil {
		return err
	}
	if attributedTo := firstString(doc["attributedTo"]); attributedTo != quotedAuthor.URI {
		return rejectQuote(quote, deps, "authorization not issued by the quoted author")
	}

	return acceptQuote(quote, quoted.Id, deps)
}

// importInlineTarget ingests a quoted post embedded in the authorization
// document. The embedded copy is trusted only when it claims exactly the
// awaited URI on the approval's own origin.
func importInlineTarget(doc map[string]any, quote *domain.Quote, conf *util.AppConfig, deps *InboxDeps, opts ResolveOpts) *domain.Status {
	inline, ok := doc["interactionTarget"].(map[string]any)
	if !ok {
		return nil
	}
	if getString(inline, "id") != quote.QuotedURI || !util.SameOrigin(quote.QuotedURI, quote.ApprovalURI) {
		return nil
	}
	authorURI := firstString(inline["attributedTo"])
	if authorURI == "" {
		return nil
	}
	actor, err := GetOrFetchActorWithDeps(authorURI, conf, deps, opts.Deeper())
	if err != nil || actor == nil {
		return nil
	}
	quoted, err := ProcessCreateWithDeps(inline, actor, conf, deps, opts.Deeper())
	if err != nil {
		log.Printf("Quote: Could not import inlined %s: %v", quote.QuotedURI, err)
		return nil
	}
	return quoted
}

func acceptQuote(quote *domain.Quote, quotedStatusId uuid.UUID, deps *InboxDeps) error {
	now := time.Now()
	quote.QuotedStatusId = &quotedStatusId
	quote.State = domain.QuoteAccepted
	quote.VerifiedAt = &now
	if err := deps.Database.UpdateQuote(quote); err != nil {
		return fmt.Errorf("failed to accept quote: %w", err)
	}
	log.Printf("Quote: Accepted %s", quote.QuotedURI)
	return nil
}

func rejectQuote(quote *domain.Quote, deps *InboxDeps, reason string) error {
	now := time.Now()
	quote.State = domain.QuoteRejected
	quote.VerifiedAt = &now
	if err := deps.Database.UpdateQuote(quote); err != nil {
		return fmt.Errorf("failed to reject quote: %w", err)
	}
	log.Printf("Quote: Rejected %s (%s)", quote.QuotedURI, reason)
	return nil
}
