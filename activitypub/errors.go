package activitypub

import (
	"errors"
	"fmt"
)

var (
	// ErrRecursionLimit is returned when dependency resolution would exceed
	// the configured depth ceiling.
	ErrRecursionLimit = errors.New("recursion depth limit reached")

	// ErrDiscoveryLimit is returned when a request's discovery budget is
	// exhausted.
	ErrDiscoveryLimit = errors.New("discovery budget exhausted")

	// ErrDomainBlocked is returned for fetches targeting a blocked domain.
	ErrDomainBlocked = errors.New("domain is blocked")

	// ErrUnsupportedContext is returned when a fetched document does not
	// declare the ActivityStreams context.
	ErrUnsupportedContext = errors.New("unsupported JSON-LD context")

	// ErrRedirectLoop is returned when WebFinger confirmation keeps pointing
	// at new acct identifiers.
	ErrRedirectLoop = errors.New("webfinger redirect loop")

	// ErrActorGone is returned when the remote server answers 410 for an
	// actor document.
	ErrActorGone = errors.New("actor gone")

	// ErrSuspended is returned when processing is refused because the
	// acting account is suspended.
	ErrSuspended = errors.New("account is suspended")
)

// ActorRedirectError reports that an actor document identifies as a URI
// other than the one requested. Returned instead of following the redirect
// when the caller asked for strict resolution.
type ActorRedirectError struct {
	Requested string
	Target    string
}

func (e *ActorRedirectError) Error() string {
	return fmt.Sprintf("actor %s redirects to %s", e.Requested, e.Target)
}

// TransientError marks a fetch failure that is worth retrying later, as
// opposed to a permanent rejection of the document.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err wraps a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
