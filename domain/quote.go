package domain

import (
	"time"

	"github.com/google/uuid"
)

// Quote states
const (
	QuotePending  = "pending"
	QuoteAccepted = "accepted"
	QuoteRejected = "rejected"
)

// Quote is a directed edge from a quoting status to a quoted status. Once
// accepted, QuotedStatusId is set and immutable for that accept.
type Quote struct {
	Id             uuid.UUID
	StatusId       uuid.UUID // the quoting status
	QuotedStatusId *uuid.UUID
	QuotedURI      string
	ApprovalURI    string
	State          string
	CreatedAt      time.Time
	VerifiedAt     *time.Time
}
