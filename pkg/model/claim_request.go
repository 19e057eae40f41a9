package model

import "time"

type RequestOutcome string

const (
	OutcomePending RequestOutcome = "pending"
	OutcomeSuccess RequestOutcome = "success"
	OutcomeFail    RequestOutcome = "fail"
)

// ClaimRequest is one queued asynchronous claim attempt. It is created
// PENDING when the caller submits, mutated exactly once by the queue
// consumer, and read by polling clients until it resolves.
type ClaimRequest struct {
	ID          string         `json:"request_id" bson:"_id"`
	UserID      string         `json:"user_id" bson:"user_id"`
	UnitID      string         `json:"unit_id" bson:"unit_id"`
	Quantity    int64          `json:"quantity" bson:"quantity"`
	Outcome     RequestOutcome `json:"outcome" bson:"outcome"`
	ClaimID     string         `json:"claim_id,omitempty" bson:"claim_id,omitempty"`
	FailureCode string         `json:"failure_code,omitempty" bson:"failure_code,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at" bson:"submitted_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// ClaimRequestPayload is the wire format published to the claim-requests
// topic. The request id travels in the payload (and as a message header) so
// dead-letter resolution is always keyed by request id.
type ClaimRequestPayload struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	UnitID    string `json:"unit_id"`
	Quantity  int64  `json:"quantity"`
}
