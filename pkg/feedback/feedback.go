// Package feedback stores human corrections to engine decisions and the
// review workflow that gates them before the active learner consumes them.
package feedback

import (
	"context"
	"errors"
	"time"
)

// Type classifies what the submitter believes the engine got wrong.
type Type string

const (
	// TypeFalsePositive: the engine flagged harmless text.
	TypeFalsePositive Type = "false_positive"
	// TypeFalseNegative: the engine missed harmful text.
	TypeFalseNegative Type = "false_negative"
	// TypeConfirmation: the decision was correct. Useful for precision
	// metrics; never feeds rule learning.
	TypeConfirmation Type = "confirmation"
)

// ParseType validates a feedback type from the API surface.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeFalsePositive, TypeFalseNegative, TypeConfirmation:
		return Type(s), nil
	}
	return "", errors.New("unknown feedback type: " + s)
}

// Sentinel errors surfaced to API callers.
var (
	// ErrUnknownRequest: the request_id is not in the request cache, so
	// the feedback cannot be correlated with a decision.
	ErrUnknownRequest = errors.New("feedback: unknown or expired request id")
	// ErrAlreadyReviewed: the record has already gone through review.
	// Review is exactly-once; the caller sees a conflict, state is
	// unchanged.
	ErrAlreadyReviewed = errors.New("feedback: record already reviewed")
	// ErrNotFound: no record with that feedback id.
	ErrNotFound = errors.New("feedback: record not found")
)

// CachedRequest is the non-raw footprint of a decision kept for feedback
// correlation. Raw input text is never stored; only its hash and length.
type CachedRequest struct {
	RequestID  string    `json:"request_id"`
	TenantID   string    `json:"tenant_id"`
	InputHash  string    `json:"input_hash"`
	InputLen   int       `json:"input_length"`
	Decision   string    `json:"decision"`
	Categories []string  `json:"categories"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// Submission is what an API caller provides when filing feedback.
type Submission struct {
	RequestID         string `json:"request_id"`
	TenantID          string `json:"tenant_id"`
	Type              Type   `json:"feedback_type"`
	CorrectedCategory string `json:"corrected_category,omitempty"`
	// Comment is reviewer-supplied text. For false negatives it is the
	// only material the learner may derive rules from.
	Comment string `json:"comment,omitempty"`
}

// Record is a stored feedback entry. Approved is meaningful only when
// Reviewed is true.
type Record struct {
	FeedbackID         string    `json:"feedback_id"`
	TenantID           string    `json:"tenant_id"`
	RequestID          string    `json:"request_id"`
	InputHash          string    `json:"input_hash"`
	InputLen           int       `json:"input_length"`
	OriginalDecision   string    `json:"original_decision"`
	OriginalCategories []string  `json:"original_categories"`
	OriginalConfidence float64   `json:"original_confidence"`
	Type               Type      `json:"feedback_type"`
	CorrectedCategory  string    `json:"corrected_category,omitempty"`
	Comment            string    `json:"comment,omitempty"`
	SubmittedAt        time.Time `json:"submitted_at"`
	Reviewed           bool      `json:"reviewed"`
	Approved           bool      `json:"approved"`
	ReviewedAt         time.Time `json:"reviewed_at,omitempty"`
	IncludedInTraining bool      `json:"included_in_training"`
}

// Stats summarizes the store without scanning records; implementations
// maintain counters as writes happen.
type Stats struct {
	Total         int64          `json:"total"`
	ByType        map[Type]int64 `json:"by_type"`
	Reviewed      int64          `json:"reviewed"`
	PendingReview int64          `json:"pending_review"`
	Trainable     int64          `json:"trainable"`
}

// Store is the feedback persistence contract. The Redis implementation is
// the production path; the in-memory one backs tests and single-node runs
// without Redis.
type Store interface {
	// CacheRequest records a decision footprint so later feedback can
	// reference it by request_id.
	CacheRequest(ctx context.Context, req CachedRequest) error

	// Submit files feedback against a cached request. Submitting the same
	// type twice for one request returns the existing record.
	Submit(ctx context.Context, sub Submission) (*Record, error)

	// Review approves or rejects a record, exactly once.
	Review(ctx context.Context, feedbackID string, approved bool) (*Record, error)

	// ListPending returns unreviewed records, oldest first, up to limit.
	ListPending(ctx context.Context, limit int) ([]*Record, error)

	// ListForTraining returns reviewed, approved, not-yet-trained records.
	ListForTraining(ctx context.Context, limit int) ([]*Record, error)

	// MarkTrained flags records as consumed by a training run.
	MarkTrained(ctx context.Context, feedbackIDs []string) error

	// Stats returns maintained counters.
	Stats(ctx context.Context) (Stats, error)
}
