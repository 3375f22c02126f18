package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used when Redis is not configured
// and in tests. Feedback does not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]CachedRequest
	records  map[string]*Record
	byReq    map[string][]string
	now      func() time.Time
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]CachedRequest),
		records:  make(map[string]*Record),
		byReq:    make(map[string][]string),
		now:      time.Now,
	}
}

// CacheRequest implements Store.
func (s *MemoryStore) CacheRequest(_ context.Context, req CachedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now().UTC()
	}
	s.requests[req.RequestID] = req
	return nil
}

// Submit implements Store.
func (s *MemoryStore) Submit(_ context.Context, sub Submission) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.requests[sub.RequestID]
	if !ok {
		return nil, ErrUnknownRequest
	}
	for _, fid := range s.byReq[sub.RequestID] {
		if rec := s.records[fid]; rec != nil && rec.Type == sub.Type {
			out := *rec
			return &out, nil
		}
	}

	tenant := sub.TenantID
	if tenant == "" {
		tenant = cached.TenantID
	}
	rec := &Record{
		FeedbackID:         "fb_" + uuid.NewString()[:12],
		TenantID:           tenant,
		RequestID:          sub.RequestID,
		InputHash:          cached.InputHash,
		InputLen:           cached.InputLen,
		OriginalDecision:   cached.Decision,
		OriginalCategories: cached.Categories,
		OriginalConfidence: cached.Confidence,
		Type:               sub.Type,
		CorrectedCategory:  sub.CorrectedCategory,
		Comment:            sub.Comment,
		SubmittedAt:        s.now().UTC(),
	}
	s.records[rec.FeedbackID] = rec
	s.byReq[sub.RequestID] = append(s.byReq[sub.RequestID], rec.FeedbackID)

	out := *rec
	return &out, nil
}

// Review implements Store with the check and transition under one lock.
func (s *MemoryStore) Review(_ context.Context, feedbackID string, approved bool) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[feedbackID]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Reviewed {
		return nil, ErrAlreadyReviewed
	}
	rec.Reviewed = true
	rec.Approved = approved
	rec.ReviewedAt = s.now().UTC()

	out := *rec
	return &out, nil
}

// ListPending implements Store, oldest submission first.
func (s *MemoryStore) ListPending(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if !rec.Reviewed {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].FeedbackID < out[j].FeedbackID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListForTraining implements Store.
func (s *MemoryStore) ListForTraining(_ context.Context, limit int) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Record
	for _, rec := range s.records {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec.Reviewed && rec.Approved && !rec.IncludedInTraining && rec.Type != TypeConfirmation {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkTrained implements Store.
func (s *MemoryStore) MarkTrained(_ context.Context, feedbackIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, fid := range feedbackIDs {
		if rec, ok := s.records[fid]; ok {
			rec.IncludedInTraining = true
		}
	}
	return nil
}

// Stats implements Store. The record map is small in-memory; counting it
// directly is fine here, unlike the Redis path.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ByType: map[Type]int64{}}
	for _, rec := range s.records {
		st.Total++
		st.ByType[rec.Type]++
		if rec.Reviewed {
			st.Reviewed++
		} else {
			st.PendingReview++
		}
		if rec.Reviewed && rec.Approved && !rec.IncludedInTraining && rec.Type != TypeConfirmation {
			st.Trainable++
		}
	}
	return st, nil
}
