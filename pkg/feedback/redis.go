package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Key layout:
//
//	request_cache:<request_id>      JSON CachedRequest, TTL-bound
//	feedback:<feedback_id>          JSON Record
//	feedback:reviewed:<feedback_id> exactly-once review lock (SETNX)
//	feedback:index:request:<rid>    set of feedback ids per request
//	feedback:index:pending          sorted set of unreviewed ids, scored by submit time
//	feedback:index:training         set of approved, untrained feedback ids
//	feedback:counters               hash of maintained Stats counters
const (
	keyRequestCache = "request_cache:"
	keyRecord       = "feedback:"
	keyReviewLock   = "feedback:reviewed:"
	keyIdxRequest   = "feedback:index:request:"
	keyIdxPending   = "feedback:index:pending"
	keyIdxTraining  = "feedback:index:training"
	keyCounters     = "feedback:counters"
)

// RedisStore implements Store on Redis. Stats reads the maintained counter
// hash; no operation scans the keyspace.
type RedisStore struct {
	client   *redis.Client
	cacheTTL time.Duration
	now      func() time.Time
}

// NewRedisStore wraps an existing client. cacheTTL bounds how long a
// decision stays correlatable; zero defaults to 24h.
func NewRedisStore(client *redis.Client, cacheTTL time.Duration) *RedisStore {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &RedisStore{client: client, cacheTTL: cacheTTL, now: time.Now}
}

// Ping verifies connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CacheRequest implements Store.
func (s *RedisStore) CacheRequest(ctx context.Context, req CachedRequest) error {
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now().UTC()
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal cached request: %w", err)
	}
	return s.client.Set(ctx, keyRequestCache+req.RequestID, data, s.cacheTTL).Err()
}

func (s *RedisStore) getRecord(ctx context.Context, feedbackID string) (*Record, error) {
	data, err := s.client.Get(ctx, keyRecord+feedbackID).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get feedback record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode feedback record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) putRecord(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal feedback record: %w", err)
	}
	return s.client.Set(ctx, keyRecord+rec.FeedbackID, data, 0).Err()
}

// Submit implements Store. Duplicate submissions (same request, same type)
// return the existing record unchanged.
func (s *RedisStore) Submit(ctx context.Context, sub Submission) (*Record, error) {
	cachedData, err := s.client.Get(ctx, keyRequestCache+sub.RequestID).Bytes()
	if err == redis.Nil {
		return nil, ErrUnknownRequest
	}
	if err != nil {
		return nil, fmt.Errorf("lookup request cache: %w", err)
	}
	var cached CachedRequest
	if err := json.Unmarshal(cachedData, &cached); err != nil {
		return nil, fmt.Errorf("decode cached request: %w", err)
	}

	existingIDs, err := s.client.SMembers(ctx, keyIdxRequest+sub.RequestID).Result()
	if err != nil {
		return nil, fmt.Errorf("request index: %w", err)
	}
	for _, fid := range existingIDs {
		rec, err := s.getRecord(ctx, fid)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Type == sub.Type {
			return rec, nil
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
	if err := s.putRecord(ctx, rec); err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, keyIdxRequest+sub.RequestID, rec.FeedbackID)
	pipe.ZAdd(ctx, keyIdxPending, redis.Z{Score: float64(rec.SubmittedAt.UnixNano()), Member: rec.FeedbackID})
	pipe.HIncrBy(ctx, keyCounters, "total", 1)
	pipe.HIncrBy(ctx, keyCounters, "type:"+string(sub.Type), 1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("index feedback record: %w", err)
	}
	return rec, nil
}

// Review implements Store. The SETNX lock makes the state transition
// exactly-once under concurrent reviewers; the loser gets
// ErrAlreadyReviewed and no state changes.
func (s *RedisStore) Review(ctx context.Context, feedbackID string, approved bool) (*Record, error) {
	rec, err := s.getRecord(ctx, feedbackID)
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, keyReviewLock+feedbackID, "1", 0).Result()
	if err != nil {
		return nil, fmt.Errorf("review lock: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyReviewed
	}

	rec.Reviewed = true
	rec.Approved = approved
	rec.ReviewedAt = s.now().UTC()
	if err := s.putRecord(ctx, rec); err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, keyIdxPending, feedbackID)
	pipe.HIncrBy(ctx, keyCounters, "reviewed", 1)
	if approved && rec.Type != TypeConfirmation {
		pipe.SAdd(ctx, keyIdxTraining, feedbackID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("update review indexes: %w", err)
	}
	return rec, nil
}

func (s *RedisStore) listFromSet(ctx context.Context, key string, limit int) ([]*Record, error) {
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read index %s: %w", key, err)
	}
	var out []*Record
	for _, fid := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		rec, err := s.getRecord(ctx, fid)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListPending implements Store, oldest submission first via the sorted
// pending index.
func (s *RedisStore) ListPending(ctx context.Context, limit int) ([]*Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, keyIdxPending, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending index: %w", err)
	}
	var out []*Record
	for _, fid := range ids {
		rec, err := s.getRecord(ctx, fid)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListForTraining implements Store.
func (s *RedisStore) ListForTraining(ctx context.Context, limit int) ([]*Record, error) {
	return s.listFromSet(ctx, keyIdxTraining, limit)
}

// MarkTrained implements Store.
func (s *RedisStore) MarkTrained(ctx context.Context, feedbackIDs []string) error {
	for _, fid := range feedbackIDs {
		rec, err := s.getRecord(ctx, fid)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if rec.IncludedInTraining {
			continue
		}
		rec.IncludedInTraining = true
		if err := s.putRecord(ctx, rec); err != nil {
			return err
		}
		if err := s.client.SRem(ctx, keyIdxTraining, fid).Err(); err != nil {
			return fmt.Errorf("remove from training index: %w", err)
		}
	}
	return nil
}

// Stats implements Store from the counter hash plus two set cardinalities.
func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	counters, err := s.client.HGetAll(ctx, keyCounters).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("read counters: %w", err)
	}
	pending, err := s.client.ZCard(ctx, keyIdxPending).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("pending cardinality: %w", err)
	}
	trainable, err := s.client.SCard(ctx, keyIdxTraining).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("training cardinality: %w", err)
	}

	st := Stats{ByType: map[Type]int64{}, PendingReview: pending, Trainable: trainable}
	for k, v := range counters {
		var n int64
		if _, err := fmt.Sscan(v, &n); err != nil {
			continue
		}
		switch {
		case k == "total":
			st.Total = n
		case k == "reviewed":
			st.Reviewed = n
		case len(k) > 5 && k[:5] == "type:":
			st.ByType[Type(k[5:])] = n
		}
	}
	return st, nil
}
