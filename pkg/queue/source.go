package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/verihub/pkg/models"
)

// Message is one delivery from a Source: the decoded job plus enough of the
// original payload to ack or redeliver it.
type Message struct {
	Job     models.Job
	payload string
}

// Source is the job queue this worker consumes from (spec.md §4.9). It is a
// local interface so Worker never depends on a concrete Redis client,
// mirroring the SessionExecutor/SessionRegistry seam tarsy's queue package
// uses to keep Worker testable.
type Source interface {
	// Receive blocks up to timeout for the next job. It returns
	// ErrNoJobsAvailable, not an error, when the timeout elapses empty.
	Receive(ctx context.Context, timeout time.Duration) (*Message, error)

	// Ack removes a successfully processed (or fatally rejected) message
	// from the in-flight/processing set.
	Ack(ctx context.Context, msg *Message) error

	// Redeliver returns msg to the queue for at-least-once redelivery. The
	// worker uses it for every Runner error except pipeline.ErrFatal, whose
	// messages are acked instead.
	Redeliver(ctx context.Context, msg *Message) error

	// Reap scans the processing set for messages claimed longer than
	// staleAfter ago and pushes them back onto the main queue, recovering
	// jobs whose worker died mid-processing without acking or redelivering.
	Reap(ctx context.Context, staleAfter time.Duration) (int, error)

	// Close releases the underlying connection.
	Close() error
}

// envelope is the wire format pushed onto the Redis list: the job message
// body from spec.md §6 plus the CorrelationId attribute, which SQS/similar
// brokers carry as a message attribute but a Redis list can only carry as
// an envelope field since list entries are opaque strings. claimed_at is
// stamped by Receive so Reap can detect stale in-flight entries.
type envelope struct {
	CorrelationID string     `json:"correlation_id"`
	CompanyID     string     `json:"company_id"`
	RetryMode     string     `json:"retry_mode"`
	FailedChecks  []string   `json:"failed_checks"`
	Timestamp     time.Time  `json:"timestamp"`
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`
}

// RedisSource implements Source with the classic BRPOPLPUSH reliable queue
// pattern: Receive atomically moves one entry from the main list to a
// per-consumer-less processing list, so a crash between pop and ack leaves
// the entry recoverable by Reap instead of lost.
type RedisSource struct {
	client        *redis.Client
	streamKey     string
	processingKey string
}

// NewRedisSource connects to redisURL and returns a ready RedisSource.
func NewRedisSource(redisURL, streamKey, processingKey string) (*RedisSource, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("queue: failed to connect to redis: %w", err)
	}

	return &RedisSource{client: client, streamKey: streamKey, processingKey: processingKey}, nil
}

// Publish pushes a job message onto the queue. Used by job producers and by
// tests seeding the queue; the worker side never calls it.
func (s *RedisSource) Publish(ctx context.Context, job models.Job) error {
	if job.CorrelationID == "" {
		job.CorrelationID = uuid.NewString()
	}
	env := envelope{
		CorrelationID: job.CorrelationID,
		CompanyID:     job.CompanyID,
		RetryMode:     string(job.RetryMode),
		FailedChecks:  stageTagStrings(job.FailedChecks),
		Timestamp:     job.Timestamp,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}
	return s.client.LPush(ctx, s.streamKey, data).Err()
}

func (s *RedisSource) Receive(ctx context.Context, timeout time.Duration) (*Message, error) {
	raw, err := s.client.BRPopLPush(ctx, s.streamKey, s.processingKey, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("queue: receive: %w", err)
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// Malformed payload: remove it from the processing list so it does
		// not wedge Reap forever, and surface as a normal receive error so
		// the caller backs off.
		_ = s.client.LRem(ctx, s.processingKey, 1, raw).Err()
		return nil, fmt.Errorf("queue: malformed job payload: %w", err)
	}

	now := time.Now()
	env.ClaimedAt = &now
	claimed, err := json.Marshal(env)
	if err == nil {
		// Other workers push onto the same processing list, so the claimed
		// entry is replaced by value (LREM + LPUSH in one transaction), not
		// by index. Best-effort: on failure the entry keeps no claimed_at,
		// and Reap skips entries without one.
		pipe := s.client.TxPipeline()
		pipe.LRem(ctx, s.processingKey, 1, raw)
		pipe.LPush(ctx, s.processingKey, claimed)
		if _, replaceErr := pipe.Exec(ctx); replaceErr == nil {
			raw = string(claimed)
		}
	}

	return &Message{Job: env.toJob(), payload: raw}, nil
}

func (s *RedisSource) Ack(ctx context.Context, msg *Message) error {
	if err := s.client.LRem(ctx, s.processingKey, 1, msg.payload).Err(); err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

func (s *RedisSource) Redeliver(ctx context.Context, msg *Message) error {
	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, s.processingKey, 1, msg.payload)
	pipe.LPush(ctx, s.streamKey, msg.payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: redeliver: %w", err)
	}
	return nil
}

// Reap recovers processing-list entries claimed longer than staleAfter ago:
// their worker presumably crashed before Ack or Redeliver ran.
func (s *RedisSource) Reap(ctx context.Context, staleAfter time.Duration) (int, error) {
	entries, err := s.client.LRange(ctx, s.processingKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reap: listing processing entries: %w", err)
	}

	cutoff := time.Now().Add(-staleAfter)
	recovered := 0
	for _, raw := range entries {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// Can't parse it: drop it rather than reprocess garbage forever.
			_ = s.client.LRem(ctx, s.processingKey, 1, raw).Err()
			continue
		}
		if env.ClaimedAt == nil || env.ClaimedAt.After(cutoff) {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.LRem(ctx, s.processingKey, 1, raw)
		pipe.LPush(ctx, s.streamKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return recovered, fmt.Errorf("queue: reap: requeueing %s: %w", env.CompanyID, err)
		}
		recovered++
	}
	return recovered, nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}

func (e envelope) toJob() models.Job {
	tags := make([]models.StageTag, 0, len(e.FailedChecks))
	for _, t := range e.FailedChecks {
		tags = append(tags, models.StageTag(t))
	}
	return models.Job{
		CompanyID:     e.CompanyID,
		RetryMode:     models.RetryMode(e.RetryMode),
		FailedChecks:  tags,
		CorrelationID: e.CorrelationID,
		Timestamp:     e.Timestamp,
	}
}

func stageTagStrings(tags []models.StageTag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}
