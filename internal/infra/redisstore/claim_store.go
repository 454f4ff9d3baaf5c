// Package redisstore is the Redis-backed alternative to the Postgres claim table.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"bloodwall/internal/domain/notification"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "bloodwall:claim:"

	// DefaultTTL outlives the UTC day bucket a claim belongs to.
	DefaultTTL = 48 * time.Hour

	maxTxRetries = 3
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient creates a Redis client with the pool settings used across the service.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type record struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	Recipient string    `json:"recipient"`
	DayKey    string    `json:"dayKey"`
	MessageID string    `json:"messageId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ClaimStore keeps one key per (job, recipient, dayKey). SET NX provides the uniqueness guarantee.
type ClaimStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewClaimStore(client *redis.Client) *ClaimStore {
	return &ClaimStore{client: client, ttl: DefaultTTL, now: time.Now}
}

// Key returns the Redis key for a claim triple.
func Key(job notification.JobName, recipient, dayKey string) string {
	return keyPrefix + string(job) + ":" + recipient + ":" + dayKey
}

func (s *ClaimStore) InsertIfAbsent(ctx context.Context, c *notification.Claim) (notification.InsertResult, error) {
	now := s.now().UTC()
	data, err := json.Marshal(record{
		ID:        c.ID,
		Job:       string(c.Job),
		Recipient: c.Recipient,
		DayKey:    c.DayKey,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return 0, fmt.Errorf("error encoding notification claim: %w", err)
	}

	ok, err := s.client.SetNX(ctx, Key(c.Job, c.Recipient, c.DayKey), data, s.ttl).Result()
	if err != nil {
		return 0, fmt.Errorf("error inserting notification claim: %w", err)
	}
	if !ok {
		return notification.Conflict, nil
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return notification.Inserted, nil
}

// Finalize stores the message id on the claim, provided the key still holds this claim.
func (s *ClaimStore) Finalize(ctx context.Context, c *notification.Claim, messageID string) error {
	key := Key(c.Job, c.Recipient, c.DayKey)
	now := s.now().UTC()

	err := s.withOwnedKey(ctx, key, c.ID, func(tx *redis.Tx, rec *record) error {
		rec.MessageID = messageID
		rec.UpdatedAt = now
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redis.KeepTTL)
			return nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, notification.ErrClaimNotFound) {
			return err
		}
		return fmt.Errorf("error finalizing notification claim: %w", err)
	}

	c.MessageID.String, c.MessageID.Valid = messageID, true
	c.UpdatedAt = now
	return nil
}

// Delete removes the key only if it still holds this claim, so a stale rollback cannot
// erase a claim created later by another invocation.
func (s *ClaimStore) Delete(ctx context.Context, c *notification.Claim) error {
	key := Key(c.Job, c.Recipient, c.DayKey)
	err := s.withOwnedKey(ctx, key, c.ID, func(tx *redis.Tx, _ *record) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, notification.ErrClaimNotFound) {
			return err
		}
		return fmt.Errorf("error deleting notification claim: %w", err)
	}
	return nil
}

// DeletePending removes the key only if it still holds this claim and no message id was recorded.
func (s *ClaimStore) DeletePending(ctx context.Context, c *notification.Claim) error {
	key := Key(c.Job, c.Recipient, c.DayKey)
	err := s.withOwnedKey(ctx, key, c.ID, func(tx *redis.Tx, rec *record) error {
		if rec.MessageID != "" {
			return notification.ErrClaimNotPending
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		return err
	})
	if err != nil {
		if errors.Is(err, notification.ErrClaimNotFound) || errors.Is(err, notification.ErrClaimNotPending) {
			return err
		}
		return fmt.Errorf("error deleting pending notification claim: %w", err)
	}
	return nil
}

func (s *ClaimStore) Get(ctx context.Context, job notification.JobName, recipient, dayKey string) (*notification.Claim, error) {
	rec, err := s.load(ctx, s.client, Key(job, recipient, dayKey))
	if err != nil {
		return nil, err
	}
	return rec.toClaim(), nil
}

// ListByDay scans for every claim of the given day, ordered by job then recipient.
func (s *ClaimStore) ListByDay(ctx context.Context, dayKey string) ([]*notification.Claim, error) {
	claims := make([]*notification.Claim, 0)
	iter := s.client.Scan(ctx, 0, keyPrefix+"*:"+dayKey, 100).Iterator()
	for iter.Next(ctx) {
		rec, err := s.load(ctx, s.client, iter.Val())
		if errors.Is(err, notification.ErrClaimNotFound) {
			continue // expired or rolled back between SCAN and GET
		}
		if err != nil {
			return nil, err
		}
		if rec.DayKey != dayKey {
			continue
		}
		claims = append(claims, rec.toClaim())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning notification claims: %w", err)
	}

	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Job != claims[j].Job {
			return claims[i].Job < claims[j].Job
		}
		return claims[i].Recipient < claims[j].Recipient
	})
	return claims, nil
}

// withOwnedKey runs fn inside WATCH on key after checking the stored claim id matches id.
func (s *ClaimStore) withOwnedKey(ctx context.Context, key, id string, fn func(tx *redis.Tx, rec *record) error) error {
	txf := func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec.ID != id {
			return notification.ErrClaimNotFound
		}
		return fn(tx, rec)
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *ClaimStore) load(ctx context.Context, r getter, key string) (*record, error) {
	raw, err := r.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notification.ErrClaimNotFound
		}
		return nil, fmt.Errorf("error getting notification claim: %w", err)
	}
	rec := &record{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("error decoding notification claim %s: %w", key, err)
	}
	return rec, nil
}

func (r *record) toClaim() *notification.Claim {
	c := &notification.Claim{
		ID:        r.ID,
		Job:       notification.JobName(r.Job),
		Recipient: r.Recipient,
		DayKey:    r.DayKey,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.MessageID != "" {
		c.MessageID.String, c.MessageID.Valid = r.MessageID, true
	}
	return c
}
