package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultDraftTTL bounds how long an abandoned draft survives.
const DefaultDraftTTL = 12 * time.Hour

// RedisDrafts stores drafts as JSON documents with a sliding TTL.
type RedisDrafts struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDrafts constructs the draft store.
func NewRedisDrafts(client *redis.Client, ttl time.Duration) *RedisDrafts {
	if ttl <= 0 {
		ttl = DefaultDraftTTL
	}
	return &RedisDrafts{client: client, ttl: ttl}
}

func draftKey(id uuid.UUID) string {
	return fmt.Sprintf("stock:audit:draft:%s", id)
}

// Save writes the draft and refreshes its TTL.
func (d *RedisDrafts) Save(ctx context.Context, draft Draft) error {
	raw, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	return d.client.Set(ctx, draftKey(draft.ID), raw, d.ttl).Err()
}

// Get loads a draft.
func (d *RedisDrafts) Get(ctx context.Context, id uuid.UUID) (Draft, error) {
	raw, err := d.client.Get(ctx, draftKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, ErrDraftNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	var draft Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return Draft{}, fmt.Errorf("audit: decode draft %s: %w", id, err)
	}
	return draft, nil
}

// Delete removes a draft.
func (d *RedisDrafts) Delete(ctx context.Context, id uuid.UUID) error {
	return d.client.Del(ctx, draftKey(id)).Err()
}
