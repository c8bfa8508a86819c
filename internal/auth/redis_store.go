package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"mailview/internal/models"
	"mailview/internal/redis"
)

const redisSessionPrefix = "mailview:session:"

// RedisStore keeps sessions as JSON blobs that expire with the session.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Load(ctx context.Context, id string) (*models.Session, error) {
	raw, err := r.client.Get(ctx, redisSessionPrefix+id)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *RedisStore) Save(ctx context.Context, sess *models.Session) error {
	if sess == nil || sess.ID == "" {
		return errors.New("session id is required")
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return r.Delete(ctx, sess.ID)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisSessionPrefix+sess.ID, data, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisSessionPrefix+id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
