package learning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

const (
	DefaultSeenCapacity  = 100_000
	defaultSeenKeyPrefix = "coordinator:seen:"
	defaultSeenTTL       = 7 * 24 * time.Hour
)

// LRUSeenSet is an in-process SeenSet holding the most recent decision ids.
// Ids evicted from the window could be applied twice.
type LRUSeenSet struct {
	cache *lru.Cache[string, struct{}]
}

func NewLRUSeenSet(capacity int) (*LRUSeenSet, error) {
	cache, err := lru.New[string, struct{}](capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: seen set: %v", contractx.ErrConfiguration, err)
	}
	return &LRUSeenSet{cache: cache}, nil
}

func (s *LRUSeenSet) MarkSeen(_ context.Context, decisionID string) (bool, error) {
	found, _ := s.cache.ContainsOrAdd(decisionID, struct{}{})
	return !found, nil
}

// OutcomeLog answers whether an outcome for a decision was already persisted.
type OutcomeLog interface {
	OutcomeApplied(ctx context.Context, decisionID string) (bool, error)
}

// DurableSeenSet checks the persisted outcome log before the local set, so
// decisions applied before a restart stay seen.
type DurableSeenSet struct {
	local SeenSet
	log   OutcomeLog
}

func NewDurableSeenSet(local SeenSet, log OutcomeLog) (*DurableSeenSet, error) {
	if local == nil || log == nil {
		return nil, fmt.Errorf("%w: durable seen set needs a local set and an outcome log", contractx.ErrConfiguration)
	}
	return &DurableSeenSet{local: local, log: log}, nil
}

func (s *DurableSeenSet) MarkSeen(ctx context.Context, decisionID string) (bool, error) {
	applied, err := s.log.OutcomeApplied(ctx, decisionID)
	if err != nil {
		return false, fmt.Errorf("lookup applied outcome: %w", err)
	}
	first, err := s.local.MarkSeen(ctx, decisionID)
	if err != nil {
		return false, err
	}
	return first && !applied, nil
}

func (s *LRUSeenSet) Len() int {
	return s.cache.Len()
}

type RedisConfig struct {
	URL       string        `envconfig:"URL" required:"true"`
	KeyPrefix string        `split_words:"true" default:"coordinator:seen:"`
	TTL       time.Duration `envconfig:"TTL" default:"168h"`
}

// RedisSeenSet shares observed decision ids between coordinator processes.
type RedisSeenSet struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

func NewRedisSeenSet(ctx context.Context, cfg RedisConfig) (*RedisSeenSet, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSeenSetWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

func NewRedisSeenSetWithClient(client redis.Cmdable, keyPrefix string, ttl time.Duration) *RedisSeenSet {
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultSeenKeyPrefix
	}
	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	return &RedisSeenSet{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisSeenSet) MarkSeen(ctx context.Context, decisionID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+decisionID, 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}
