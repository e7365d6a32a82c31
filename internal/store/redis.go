package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/hussain-mohammed/kirana-store/internal/domain"
)

const defaultPrefix = "imagectl:"

// Redis stores bakes as JSON values with a TTL and keeps a sorted index by
// creation time.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(addr, password string, db int, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, logger: logger, prefix: defaultPrefix, ttl: ttl}, nil
}

func (r *Redis) bakeKey(id string) string { return r.prefix + "bake:" + id }

func (r *Redis) indexKey() string { return r.prefix + "bakes" }

func (r *Redis) Save(ctx context.Context, bake domain.Bake) error {
	if bake.ID == "" {
		return errors.New("store: bake id required")
	}
	payload, err := json.Marshal(bake)
	if err != nil {
		return fmt.Errorf("marshal bake: %w", err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.bakeKey(bake.ID), payload, r.ttl)
	pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(bake.CreatedAt.UnixNano()), Member: bake.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save bake %s: %w", bake.ID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (domain.Bake, error) {
	payload, err := r.client.Get(ctx, r.bakeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Bake{}, ErrNotFound
	}
	if err != nil {
		return domain.Bake{}, fmt.Errorf("get bake %s: %w", id, err)
	}
	return decodeBake(payload)
}

// List reads the index newest first. Index members whose record expired are
// pruned.
func (r *Redis) List(ctx context.Context, limit int) ([]domain.Bake, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, r.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list bakes: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.bakeKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("list bakes: %w", err)
	}
	out := make([]domain.Bake, 0, len(values))
	var expired []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		bake, err := decodeBake([]byte(s))
		if err != nil {
			r.logger.Warn("skipping undecodable bake", "bake_id", ids[i], "error", err)
			continue
		}
		out = append(out, bake)
	}
	if len(expired) > 0 {
		if err := r.client.ZRem(ctx, r.indexKey(), expired...).Err(); err != nil {
			r.logger.Warn("failed to prune bake index", "error", err)
		}
	}
	return out, nil
}

func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func decodeBake(payload []byte) (domain.Bake, error) {
	var bake domain.Bake
	if err := json.Unmarshal(payload, &bake); err != nil {
		return domain.Bake{}, fmt.Errorf("decode bake: %w", err)
	}
	return bake, nil
}
