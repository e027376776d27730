package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	svcerror "delivery-dispatch/pkg/error"

	"github.com/redis/go-redis/v9"
)

// RedisCache keeps an entity set in redis, one JSON value per key plus a
// set index so List works without a keyspace scan.
type RedisCache[T any] struct {
	Client    *redis.Client
	IDFn      IDExtractor[T]
	KeyPrefix string
	TTL       time.Duration
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

func NewRedisCache[T any](ctx context.Context, redisConf RedisConfig, keyPrefix string, ttl time.Duration, idFn IDExtractor[T]) (RedisCache[T], error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisConf.Address,
		Password: redisConf.Password,
		DB:       redisConf.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		return RedisCache[T]{}, fmt.Errorf("Error connecting to Redis Client: %w", err)
	}

	return RedisCache[T]{
		Client:    client,
		KeyPrefix: keyPrefix,
		TTL:       ttl,
		IDFn:      idFn,
	}, nil
}

func (r RedisCache[T]) key(id string) string { return r.KeyPrefix + ":" + id }
func (r RedisCache[T]) indexKey() string     { return r.KeyPrefix + ":index" }

// translateGetErr maps a redis miss onto the same not-found error the
// memory repository returns, so callers can match ErrNotFound without
// knowing which backing repo is configured.
func translateGetErr(op, id string, err error) error {
	if errors.Is(err, redis.Nil) {
		return svcerror.New(
			svcerror.ErrNotFound,
			svcerror.WithOp(op),
			svcerror.WithMsg(fmt.Sprintf(errFmtNotFound, id)),
			svcerror.WithCause(err),
		)
	}
	return svcerror.New(
		svcerror.ErrRepositoryError,
		svcerror.WithOp(op),
		svcerror.WithMsg(fmt.Sprintf("failed to load resource %s", id)),
		svcerror.WithCause(err),
	)
}

func (r RedisCache[T]) Load(ctx context.Context, id string) (T, error) {
	var zero, value T
	raw, err := r.Client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		return zero, translateGetErr("State.Redis.Load", id, err)
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("State.Redis.Load"),
			svcerror.WithMsg(fmt.Sprintf("failed to decode resource %s", id)),
			svcerror.WithCause(err),
		)
	}
	return value, nil
}

func (r RedisCache[T]) Save(ctx context.Context, entity T) error {
	id := r.IDFn(entity)
	raw, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("Error encoding resource %s: %w", id, err)
	}
	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, r.key(id), raw, r.TTL)
	pipe.SAdd(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("State.Redis.Save"),
			svcerror.WithMsg(fmt.Sprintf("failed to save resource %s", id)),
			svcerror.WithCause(err),
		)
	}
	return nil
}

func (r RedisCache[T]) Update(ctx context.Context, entity T) error {
	id := r.IDFn(entity)
	if _, err := r.Client.Get(ctx, r.key(id)).Result(); err != nil {
		return translateGetErr("State.Redis.Update", id, err)
	}
	return r.Save(ctx, entity)
}

func (r RedisCache[T]) Delete(ctx context.Context, id string) error {
	pipe := r.Client.TxPipeline()
	pipe.Del(ctx, r.key(id))
	pipe.SRem(ctx, r.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("State.Redis.Delete"),
			svcerror.WithMsg(fmt.Sprintf("failed to delete resource %s", id)),
			svcerror.WithCause(err),
		)
	}
	return nil
}

func (r RedisCache[T]) List(ctx context.Context) ([]T, error) {
	ids, err := r.Client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, svcerror.New(
			svcerror.ErrRepositoryError,
			svcerror.WithOp("State.Redis.List"),
			svcerror.WithMsg("failed to list resources"),
			svcerror.WithCause(err),
		)
	}
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		item, err := r.Load(ctx, id)
		if err != nil {
			// Expired entries linger in the index; skip them.
			continue
		}
		items = append(items, item)
	}
	return items, nil
}
