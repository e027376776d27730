package state

import (
	"context"
	"fmt"
	"time"

	"delivery-dispatch/pkg/utils"
)

type IDExtractor[T any] func(T) string

// Repository is the storage behind the fleet state store. The memory
// variant is the default; the redis variant backs multi-instance setups.
type Repository[T any] interface {
	Load(ctx context.Context, id string) (T, error)
	Save(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]T, error)
}

type RepositoryType string

const (
	RepositoryMemory RepositoryType = "memory"
	RepositoryRedis  RepositoryType = "cache"
)

func NewRepository[T any](ctx context.Context, repoType RepositoryType, keyPrefix string, idExtractor IDExtractor[T]) (Repository[T], error) {
	switch repoType {
	case RepositoryMemory:
		return NewMemoryRepo(idExtractor), nil
	case RepositoryRedis:
		redisConf := RedisConfig{
			Address:  utils.GetEnv("REDIS_CLIENT_ADDRESS", "redis:6379"),
			Password: utils.GetEnv("REDIS_CLIENT_PASSWORD", ""),
			DB:       0,
		}
		ttl, _ := time.ParseDuration(utils.GetEnv("REDIS_CLIENT_TTL", "0"))
		return NewRedisCache(ctx, redisConf, keyPrefix, ttl, idExtractor)
	default:
		return nil, fmt.Errorf("Failed to create Repository: Unsupported Repository Type %q", repoType)
	}
}
