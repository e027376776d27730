package state

import (
	"errors"
	"testing"

	svcerror "delivery-dispatch/pkg/error"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestTranslateGetErr_MissMatchesNotFound(t *testing.T) {
	err := translateGetErr("State.Redis.Load", "order-1", redis.Nil)

	assert.True(t, errors.Is(err, svcerror.ErrNotFound),
		"redis miss must match the same sentinel as a memory-repo miss")
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestTranslateGetErr_FailureIsRepositoryError(t *testing.T) {
	cause := errors.New("connection refused")
	err := translateGetErr("State.Redis.Load", "order-1", cause)

	assert.True(t, errors.Is(err, svcerror.ErrRepositoryError))
	assert.False(t, errors.Is(err, svcerror.ErrNotFound))
	assert.True(t, errors.Is(err, cause))
}
