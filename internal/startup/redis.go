package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/chatclient/internal/logger"
	redisstorage "github.com/chatclient/internal/storage/redis"
)

// ConnectMirrorWithRetry подключает зеркало изменений к Redis с повторами.
// В отличие от сервиса, клиент работает и без зеркала: после maxWait возвращается ошибка.
func ConnectMirrorWithRetry(ctx context.Context, redisURL, channel string, maxWait time.Duration) (*redisstorage.Mirror, error) {
	deadline := time.Now().Add(maxWait)
	backoff := 500 * time.Millisecond
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		mirror, err := redisstorage.New(attemptCtx, redisURL, channel)
		cancel()
		if err == nil {
			logger.Infof("redis mirror connected, channel=%s", channel)
			return mirror, nil
		}
		if time.Now().Add(backoff).After(deadline) {
			return nil, fmt.Errorf("startup.ConnectMirrorWithRetry: gave up after %v: %w", maxWait, err)
		}
		logger.Errorf("redis connect failed, retry in %v: %v", backoff, err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("startup.ConnectMirrorWithRetry: %w", ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
}
