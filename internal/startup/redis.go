package startup

import (
	"context"
	"time"

	"github.com/expertinthecity/internal/logger"
	redisstorage "github.com/expertinthecity/internal/storage/redis"
)

// ConnectRedisWithRetry подключается к Redis с повторами.
// prefix: префикс ключей хранилища присутствия.
func ConnectRedisWithRetry(redisURL, prefix string, maxWait time.Duration, logPrefix string) *redisstorage.Client {
	var client *redisstorage.Client
	retry(maxWait, logPrefix, "redis", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(ctx, redisURL, prefix)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	logger.Debugf("%sredis connected", logPrefix)
	return client
}
