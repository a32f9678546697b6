package startup

import (
	"os"
	"time"

	"github.com/expertinthecity/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry повторяет attempt с экспоненциальной паузой до maxWait, затем завершает процесс.
// what: короткое имя зависимости в логе ("db", "redis", "scylla").
func retry(maxWait time.Duration, logPrefix, what string, attempt func() error) {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		err := attempt()
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
			os.Exit(1)
		}
		logger.Errorf("%s%s connect failed, retry in %v: %v", logPrefix, what, backoff, err)
		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
