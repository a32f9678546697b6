package startup

import (
	"time"

	"github.com/gocql/gocql"

	"github.com/expertinthecity/internal/chatstore"
)

// ConnectScyllaWithRetry открывает сессию к хранилищу истории сообщений с повторами.
func ConnectScyllaWithRetry(hosts []string, keyspace string, maxWait time.Duration, logPrefix string) *gocql.Session {
	var session *gocql.Session
	retry(maxWait, logPrefix, "scylla", func() error {
		s, err := chatstore.NewSession(hosts, keyspace)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	return session
}
