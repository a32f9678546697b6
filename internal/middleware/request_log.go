package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/expertinthecity/internal/logger"
)

// RequestLog пишет в лог метод, путь, код ответа и длительность запроса.
// Токен из ?token= в лог не попадает: пишется только путь.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := wrapWriter(w)
		next.ServeHTTP(sw, r)
		logger.LogDuration("http "+r.Method+" "+r.URL.Path+" "+strconv.Itoa(sw.status), start)
	})
}
