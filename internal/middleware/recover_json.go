package middleware

import (
	"bufio"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/expertinthecity/internal/logger"
)

// statusWriter запоминает код ответа и факт записи заголовков.
// Hijack пробрасывается дальше: через него проходит upgrade на /ws.
type statusWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.wrote = true
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RecoverJSON перехватывает панику обработчика: пишет стек в лог и, если ответ ещё не начат,
// отдаёт {"error":"internal server error"} с кодом 500.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := wrapWriter(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Errorf("panic %s %s user=%s: %v\n%s", r.Method, r.URL.Path, GetUserID(r.Context()), rec, debug.Stack())
			if sw.wrote {
				return
			}
			sw.Header().Set("Content-Type", "application/json; charset=utf-8")
			sw.WriteHeader(http.StatusInternalServerError)
			sw.Write([]byte(`{"error":"internal server error"}` + "\n"))
		}()
		next.ServeHTTP(sw, r)
	})
}
