package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/expertinthecity/internal/logger"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("handler: encode response: %v", err)
	}
}

// writeError отдаёт {"error": msg}; формат совпадает с RecoverJSON.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryLimit читает ?limit=. Пустое, нечисловое или вне (0, max] значение заменяется на def.
func queryLimit(r *http.Request, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}
