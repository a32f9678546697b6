package handler

import (
	"net/http"

	"github.com/expertinthecity/internal/config"
)

// ConfigHandler отдаёт публичные параметры для клиента.
type ConfigHandler struct {
	cfg *config.Config
}

func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// ClientConfig: то, что браузер загружает до подключения к /ws.
type ClientConfig struct {
	AlertSoundURL string     `json:"alert_sound_url"`
	Push          PushConfig `json:"push"`
}

type PushConfig struct {
	Enabled        bool   `json:"enabled"`
	VAPIDPublicKey string `json:"vapid_public_key,omitempty"`
}

// GetClientConfig возвращает URL звука уведомления и VAPID-ключ (без авторизации).
func (h *ConfigHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	out := ClientConfig{AlertSoundURL: h.cfg.AlertSoundURL}
	if h.cfg.PushServiceURL != "" && h.cfg.PushVAPIDPublicKey != "" {
		out.Push = PushConfig{Enabled: true, VAPIDPublicKey: h.cfg.PushVAPIDPublicKey}
	}
	writeJSON(w, http.StatusOK, out)
}
