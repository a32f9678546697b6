package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/expertinthecity/internal/logger"
	"github.com/expertinthecity/internal/model"
)

// Client вызывает микросервис пуш-уведомлений. Если URL пустой: методы no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой: пуши отключены.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled сообщает, настроен ли микросервис.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// Subscription: подписка из браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Valid проверяет обязательные поля подписки.
func (s Subscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// SubscribeRequest: тело запроса подписки.
type SubscribeRequest struct {
	UserID       string       `json:"user_id"`
	Subscription Subscription `json:"subscription"`
}

// UnsubscribeRequest: тело запроса отписки.
type UnsubscribeRequest struct {
	UserID   string `json:"user_id"`
	Endpoint string `json:"endpoint"`
}

// NotifyRequest: запрос на отправку уведомления.
type NotifyRequest struct {
	UserID string            `json:"user_id"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// AlertRequest строит запрос уведомления из алерта о новом сообщении.
func AlertRequest(userID string, a model.Alert) NotifyRequest {
	return NotifyRequest{
		UserID: userID,
		Title:  "ExpertInTheCity",
		Body:   a.Text,
		Data: map[string]string{
			"message_id":   a.ID,
			"chat_id":      a.ChatID,
			"action_label": a.ActionLabel,
			"url":          a.ActionPath,
		},
	}
}

// Subscribe сохраняет подписку для user_id на push-сервисе.
func (c *Client) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if c.baseURL == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/subscribe", SubscribeRequest{UserID: userID, Subscription: sub})
}

// Unsubscribe удаляет подписку по endpoint.
func (c *Client) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if c.baseURL == "" {
		return nil
	}
	return c.do(ctx, http.MethodDelete, "/api/subscribe", UnsubscribeRequest{UserID: userID, Endpoint: endpoint})
}

// NotifyAlert отправляет пуш пользователю без живого соединения. Ошибки только логируются.
func (c *Client) NotifyAlert(ctx context.Context, userID string, a model.Alert) {
	if c.baseURL == "" {
		return
	}
	if err := c.do(ctx, http.MethodPost, "/api/notify", AlertRequest(userID, a)); err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("push %s %s: %d", method, path, resp.StatusCode)
	}
	return nil
}
