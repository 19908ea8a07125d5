package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/phone"
)

// Gowa sends messages through an external go-whatsapp-web-multidevice
// gateway and receives inbound messages on a webhook.
type Gowa struct {
	baseURL  string
	apiKey   string
	deviceID string
	http     *http.Client
	handler  Handler
	log      *logger.Logger
}

type gowaSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type gowaWebhookPayload struct {
	SenderID string `json:"sender_id"`
	Pushname string `json:"pushname"`
	Message  struct {
		Text string `json:"text"`
	} `json:"message"`
}

// NewGowa creates a gateway client. Returns nil when no URL is configured.
func NewGowa(cfg config.WhatsAppConfig, log *logger.Logger) *Gowa {
	if cfg.GetGowaURL() == "" {
		return nil
	}

	return &Gowa{
		baseURL:  strings.TrimRight(cfg.GetGowaURL(), "/"),
		apiKey:   cfg.GetGowaAPIKey(),
		deviceID: cfg.GetGowaDeviceID(),
		http:     &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// Connect is a no-op; the gateway holds the WhatsApp session.
func (c *Gowa) Connect(ctx context.Context) error {
	return nil
}

// SendMessage posts a text message to the gateway.
func (c *Gowa) SendMessage(ctx context.Context, phoneNumber, text string) error {
	normalized := strings.TrimPrefix(phone.NormalizeE164(phoneNumber), "+")

	body, err := json.Marshal(gowaSendRequest{Phone: normalized, Message: text})
	if err != nil {
		return fmt.Errorf("marshal gowa payload: %w", err)
	}

	url := fmt.Sprintf("%s/send/message", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", formatAuthHeader(c.apiKey))
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gowa request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gowa returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return nil
}

// OnMessage registers the inbound handler fed by WebhookHandler.
func (c *Gowa) OnMessage(h Handler) {
	c.handler = h
}

// WebhookHandler returns the gin handler that receives the gateway's
// inbound-message callbacks.
func (c *Gowa) WebhookHandler() gin.HandlerFunc {
	return func(g *gin.Context) {
		var payload gowaWebhookPayload
		if err := g.ShouldBindJSON(&payload); err != nil {
			g.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}

		// Group chats are not conversations we track.
		if strings.HasSuffix(payload.SenderID, "@g.us") {
			g.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		text := strings.TrimSpace(payload.Message.Text)
		sender := strings.TrimSuffix(payload.SenderID, "@s.whatsapp.net")
		if text == "" || sender == "" {
			g.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		if c.handler != nil {
			c.handler(g.Request.Context(), Message{
				From:     phone.Digits(sender),
				Text:     text,
				PushName: payload.Pushname,
			})
		}

		g.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Disconnect is a no-op for the gateway transport.
func (c *Gowa) Disconnect() {}

func formatAuthHeader(apiKey string) string {
	if strings.HasPrefix(strings.ToLower(apiKey), "basic ") {
		return apiKey
	}

	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	return "Basic " + encoded
}
