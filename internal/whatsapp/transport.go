// Package whatsapp provides the chat transports the bot speaks through.
// Two implementations exist: a native whatsmeow client that pairs via QR,
// and a thin HTTP client for an external gowa gateway.
package whatsapp

import (
	"context"
	"fmt"

	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
)

// Message is an inbound chat message, normalized across transports.
type Message struct {
	// From is the sender's phone number in digits, no plus sign.
	From     string
	Text     string
	PushName string
}

// Handler receives inbound messages. Implementations must be safe to call
// from the transport's own goroutines.
type Handler func(ctx context.Context, msg Message)

// Transport is the outbound+inbound chat channel.
type Transport interface {
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, phoneNumber, text string) error
	OnMessage(h Handler)
	Disconnect()
}

// New selects a transport from configuration.
func New(cfg config.WhatsAppConfig, log *logger.Logger) (Transport, error) {
	switch cfg.GetWhatsAppTransport() {
	case "whatsmeow", "":
		return NewWhatsmeow(cfg.GetWhatsAppStorePath(), log), nil
	case "gowa":
		gw := NewGowa(cfg, log)
		if gw == nil {
			return nil, fmt.Errorf("gowa transport selected but WHATSAPP_GOWA_URL is not set")
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown whatsapp transport %q", cfg.GetWhatsAppTransport())
	}
}
