package whatsapp

import (
	"context"
	"database/sql"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"outreach_backend/platform/logger"
)

const qrImagePath = "whatsapp-qr.png"

// Whatsmeow is a native WhatsApp transport with a local SQLite device store.
type Whatsmeow struct {
	client   *whatsmeow.Client
	storeDSN string
	handler  Handler
	log      *logger.Logger
}

// NewWhatsmeow creates a whatsmeow-backed transport. The DSN points at the
// SQLite file holding device credentials.
func NewWhatsmeow(storeDSN string, log *logger.Logger) *Whatsmeow {
	return &Whatsmeow{storeDSN: storeDSN, log: log}
}

func (w *Whatsmeow) initStore(ctx context.Context) (*sqlstore.Container, error) {
	dbLog := waLog.Stdout("Database", "ERROR", true)

	rawDB, err := sql.Open("sqlite", w.storeDSN)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}
	if _, err := rawDB.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		w.log.Warn("enable sqlite foreign keys failed", "error", err)
	}

	container := sqlstore.NewWithDB(rawDB, "sqlite", dbLog)
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade whatsapp store schema: %w", err)
	}

	return container, nil
}

// Connect pairs with WhatsApp. On first run it prints a QR code string and
// writes a PNG next to the binary; afterwards the stored device reconnects.
func (w *Whatsmeow) Connect(ctx context.Context) error {
	container, err := w.initStore(ctx)
	if err != nil {
		return err
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get whatsapp device: %w", err)
	}

	w.client = whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "ERROR", true))
	w.client.AddEventHandler(w.dispatch)

	if w.client.Store.ID == nil {
		qrChan, _ := w.client.GetQRChannel(ctx)
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}

		for evt := range qrChan {
			switch evt.Event {
			case "code":
				w.log.Info("scan QR code to pair", "code", evt.Code)
				if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 256, qrImagePath); err != nil {
					w.log.Warn("write QR image failed", "error", err)
				} else {
					w.log.Info("QR image written", "path", qrImagePath)
				}
			case "success":
				w.log.Info("whatsapp paired")
				return nil
			case "timeout":
				return fmt.Errorf("whatsapp QR pairing timed out")
			}
		}
		return fmt.Errorf("whatsapp QR channel closed before pairing")
	}

	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp reconnect: %w", err)
	}
	w.log.Info("whatsapp reconnected", "device", w.client.Store.ID.String())

	return nil
}

// SendMessage sends a plain text message to a phone number (digits only).
func (w *Whatsmeow) SendMessage(ctx context.Context, phoneNumber, text string) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not connected")
	}

	jid := types.NewJID(phoneNumber, types.DefaultUserServer)
	_, err := w.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", phoneNumber, err)
	}

	return nil
}

// OnMessage registers the inbound handler. Must be called before Connect.
func (w *Whatsmeow) OnMessage(h Handler) {
	w.handler = h
}

func (w *Whatsmeow) dispatch(rawEvt interface{}) {
	evt, ok := rawEvt.(*events.Message)
	if !ok || w.handler == nil {
		return
	}
	// Group chats and own echoes are not conversations we track.
	if evt.Info.IsGroup || evt.Info.IsFromMe {
		return
	}

	text := evt.Message.GetConversation()
	if text == "" {
		if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
			text = ext.GetText()
		}
	}
	if text == "" {
		return
	}

	w.handler(context.Background(), Message{
		From:     evt.Info.Sender.User,
		Text:     text,
		PushName: evt.Info.PushName,
	})
}

// Disconnect closes the WhatsApp connection.
func (w *Whatsmeow) Disconnect() {
	if w.client != nil {
		w.client.Disconnect()
		w.log.Info("whatsapp disconnected")
	}
}
