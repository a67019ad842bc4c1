// Package whatsmeow adapts a personal WhatsApp account as a channel:
// QR-code pairing, inbound events mapped to dispatcher messages, text
// sends for replies.
package whatsmeow

import (
	"context"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/haasonsaas/sidekick/internal/channels"
)

// InboundFunc receives every normalized inbound message.
type InboundFunc func(msg channels.InboundMessage)

// Adapter is the whatsmeow-backed channel. The session (device keys,
// pairing state) persists in a sqlite container next to the main store.
type Adapter struct {
	client  *whatsmeow.Client
	inbound InboundFunc
	logger  *slog.Logger
}

// New opens the session container and builds the client. Pairing state
// is loaded if present; Connect performs QR pairing otherwise.
func New(ctx context.Context, sessionPath string, inbound InboundFunc, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", sessionPath), waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to open whatsmeow store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load whatsmeow device: %w", err)
	}

	a := &Adapter{
		client:  whatsmeow.NewClient(device, waLog.Noop),
		inbound: inbound,
		logger:  logger.With("component", "whatsmeow"),
	}
	a.client.AddEventHandler(a.handleEvent)
	return a, nil
}

// Connect starts the client. A fresh session prints QR pairing codes to
// the log until the phone scans one.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.client.Store.ID == nil {
		qrChan, err := a.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := a.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					a.logger.Info("scan QR code to pair", slog.String("code", evt.Code))
				} else {
					a.logger.Info("pairing event", slog.String("event", evt.Event))
				}
			}
		}()
		return nil
	}
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect closes the connection.
func (a *Adapter) Disconnect() {
	a.client.Disconnect()
}

// SendMessage delivers a text to the handle (a phone number without the
// server suffix) and returns WhatsApp's message id.
func (a *Adapter) SendMessage(ctx context.Context, to, text string) (string, error) {
	jid := types.NewJID(to, types.DefaultUserServer)
	resp, err := a.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send whatsapp message: %w", err)
	}
	return string(resp.ID), nil
}

func (a *Adapter) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		if v.Info.IsFromMe || v.Info.IsGroup {
			return
		}
		text := extractText(v)
		if text == "" {
			return
		}
		a.inbound(channels.InboundMessage{
			ExternalID: string(v.Info.ID),
			From:       v.Info.Sender.User,
			Text:       text,
		})
	case *events.Disconnected:
		a.logger.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		a.logger.Warn("whatsapp session logged out, re-pairing required")
	}
}

func extractText(msg *events.Message) string {
	if t := msg.Message.GetConversation(); t != "" {
		return t
	}
	return msg.Message.GetExtendedTextMessage().GetText()
}
