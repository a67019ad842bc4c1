// Package channels defines the outbound messaging boundary and its
// adapters: a WhatsApp-style webhook reply client and a personal
// WhatsApp client via whatsmeow.
package channels

import "context"

// MessagingClient sends a text to a user handle and returns the
// provider's message id.
type MessagingClient interface {
	SendMessage(ctx context.Context, to, text string) (string, error)
}

// InboundMessage is one normalized delivery from any channel.
type InboundMessage struct {
	ExternalID string `json:"external_id"`
	From       string `json:"from"`
	Text       string `json:"text"`
}
