package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers engine alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

// discordMessage is the webhook request body. The username labels the posting
// bot so the channel shows where the alert came from.
type discordMessage struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// Send posts one alert to the webhook with the title in bold. Discord answers
// 204 No Content on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{
		Username: "stablemint",
		Content:  fmt.Sprintf("**%s**\n%s", title, message),
	}

	status, body, err := postJSON(ctx, d.client, d.webhookURL, msg)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("discord: unexpected status %d: %s", status, body)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
