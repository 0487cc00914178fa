// Package bot connects the Telegram Bot API to the run coordinator.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ashureev/claudebot/internal/delivery"
)

const pollTimeoutSeconds = 60

// Inbound is one text message from a chat user.
type Inbound struct {
	UserID    int64
	ChatID    int64
	MessageID int
	Text      string
}

// HandlerFunc consumes inbound messages.
type HandlerFunc func(ctx context.Context, in Inbound)

// Client wraps the Telegram Bot API.
type Client struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewClient authenticates with token and returns a client.
func NewClient(token string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	logger.Info("Telegram bot authorized", "username", api.Self.UserName)
	return &Client{api: api, logger: logger}, nil
}

// Username returns the bot's username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Send posts text to chatID and returns the new message id.
func (c *Client) Send(_ context.Context, chatID int64, text string) (int, error) {
	sent, err := c.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, transportError(err)
	}
	return sent.MessageID, nil
}

// Delete removes a message.
func (c *Client) Delete(_ context.Context, chatID int64, messageID int) error {
	if _, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return transportError(err)
	}
	return nil
}

// Poll receives updates by long polling until ctx is done. Updates queued
// while the bot was offline are dropped.
func (c *Client) Poll(ctx context.Context, handle HandlerFunc) error {
	if _, err := c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: true}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSeconds
	updates := c.api.GetUpdatesChan(u)
	c.logger.Info("Polling for updates")

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if in, ok := inboundFromUpdate(update); ok {
				handle(ctx, in)
			}
		}
	}
}

// SetWebhook registers url with Telegram. Updates then carry secret in the
// X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(url, secret string) error {
	params := tgbotapi.Params{"url": url}
	params.AddNonEmpty("secret_token", secret)
	params.AddBool("drop_pending_updates", true)
	if _, err := c.api.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	c.logger.Info("Webhook registered", "url", url)
	return nil
}

// WebhookHandler decodes webhook deliveries and hands them to handle with ctx.
func (c *Client) WebhookHandler(ctx context.Context, handle HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update, err := c.api.HandleUpdate(r)
		if err != nil {
			c.logger.Warn("Rejected webhook payload", "error", err)
			http.Error(w, `{"error": "invalid update"}`, http.StatusBadRequest)
			return
		}
		if in, ok := inboundFromUpdate(*update); ok {
			handle(ctx, in)
		}
		w.WriteHeader(http.StatusOK)
	}
}

func inboundFromUpdate(update tgbotapi.Update) (Inbound, bool) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || msg.Text == "" {
		return Inbound{}, false
	}
	return Inbound{
		UserID:    msg.From.ID,
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}, true
}

// transportError exposes Telegram's error code and retry_after hint.
func transportError(err error) error {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return &delivery.TransportError{
			Code:        apiErr.Code,
			Description: apiErr.Message,
			RetryAfter:  time.Duration(apiErr.RetryAfter) * time.Second,
			Err:         err,
		}
	}
	return err
}
