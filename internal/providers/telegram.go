package providers

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"golang.org/x/time/rate"

	"callwatch/internal/engine"
	"callwatch/internal/models"
)

type telegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// Telegram delivers alerts via the Telegram bot API, rate limited globally so
// a burst of matches does not trip the API's flood control.
type Telegram struct {
	limiter *rate.Limiter

	// serverURL overrides the bot API endpoint in tests.
	serverURL string
}

// NewTelegram returns the telegram transport.
func NewTelegram(perSecond int) *Telegram {
	if perSecond < 1 {
		perSecond = 1
	}
	return &Telegram{limiter: rate.NewLimiter(rate.Limit(float64(perSecond)), perSecond)}
}

// Send posts the alert text to the configured chat.
func (t *Telegram) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	var tCfg telegramConfig
	if err := decodeConfig(action, &tCfg); err != nil {
		return err
	}
	if tCfg.BotToken == "" {
		return engine.Permanent(fmt.Errorf("missing bot_token in telegram action %s", action.ID))
	}
	if tCfg.ChatID == 0 {
		return engine.Permanent(fmt.Errorf("missing chat_id in telegram action %s", action.ID))
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter: %w", err)
	}

	// WithSkipGetMe keeps construction off the network; only the send
	// itself can fail transiently.
	opts := []bot.Option{bot.WithSkipGetMe()}
	if t.serverURL != "" {
		opts = append(opts, bot.WithServerURL(t.serverURL))
	}
	b, err := bot.New(tCfg.BotToken, opts...)
	if err != nil {
		return engine.Permanent(fmt.Errorf("failed to initialize telegram bot for action %s: %w", action.ID, err))
	}

	text := fmt.Sprintf("*%s*\n\n%s", alertSubject(match), alertBody(match))
	_, err = b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    tCfg.ChatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return fmt.Errorf("failed to send telegram message to chat %d: %w", tCfg.ChatID, err)
	}
	return nil
}
