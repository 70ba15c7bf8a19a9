package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"callwatch/internal/engine"
	"callwatch/internal/models"
)

type googleChatConfig struct {
	WebhookURL string `json:"webhook_url"`
}

// GoogleChat delivers alerts to a Google Chat space webhook.
type GoogleChat struct {
	client *http.Client
}

// NewGoogleChat returns the Google Chat transport.
func NewGoogleChat() *GoogleChat {
	return &GoogleChat{client: &http.Client{Timeout: 30 * time.Second}}
}

// Send posts a simple text message to the configured space.
func (g *GoogleChat) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	var gCfg googleChatConfig
	if err := decodeConfig(action, &gCfg); err != nil {
		return err
	}
	if !strings.HasPrefix(gCfg.WebhookURL, "https://") {
		return engine.Permanent(fmt.Errorf("google_chat action %s requires an https webhook_url", action.ID))
	}

	text := fmt.Sprintf("*%s*\n```%s```", alertSubject(match), alertBody(match))
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return engine.Permanent(fmt.Errorf("failed to marshal chat message: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gCfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return engine.Permanent(fmt.Errorf("failed to create chat request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("google chat returned status %d", resp.StatusCode)
	}
	return nil
}
