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

type webhookConfig struct {
	URL     string                 `json:"url"`
	Method  string                 `json:"method"`
	Headers map[string]string      `json:"headers"`
	Data    map[string]interface{} `json:"data"`
}

// Webhook delivers alerts by posting JSON to a configured URL.
type Webhook struct {
	client *http.Client
}

// NewWebhook returns the webhook transport.
func NewWebhook() *Webhook {
	return &Webhook{client: &http.Client{Timeout: 30 * time.Second}}
}

// Send posts the match payload to the action's URL. A custom `data` object in
// the configuration replaces the default payload entirely.
func (w *Webhook) Send(ctx context.Context, action models.Action, match models.MatchEvent) error {
	var wCfg webhookConfig
	if err := decodeConfig(action, &wCfg); err != nil {
		return err
	}
	if !strings.HasPrefix(wCfg.URL, "http://") && !strings.HasPrefix(wCfg.URL, "https://") {
		return engine.Permanent(fmt.Errorf("webhook action %s url must start with http:// or https://", action.ID))
	}

	method := strings.ToUpper(wCfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	if method != http.MethodPost && method != http.MethodPut {
		return engine.Permanent(fmt.Errorf("unsupported webhook method %q", wCfg.Method))
	}

	var payload interface{} = alertPayload(match)
	if len(wCfg.Data) > 0 {
		payload = wCfg.Data
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return engine.Permanent(fmt.Errorf("failed to marshal webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, wCfg.URL, bytes.NewReader(body))
	if err != nil {
		return engine.Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wCfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook to %s: %w", wCfg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook %s returned status %d", wCfg.URL, resp.StatusCode)
		// Client errors will not improve on retry, except throttling and
		// request timeouts.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout {
			return engine.Permanent(err)
		}
		return err
	}
	return nil
}
