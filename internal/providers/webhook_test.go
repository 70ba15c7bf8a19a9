package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callwatch/internal/engine"
	"callwatch/internal/models"
)

func webhookMatch() models.MatchEvent {
	return models.MatchEvent{
		RuleID:   uuid.New(),
		RuleName: "delivery failures",
		Event: models.Event{
			SID: "SM123", Category: models.CategoryMessage, Status: "failed", ErrorCode: "30002",
		},
	}
}

func webhookAction(config map[string]interface{}) models.Action {
	return models.Action{ID: uuid.New(), Kind: models.ActionWebhook, Config: config, Enabled: true}
}

func TestWebhookSendPostsPayload(t *testing.T) {
	var (
		gotMethod string
		gotBody   map[string]interface{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook()
	err := wh.Send(context.Background(), webhookAction(map[string]interface{}{"url": srv.URL}), webhookMatch())
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "SM123", gotBody["event_sid"])
	assert.Equal(t, "delivery failures", gotBody["rule_name"])
}

func TestWebhookCustomDataReplacesPayload(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
	}))
	defer srv.Close()

	wh := NewWebhook()
	err := wh.Send(context.Background(), webhookAction(map[string]interface{}{
		"url":  srv.URL,
		"data": map[string]interface{}{"text": "custom alert"},
	}), webhookMatch())
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"text": "custom alert"}, gotBody)
}

func TestWebhookCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	wh := NewWebhook()
	err := wh.Send(context.Background(), webhookAction(map[string]interface{}{
		"url":     srv.URL,
		"headers": map[string]interface{}{"Authorization": "Bearer token123"},
	}), webhookMatch())
	require.NoError(t, err)
	assert.Equal(t, "Bearer token123", gotAuth)
}

func TestWebhookClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook()
	err := wh.Send(context.Background(), webhookAction(map[string]interface{}{"url": srv.URL}), webhookMatch())
	require.Error(t, err)
	var pe *engine.PermanentError
	assert.ErrorAs(t, err, &pe)
}

func TestWebhookServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook()
	err := wh.Send(context.Background(), webhookAction(map[string]interface{}{"url": srv.URL}), webhookMatch())
	require.Error(t, err)
	var pe *engine.PermanentError
	assert.False(t, errors.As(err, &pe))
}

func TestWebhookThrottlingIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wh := NewWebhook()
	err := wh.Send(context.Background(), webhookAction(map[string]interface{}{"url": srv.URL}), webhookMatch())
	require.Error(t, err)
	var pe *engine.PermanentError
	assert.False(t, errors.As(err, &pe))
}

func TestWebhookRejectsBadConfig(t *testing.T) {
	wh := NewWebhook()

	cases := []struct {
		name   string
		config map[string]interface{}
	}{
		{"missing url", map[string]interface{}{}},
		{"non-http url", map[string]interface{}{"url": "ftp://example.com"}},
		{"unsupported method", map[string]interface{}{"url": "https://example.com", "method": "DELETE"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wh.Send(context.Background(), webhookAction(tc.config), webhookMatch())
			require.Error(t, err)
			var pe *engine.PermanentError
			assert.ErrorAs(t, err, &pe)
		})
	}
}
