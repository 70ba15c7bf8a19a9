package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"callwatch/internal/config"
	"callwatch/internal/logging"
	"callwatch/internal/models"
)

// TwilioClient fetches call, message, and notification logs from the Twilio
// REST API. Pages may overlap across polls; the engine deduplicates on SID.
type TwilioClient struct {
	baseURL    string
	accountSID string
	authToken  string
	client     *http.Client
	logger     *logging.Logger
}

// NewTwilioClient builds a client from configuration.
func NewTwilioClient(cfg config.Config, logger *logging.Logger) *TwilioClient {
	return &TwilioClient{
		baseURL:    cfg.Twilio.BaseURL,
		accountSID: cfg.Twilio.AccountSID,
		authToken:  cfg.Twilio.AuthToken,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type callPage struct {
	Calls []struct {
		SID       string `json:"sid"`
		Status    string `json:"status"`
		StartTime string `json:"start_time"`
		From      string `json:"from"`
		To        string `json:"to"`
	} `json:"calls"`
}

type messagePage struct {
	Messages []struct {
		SID          string `json:"sid"`
		Status       string `json:"status"`
		DateSent     string `json:"date_sent"`
		ErrorCode    *int   `json:"error_code"`
		ErrorMessage string `json:"error_message"`
		From         string `json:"from"`
		To           string `json:"to"`
	} `json:"messages"`
}

type notificationPage struct {
	Notifications []struct {
		SID         string `json:"sid"`
		ErrorCode   string `json:"error_code"`
		MessageText string `json:"message_text"`
		MessageDate string `json:"message_date"`
	} `json:"notifications"`
}

// FetchSince pulls calls, messages, and diagnostic notifications newer than
// since and converts them to Events.
func (c *TwilioClient) FetchSince(ctx context.Context, since time.Time, pageSize int) ([]models.Event, error) {
	log := c.logger.WithComponent("twilio")
	var events []models.Event

	day := since.UTC().Format("2006-01-02")

	var calls callPage
	if err := c.get(ctx, "/Calls.json", url.Values{
		"StartTime>": []string{day},
		"PageSize":   []string{strconv.Itoa(pageSize)},
	}, &calls); err != nil {
		return nil, fmt.Errorf("failed to fetch calls: %w", err)
	}
	for _, cl := range calls.Calls {
		events = append(events, models.Event{
			SID:        cl.SID,
			Category:   models.CategoryCall,
			Timestamp:  parseTwilioTime(cl.StartTime),
			Status:     cl.Status,
			FromNumber: cl.From,
			ToNumber:   cl.To,
		})
	}

	var messages messagePage
	if err := c.get(ctx, "/Messages.json", url.Values{
		"DateSent>": []string{day},
		"PageSize":  []string{strconv.Itoa(pageSize)},
	}, &messages); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for _, m := range messages.Messages {
		ev := models.Event{
			SID:        m.SID,
			Category:   models.CategoryMessage,
			Timestamp:  parseTwilioTime(m.DateSent),
			Status:     m.Status,
			Message:    m.ErrorMessage,
			FromNumber: m.From,
			ToNumber:   m.To,
		}
		if m.ErrorCode != nil {
			ev.ErrorCode = strconv.Itoa(*m.ErrorCode)
		}
		events = append(events, ev)
	}

	var notifications notificationPage
	if err := c.get(ctx, "/Notifications.json", url.Values{
		"MessageDate>": []string{day},
		"PageSize":     []string{strconv.Itoa(pageSize)},
	}, &notifications); err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	for _, n := range notifications.Notifications {
		events = append(events, models.Event{
			SID:       n.SID,
			Category:  models.CategoryDiagnostic,
			Timestamp: parseTwilioTime(n.MessageDate),
			ErrorCode: n.ErrorCode,
			Message:   n.MessageText,
		})
	}

	log.Debugf("Fetched %d calls, %d messages, %d notifications since %s",
		len(calls.Calls), len(messages.Messages), len(notifications.Notifications), day)
	return events, nil
}

func (c *TwilioClient) get(ctx context.Context, path string, params url.Values, dst interface{}) error {
	u := fmt.Sprintf("%s/Accounts/%s%s?%s", c.baseURL, c.accountSID, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twilio API returned status %d for %s", resp.StatusCode, path)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// parseTwilioTime parses the RFC1123Z timestamps Twilio emits, falling back
// to now so a missing timestamp does not drop the record.
func parseTwilioTime(s string) time.Time {
	if t, err := time.Parse(time.RFC1123Z, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
