package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Slack posts to an incoming webhook.
type Slack struct {
	WebhookURL string
	Channel    string
	Username   string
	Client     *http.Client
}

func NewSlack(webhookURL, channel, username string) *Slack {
	return &Slack{
		WebhookURL: webhookURL,
		Channel:    channel,
		Username:   username,
		Client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(s.WebhookURL) == "" {
		return fmt.Errorf("slack webhook_url is empty")
	}
	payload := map[string]any{"text": text}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("slack status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
