// Package alert is the fan-out sink spec.md §4.8 describes: Telegram bot API
// sendMessage and Slack incoming webhook, each independent so one sink's
// failure cannot suppress the other. Directly grounded on
// original_source/src/alerting/alerting.py's send_telegram_alert /
// send_slack_alert / send_alert. No Telegram or Slack SDK appears anywhere
// in the retrieved pack, so this is built on net/http, same as that source
// builds it on requests.post (DESIGN.md).
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const telegramAPIBase = "https://api.telegram.org"

// Sinks fans a message out to Telegram and Slack. Either credential set may
// be absent, in which case that sink is silently skipped.
type Sinks struct {
	httpClient       *http.Client
	telegramAPIBase  string
	telegramBotToken string
	telegramChatID   string
	slackWebhookURL  string
}

// New builds a Sinks. Empty strings disable the corresponding sink.
func New(telegramBotToken, telegramChatID, slackWebhookURL string) *Sinks {
	return &Sinks{
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		telegramAPIBase:  telegramAPIBase,
		telegramBotToken: telegramBotToken,
		telegramChatID:   telegramChatID,
		slackWebhookURL:  slackWebhookURL,
	}
}

// Send fans message out to every configured sink. Each sink's failure is
// logged and does not affect the others; Send never returns an error
// (spec.md §4.8: "the alerter does not retry").
func (s *Sinks) Send(ctx context.Context, message string) {
	log.Info("alert: dispatching", "message", message)
	s.sendTelegram(ctx, message)
	s.sendSlack(ctx, message)
}

func (s *Sinks) sendTelegram(ctx context.Context, message string) {
	if s.telegramBotToken == "" || s.telegramChatID == "" {
		return
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.telegramAPIBase, s.telegramBotToken)
	payload := map[string]string{
		"chat_id": s.telegramChatID,
		"text":    message,
	}
	if err := s.post(ctx, url, payload); err != nil {
		log.Error("alert: telegram alert failed", "error", err)
	}
}

func (s *Sinks) sendSlack(ctx context.Context, message string) {
	if s.slackWebhookURL == "" {
		return
	}
	payload := map[string]string{"text": message}
	if err := s.post(ctx, s.slackWebhookURL, payload); err != nil {
		log.Error("alert: slack alert failed", "error", err)
	}
}

func (s *Sinks) post(ctx context.Context, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
