// Package secrets resolves the environment-variable-backed credentials
// spec.md §6 lists. Every value except the node RPC URL is optional; its
// absence silently disables the dependent feature.
package secrets

import (
	"errors"
	"os"
)

// ErrMissingRPCURL is returned when the node RPC URL secret is unset — the
// one secret whose absence is a fatal configuration error (spec.md §6/§7).
var ErrMissingRPCURL = errors.New("secrets: RPC_NODE_URL is not set")

// Secrets holds every credential the auditor's external collaborators need.
type Secrets struct {
	RPCNodeURL        string
	AnalyticsAPIKey   string
	TelegramBotToken  string
	TelegramChatID    string
	SlackWebhookURL   string
}

// Load reads the secrets from the process environment.
func Load() (*Secrets, error) {
	s := &Secrets{
		RPCNodeURL:       os.Getenv("RPC_NODE_URL"),
		AnalyticsAPIKey:  os.Getenv("ANALYTICS_API_KEY"),
		TelegramBotToken: os.Getenv("TELEGRAM_API_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		SlackWebhookURL:  os.Getenv("SLACK_WEBHOOK_URL"),
	}
	if s.RPCNodeURL == "" {
		return nil, ErrMissingRPCURL
	}
	return s, nil
}

// TelegramEnabled reports whether both Telegram credentials are present.
func (s *Secrets) TelegramEnabled() bool {
	return s.TelegramBotToken != "" && s.TelegramChatID != ""
}

// SlackEnabled reports whether the Slack webhook URL is present.
func (s *Secrets) SlackEnabled() bool {
	return s.SlackWebhookURL != ""
}

// AnalyticsEnabled reports whether the analytics API key is present.
func (s *Secrets) AnalyticsEnabled() bool {
	return s.AnalyticsAPIKey != ""
}
