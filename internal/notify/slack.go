package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// SlackSender dispatches a reservation notification to a Slack channel.
type SlackSender struct {
	api            *goslack.Client
	defaultChannel string
}

// NewSlackSender builds a SlackSender bound to a bot token. defaultChannel
// is used when a tenant has not configured its own channel.
func NewSlackSender(botToken, defaultChannel string) *SlackSender {
	return &SlackSender{
		api:            goslack.New(botToken),
		defaultChannel: defaultChannel,
	}
}

// Send posts text to channel, falling back to the default channel if channel
// is empty.
func (s *SlackSender) Send(channel, text string) error {
	if channel == "" {
		channel = s.defaultChannel
	}
	if channel == "" {
		return fmt.Errorf("notify: no slack channel configured")
	}

	_, _, err := s.api.PostMessage(channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify: slack postMessage: %w", err)
	}
	return nil
}
