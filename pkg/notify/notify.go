package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/slack-go/slack"
)

// Notifier delivers best-effort, fire-and-forget messages. Implementations
// log failures and never surface them; a notification must not block or fail
// the ledger transition that triggered it.
type Notifier interface {
	Notify(ctx context.Context, recipient, message string)
}

// LogNotifier writes notifications to the log. It stands in for the external
// participant-messaging collaborator in tests and single-binary deployments.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, recipient, message string) {
	n.log.Info("notify", "recipient", recipient, "message", message)
}

// SlackAPI wraps the slack client methods used by SlackNotifier.
type SlackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type SlackNotifierConfig struct {
	Logger *slog.Logger
	// API overrides the client constructed from Token; used in tests.
	API     SlackAPI
	Token   string
	Channel string
}

func (cfg *SlackNotifierConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.API == nil {
		if cfg.Token == "" {
			return errors.New("slack token is required")
		}
		cfg.API = slack.New(cfg.Token)
	}
	if cfg.Channel == "" {
		return errors.New("slack channel is required")
	}
	return nil
}

// SlackNotifier posts operator-facing notifications to a Slack channel. The
// recipient is included in the message body; the channel is fixed.
type SlackNotifier struct {
	log *slog.Logger
	cfg SlackNotifierConfig
}

func NewSlackNotifier(cfg SlackNotifierConfig) (*SlackNotifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SlackNotifier{log: cfg.Logger, cfg: cfg}, nil
}

func (n *SlackNotifier) Notify(ctx context.Context, recipient, message string) {
	text := message
	if recipient != "" {
		text = recipient + ": " + message
	}
	if _, _, err := n.cfg.API.PostMessageContext(ctx, n.cfg.Channel, slack.MsgOptionText(text, false)); err != nil {
		n.log.Error("notify: slack post failed", "channel", n.cfg.Channel, "error", err)
	}
}
