// Package alerting renders price alerts and delivers them over the configured channels.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"flight-price-alerts/internal/config"
	"flight-price-alerts/internal/domain"
	"flight-price-alerts/internal/logging"
)

// Alert is one rendered notification for a run.
type Alert struct {
	RunID      string
	Subject    string
	Body       string
	Candidates []domain.AlertCandidate
	CreatedAt  time.Time
}

// NewAlert renders candidates into an Alert.
func NewAlert(runID, subject string, candidates []domain.AlertCandidate) Alert {
	if subject == "" {
		subject = DefaultSubject
	}
	return Alert{
		RunID:      runID,
		Subject:    subject,
		Body:       RenderBody(candidates),
		Candidates: candidates,
		CreatedAt:  time.Now(),
	}
}

// Notifier delivers an alert over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert Alert) error
}

// ResultFunc observes the outcome of each channel delivery.
type ResultFunc func(channel string, err error)

// Multi fans an alert out to every channel and joins their errors.
type Multi struct {
	notifiers []Notifier
	onResult  ResultFunc
	logger    zerolog.Logger
}

// NewMulti wraps notifiers.
func NewMulti(logger zerolog.Logger, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, logger: logging.Component(logger, "alerting")}
}

// OnResult registers fn to be called after every channel delivery.
func (m *Multi) OnResult(fn ResultFunc) {
	m.onResult = fn
}

// Name lists the wrapped channels.
func (m *Multi) Name() string {
	return fmt.Sprintf("multi(%d)", len(m.notifiers))
}

// Len returns the number of channels.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify delivers to every channel, continuing past failures.
func (m *Multi) Notify(ctx context.Context, alert Alert) error {
	if len(m.notifiers) == 0 {
		m.logger.Warn().Str("run_id", alert.RunID).Msg("no alert channels configured; alert dropped")
		return nil
	}

	var errs []error
	for _, n := range m.notifiers {
		err := n.Notify(ctx, alert)
		if m.onResult != nil {
			m.onResult(n.Name(), err)
		}
		if err != nil {
			m.logger.Error().Err(err).Str("channel", n.Name()).Str("run_id", alert.RunID).Msg("alert delivery failed")
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases channel resources such as Kafka writers.
func (m *Multi) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// New builds the configured channels. Disabled alerting yields an empty Multi.
func New(cfg config.AlertingConfig, logger zerolog.Logger) (*Multi, error) {
	if !cfg.Enabled {
		return NewMulti(logger), nil
	}

	notifiers := make([]Notifier, 0, len(cfg.Channels))
	for _, channel := range cfg.Channels {
		switch channel {
		case config.ChannelEmail:
			notifiers = append(notifiers, NewEmailNotifier(cfg.Email, logger))
		case config.ChannelTelegram:
			notifiers = append(notifiers, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.Telegram.Timeout, logger))
		case config.ChannelKafka:
			notifiers = append(notifiers, NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger))
		default:
			return nil, fmt.Errorf("alerting channel %q is not supported", channel)
		}
	}
	return NewMulti(logger, notifiers...), nil
}

var _ Notifier = (*Multi)(nil)
