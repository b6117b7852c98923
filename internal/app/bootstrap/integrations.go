package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/appointment-scheduler/internal/calendar"
	appconfig "github.com/wolfman30/appointment-scheduler/internal/config"
	"github.com/wolfman30/appointment-scheduler/internal/notify"
	"github.com/wolfman30/appointment-scheduler/pkg/logging"
)

// BuildCalendarGateway selects the calendar backend from CALENDAR_PROVIDER.
func BuildCalendarGateway(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (calendar.Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	switch provider := strings.ToLower(strings.TrimSpace(cfg.CalendarProvider)); provider {
	case "", "memory":
		logger.Warn("using in-memory calendar; events are lost on restart")
		return calendar.NewMemoryGateway(), nil
	case "google":
		gw, err := calendar.NewGoogleGateway(ctx, calendar.GoogleConfig{
			CredentialsFile: cfg.GoogleCredentialsFile,
			Endpoint:        cfg.GoogleCalendarAPIURL,
			SendUpdates:     cfg.CalendarSendUpdates,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: google calendar: %w", err)
		}
		logger.Info("google calendar gateway enabled")
		return gw, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown calendar provider %q", provider)
	}
}

// BuildEmailSender selects the email provider. awsCfg is only consulted for
// SES. Misconfigured providers fall back to the stub sender.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewStubEmailSender(logger)
	}

	switch provider := strings.ToLower(strings.TrimSpace(cfg.EmailProvider)); provider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFrom,
			FromName:  cfg.EmailFromName,
		}, logger)
		if sender != nil {
			return sender
		}
		logger.Warn("sendgrid selected but SENDGRID_API_KEY empty; emails disabled")
	case "ses":
		if awsCfg != nil {
			return notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.EmailFrom,
				FromName:  cfg.EmailFromName,
			}, logger)
		}
		logger.Warn("ses selected but aws config unavailable; emails disabled")
	case "", "none":
	default:
		logger.Warn("unknown email provider; emails disabled", "provider", provider)
	}
	return notify.NewStubEmailSender(logger)
}
