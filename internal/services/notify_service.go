package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/mdrennan/bulwark/internal/models"
)

// Notifier delivers a security alert to administrators. Delivery is
// best-effort: callers never block the request path on it.
type Notifier interface {
	Notify(ctx context.Context, alert *models.SecurityAlert) error
}

// LogNotifier records alerts in the log instead of delivering them. Used
// when admin notifications are disabled.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the alert summary
func (n *LogNotifier) Notify(ctx context.Context, alert *models.SecurityAlert) error {
	n.logger.Info("admin notification suppressed, notifications disabled",
		slog.String("alert_type", alert.Type),
		slog.String("severity", alert.Severity),
	)
	return nil
}

// AWSSESNotifier sends admin notifications using AWS SES
type AWSSESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewAWSSESNotifier creates a new AWS SES notifier
func NewAWSSESNotifier(region, fromAddress string, recipients []string, logger *slog.Logger) (*AWSSESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESNotifier{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}, nil
}

// Notify emails the alert summary to the configured admin recipients
func (n *AWSSESNotifier) Notify(ctx context.Context, alert *models.SecurityAlert) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[%s] Security alert: %s", strings.ToUpper(alert.Severity), alert.Title)

	var details strings.Builder
	fmt.Fprintf(&details, "Type: %s\nSeverity: %s\nCreated: %s\n",
		alert.Type, alert.Severity, alert.CreatedAt.Format(time.RFC3339))
	if alert.IPAddress != nil {
		fmt.Fprintf(&details, "IP address: %s\n", *alert.IPAddress)
	}
	fmt.Fprintf(&details, "\n%s\n", alert.Description)
	for key, value := range alert.Metadata {
		fmt.Fprintf(&details, "  %s: %v\n", key, value)
	}

	textBody := fmt.Sprintf(`A security alert was raised.

%s
Review it in the admin console and resolve it once handled.
`, details.String())

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	if _, err := n.sesClient.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("failed to send alert notification: %w", err)
	}

	n.logger.Info("alert notification sent",
		slog.String("alert_type", alert.Type),
		slog.Int("recipients", len(n.recipients)),
	)

	return nil
}
