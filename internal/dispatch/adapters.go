package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/model"
)

// Collaborators bundles one implementation of every collaborator
// interface the dispatcher needs.
type Collaborators struct {
	Email     EmailSender
	Content   ContentPublisher
	Discounts DiscountIssuer
	Analytics AnalyticsSink
}

// NewLogCollaborators returns collaborators that log every delivery
// instead of calling external services. Used by the serve command when
// no real providers are configured.
func NewLogCollaborators(logger *zap.Logger) Collaborators {
	return Collaborators{
		Email:     &logEmailSender{logger: logger},
		Content:   &logContentPublisher{logger: logger},
		Discounts: &logDiscountIssuer{logger: logger},
		Analytics: &logAnalyticsSink{logger: logger},
	}
}

type logEmailSender struct {
	logger *zap.Logger
}

func (s *logEmailSender) SendEmail(ctx context.Context, address, templateID string, personalization model.Object) error {
	s.logger.Info("email sent",
		zap.String("address", address),
		zap.String("template_id", templateID),
		zap.Int("personalization_fields", len(personalization)))
	return nil
}

type logContentPublisher struct {
	logger *zap.Logger
}

func (p *logContentPublisher) PublishContentEvent(ctx context.Context, subscriberID, contentID string, payload model.Object) error {
	p.logger.Info("content event published",
		zap.String("subscriber_id", subscriberID),
		zap.String("content_id", contentID))
	return nil
}

type logDiscountIssuer struct {
	logger *zap.Logger
}

func (d *logDiscountIssuer) IssueDiscount(ctx context.Context, subscriberID, kind string, value float64, correlationID string) error {
	d.logger.Info("discount issued",
		zap.String("subscriber_id", subscriberID),
		zap.String("kind", kind),
		zap.Float64("value", value),
		zap.String("correlation_id", correlationID))
	return nil
}

type logAnalyticsSink struct {
	logger *zap.Logger
}

func (a *logAnalyticsSink) RecordAnalyticsEvent(ctx context.Context, subscriberID, name string, properties model.Object) error {
	a.logger.Info("analytics event recorded",
		zap.String("subscriber_id", subscriberID),
		zap.String("event", name))
	return nil
}
