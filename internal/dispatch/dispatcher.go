// Package dispatch executes rule and automation actions against
// external collaborators.
//
// Each action type has its own delivery policy:
//
//	show_content    one attempt, error returned to the caller
//	send_email      transient failures retried with exponential backoff
//	apply_discount  retried like send_email, idempotent per correlation id
//	track_event     best effort, failures logged and swallowed
//
// The dispatcher never holds engine locks; callers release any
// per-subscriber lock before dispatching.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/clock"
	"github.com/lumora/pulse/internal/ids"
	"github.com/lumora/pulse/internal/model"
)

// EmailSender delivers a templated email to an address.
type EmailSender interface {
	SendEmail(ctx context.Context, address, templateID string, personalization model.Object) error
}

// ContentPublisher publishes a content event for a subscriber.
type ContentPublisher interface {
	PublishContentEvent(ctx context.Context, subscriberID, contentID string, payload model.Object) error
}

// DiscountIssuer issues a discount. Issuance must be idempotent per
// correlation id so a retried call never produces a duplicate discount.
type DiscountIssuer interface {
	IssueDiscount(ctx context.Context, subscriberID, kind string, value float64, correlationID string) error
}

// AnalyticsSink records an analytics event.
type AnalyticsSink interface {
	RecordAnalyticsEvent(ctx context.Context, subscriberID, name string, properties model.Object) error
}

// Request carries one action to dispatch along with the subscriber
// context the collaborators need.
type Request struct {
	SubscriberID string
	// Contact is the subscriber's email address, used by send_email.
	Contact string
	// CorrelationID makes apply_discount idempotent. Automation steps
	// derive it from the instance and step; if empty a fresh id is
	// generated.
	CorrelationID string
	Action        model.RuleAction
}

// Options tune the dispatcher's retry and timeout behavior.
type Options struct {
	// CallTimeout bounds each collaborator call. Zero means 10s.
	CallTimeout time.Duration
	// MaxAttempts bounds retried actions. Zero means 3.
	MaxAttempts int
	// BackoffBase is the first retry delay, doubled per attempt.
	// Zero means 500ms.
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	return o
}

// Dispatcher routes actions to their collaborators.
type Dispatcher struct {
	email     EmailSender
	content   ContentPublisher
	discounts DiscountIssuer
	analytics AnalyticsSink

	opts   Options
	clock  clock.Clock
	idGen  ids.Generator
	logger *zap.Logger
}

// NewDispatcher wires the four collaborators. Any collaborator may be
// nil; actions routed to a nil collaborator fail permanently.
func NewDispatcher(email EmailSender, content ContentPublisher, discounts DiscountIssuer, analytics AnalyticsSink, opts Options, clk clock.Clock, idGen ids.Generator, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		email:     email,
		content:   content,
		discounts: discounts,
		analytics: analytics,
		opts:      opts.withDefaults(),
		clock:     clk,
		idGen:     idGen,
		logger:    logger,
	}
}

// Dispatch executes one action. The returned error reflects the final
// outcome after any retries; track_event never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	switch req.Action.Type {
	case model.ActionShowContent:
		return d.showContent(ctx, req)
	case model.ActionSendEmail:
		return d.sendEmail(ctx, req)
	case model.ActionApplyDiscount:
		return d.applyDiscount(ctx, req)
	case model.ActionTrackEvent:
		d.trackEvent(ctx, req)
		return nil
	default:
		return fmt.Errorf("unknown action type %q", req.Action.Type)
	}
}

func (d *Dispatcher) showContent(ctx context.Context, req Request) error {
	if d.content == nil {
		return fmt.Errorf("no content publisher configured")
	}
	contentID := paramString(req.Action.Params, "contentId")
	if contentID == "" {
		return fmt.Errorf("show_content for %s: missing contentId", req.SubscriberID)
	}
	payload, _ := req.Action.Params["payload"].(model.Object)

	ctx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()
	if err := d.content.PublishContentEvent(ctx, req.SubscriberID, contentID, payload); err != nil {
		return fmt.Errorf("publish content %s for %s: %w", contentID, req.SubscriberID, err)
	}
	return nil
}

func (d *Dispatcher) sendEmail(ctx context.Context, req Request) error {
	if d.email == nil {
		return fmt.Errorf("no email sender configured")
	}
	templateID := paramString(req.Action.Params, "templateId")
	if templateID == "" {
		return fmt.Errorf("send_email for %s: missing templateId", req.SubscriberID)
	}
	if req.Contact == "" {
		return fmt.Errorf("send_email for %s: no contact address", req.SubscriberID)
	}
	personalization, _ := req.Action.Params["personalization"].(model.Object)

	err := d.withRetry(ctx, "send_email", req.SubscriberID, func(ctx context.Context) error {
		return d.email.SendEmail(ctx, req.Contact, templateID, personalization)
	})
	if err != nil {
		return fmt.Errorf("send email %s to %s: %w", templateID, req.SubscriberID, err)
	}
	return nil
}

func (d *Dispatcher) applyDiscount(ctx context.Context, req Request) error {
	if d.discounts == nil {
		return fmt.Errorf("no discount issuer configured")
	}
	kind := paramString(req.Action.Params, "discountKind")
	value, ok := req.Action.Params["value"].(model.Number)
	if kind == "" || !ok {
		return fmt.Errorf("apply_discount for %s: missing discountKind or value", req.SubscriberID)
	}
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = d.idGen.NewID()
	}

	err := d.withRetry(ctx, "apply_discount", req.SubscriberID, func(ctx context.Context) error {
		return d.discounts.IssueDiscount(ctx, req.SubscriberID, kind, float64(value), correlationID)
	})
	if err != nil {
		return fmt.Errorf("issue %s discount for %s: %w", kind, req.SubscriberID, err)
	}
	return nil
}

func (d *Dispatcher) trackEvent(ctx context.Context, req Request) {
	if d.analytics == nil {
		return
	}
	name := paramString(req.Action.Params, "name")
	if name == "" {
		d.logger.Warn("track_event action missing name", zap.String("subscriber_id", req.SubscriberID))
		return
	}
	properties, _ := req.Action.Params["properties"].(model.Object)

	ctx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()
	if err := d.analytics.RecordAnalyticsEvent(ctx, req.SubscriberID, name, properties); err != nil {
		d.logger.Warn("analytics event dropped",
			zap.String("subscriber_id", req.SubscriberID),
			zap.String("name", name),
			zap.Error(err),
		)
	}
}

// withRetry runs fn up to MaxAttempts times, backing off exponentially
// between attempts. Only errors marked Transient are retried.
func (d *Dispatcher) withRetry(ctx context.Context, op, subscriberID string, fn func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err = d.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == d.opts.MaxAttempts {
			break
		}
		delay := d.opts.BackoffBase << (attempt - 1)
		d.logger.Debug("retrying dispatch",
			zap.String("op", op),
			zap.String("subscriber_id", subscriberID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if serr := d.sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("after %d attempts: %w", d.opts.MaxAttempts, err)
}

func (d *Dispatcher) attempt(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.CallTimeout)
	defer cancel()
	return fn(ctx)
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) error {
	timer := d.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func paramString(params model.Object, key string) string {
	s, _ := params[key].(model.String)
	return string(s)
}
