package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumora/pulse/internal/clock"
	"github.com/lumora/pulse/internal/model"
	"github.com/lumora/pulse/internal/testutil"
)

type emailCall struct {
	address    string
	templateID string
}

type fakeEmail struct {
	calls []emailCall
	errs  []error
}

func (f *fakeEmail) SendEmail(_ context.Context, address, templateID string, _ model.Object) error {
	f.calls = append(f.calls, emailCall{address, templateID})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

type discountCall struct {
	subscriberID  string
	kind          string
	value         float64
	correlationID string
}

type fakeDiscounts struct {
	calls []discountCall
	errs  []error
}

func (f *fakeDiscounts) IssueDiscount(_ context.Context, subscriberID, kind string, value float64, correlationID string) error {
	f.calls = append(f.calls, discountCall{subscriberID, kind, value, correlationID})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

type fakeContent struct {
	calls int
	err   error
}

func (f *fakeContent) PublishContentEvent(_ context.Context, _, _ string, _ model.Object) error {
	f.calls++
	return f.err
}

type fakeAnalytics struct {
	calls int
	err   error
}

func (f *fakeAnalytics) RecordAnalyticsEvent(_ context.Context, _, _ string, _ model.Object) error {
	f.calls++
	return f.err
}

func testOptions() Options {
	return Options{
		CallTimeout: time.Second,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
	}
}

func newTestDispatcher(email *fakeEmail, content *fakeContent, discounts *fakeDiscounts, analytics *fakeAnalytics) *Dispatcher {
	return NewDispatcher(email, content, discounts, analytics,
		testOptions(), clock.System(), testutil.NewFixedIDGenerator("corr"), zap.NewNop())
}

func TestDispatch_SendEmail(t *testing.T) {
	email := &fakeEmail{}
	d := newTestDispatcher(email, nil, nil, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Contact:      "amelie@example.com",
		Action: model.RuleAction{
			Type:   model.ActionSendEmail,
			Params: model.Object{"templateId": model.String("welcome")},
		},
	})
	require.NoError(t, err)
	require.Len(t, email.calls, 1)
	assert.Equal(t, emailCall{"amelie@example.com", "welcome"}, email.calls[0])
}

func TestDispatch_SendEmailRetriesTransient(t *testing.T) {
	email := &fakeEmail{errs: []error{
		Transient(errors.New("connection reset")),
		Transient(errors.New("503")),
	}}
	d := newTestDispatcher(email, nil, nil, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Contact:      "amelie@example.com",
		Action: model.RuleAction{
			Type:   model.ActionSendEmail,
			Params: model.Object{"templateId": model.String("welcome")},
		},
	})
	require.NoError(t, err)
	assert.Len(t, email.calls, 3, "two transient failures then success")
}

func TestDispatch_SendEmailGivesUpAfterMaxAttempts(t *testing.T) {
	email := &fakeEmail{errs: []error{
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
		Transient(errors.New("timeout")),
	}}
	d := newTestDispatcher(email, nil, nil, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Contact:      "amelie@example.com",
		Action: model.RuleAction{
			Type:   model.ActionSendEmail,
			Params: model.Object{"templateId": model.String("welcome")},
		},
	})
	require.Error(t, err)
	assert.Len(t, email.calls, 3)
}

func TestDispatch_SendEmailPermanentFailureNotRetried(t *testing.T) {
	email := &fakeEmail{errs: []error{errors.New("unknown template")}}
	d := newTestDispatcher(email, nil, nil, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Contact:      "amelie@example.com",
		Action: model.RuleAction{
			Type:   model.ActionSendEmail,
			Params: model.Object{"templateId": model.String("bogus")},
		},
	})
	require.Error(t, err)
	assert.Len(t, email.calls, 1, "permanent errors are not retried")
}

func TestDispatch_SendEmailMissingContact(t *testing.T) {
	email := &fakeEmail{}
	d := newTestDispatcher(email, nil, nil, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Action: model.RuleAction{
			Type:   model.ActionSendEmail,
			Params: model.Object{"templateId": model.String("welcome")},
		},
	})
	require.Error(t, err)
	assert.Empty(t, email.calls)
}

func TestDispatch_ApplyDiscountUsesCorrelationID(t *testing.T) {
	discounts := &fakeDiscounts{errs: []error{Transient(errors.New("503"))}}
	d := newTestDispatcher(nil, nil, discounts, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID:  "sub_1",
		CorrelationID: "welcome-series:sub_1:0",
		Action: model.RuleAction{
			Type: model.ActionApplyDiscount,
			Params: model.Object{
				"discountKind": model.String("percentage"),
				"value":        model.Number(20),
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, discounts.calls, 2)
	assert.Equal(t, discounts.calls[0].correlationID, discounts.calls[1].correlationID,
		"retry reuses the correlation id so issuance stays idempotent")
	assert.Equal(t, "welcome-series:sub_1:0", discounts.calls[0].correlationID)
	assert.Equal(t, 20.0, discounts.calls[0].value)
}

func TestDispatch_ApplyDiscountGeneratesCorrelationID(t *testing.T) {
	discounts := &fakeDiscounts{}
	d := newTestDispatcher(nil, nil, discounts, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Action: model.RuleAction{
			Type: model.ActionApplyDiscount,
			Params: model.Object{
				"discountKind": model.String("fixed"),
				"value":        model.Number(5),
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, discounts.calls, 1)
	assert.Equal(t, "corr-1", discounts.calls[0].correlationID)
}

func TestDispatch_ShowContentNoRetry(t *testing.T) {
	content := &fakeContent{err: errors.New("bus unavailable")}
	d := newTestDispatcher(nil, content, nil, nil)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Action: model.RuleAction{
			Type:   model.ActionShowContent,
			Params: model.Object{"contentId": model.String("banner-1")},
		},
	})
	require.Error(t, err)
	assert.Equal(t, 1, content.calls)
}

func TestDispatch_TrackEventSwallowsFailure(t *testing.T) {
	analytics := &fakeAnalytics{err: errors.New("sink down")}
	d := newTestDispatcher(nil, nil, nil, analytics)

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Action: model.RuleAction{
			Type:   model.ActionTrackEvent,
			Params: model.Object{"name": model.String("rule_matched")},
		},
	})
	assert.NoError(t, err, "analytics failures never surface")
	assert.Equal(t, 1, analytics.calls)
}

func TestDispatch_UnknownActionType(t *testing.T) {
	d := newTestDispatcher(&fakeEmail{}, &fakeContent{}, &fakeDiscounts{}, &fakeAnalytics{})

	err := d.Dispatch(context.Background(), Request{
		SubscriberID: "sub_1",
		Action:       model.RuleAction{Type: "launch_rocket"},
	})
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(Transient(errors.New("flaky"))))
	assert.True(t, IsTransient(Transient(errors.New("wrapped"))))
	assert.NoError(t, Transient(nil))
}
