package admission

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Clock returns the current time.
type Clock func() time.Time

// Recorder receives every admission outcome, e.g. for metrics.
type Recorder interface {
	RecordAdmission(class, outcome string)
}

// DenialListener is notified of every request denial, after it is logged.
type DenialListener func(ctx context.Context, dec Decision, in Inbound)

// Controller applies the inspector and then the per-class sliding window.
type Controller struct {
	store     Store
	inspector Inspector
	recorder  Recorder
	onDenied  DenialListener
	logger    *zap.Logger
	now       Clock
}

// Option customises a Controller.
type Option func(*Controller)

// WithInspector sets the traffic inspector consulted before the counter.
func WithInspector(i Inspector) Option {
	return func(c *Controller) { c.inspector = i }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithDenialListener registers a callback for request denials.
func WithDenialListener(fn DenialListener) Option {
	return func(c *Controller) { c.onDenied = fn }
}

// WithLogger sets the logger used for denials.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock injects the time source used by AdmitRequest.
func WithClock(now Clock) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController builds a controller over the given store.
func NewController(store Store, opts ...Option) *Controller {
	c := &Controller{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Admit records an admission for class at now if the window has room.
// An error means the store could not decide; callers treat it as internal.
func (c *Controller) Admit(ctx context.Context, class Class, now time.Time) (Decision, error) {
	dec, err := c.store.Take(ctx, class, now)
	if err != nil {
		return Decision{}, fmt.Errorf("admission: take %s: %w", class, err)
	}
	dec.Class = class
	c.record(dec)
	return dec, nil
}

// AdmitRequest consults the inspector first. Bot and shield denials short-circuit
// and leave the class window untouched.
func (c *Controller) AdmitRequest(ctx context.Context, class Class, in Inbound) (Decision, error) {
	if c.inspector != nil {
		verdict, err := c.inspector.Classify(ctx, in)
		if err != nil {
			return Decision{}, fmt.Errorf("admission: inspect: %w", err)
		}
		var reason Reason
		switch {
		case verdict.SuspectedBot:
			reason = ReasonBotSuspected
		case verdict.ShieldTriggered:
			reason = ReasonShieldTriggered
		}
		if reason != ReasonNone {
			dec := Decision{Reason: reason, Class: class}
			c.record(dec)
			c.denied(ctx, dec, in, verdict.Detail)
			return dec, nil
		}
	}

	dec, err := c.Admit(ctx, class, c.now())
	if err != nil {
		return Decision{}, err
	}
	if !dec.Allowed {
		c.denied(ctx, dec, in, "")
	}
	return dec, nil
}

func (c *Controller) denied(ctx context.Context, dec Decision, in Inbound, detail string) {
	c.logDenied(dec, in, detail)
	if c.onDenied != nil {
		c.onDenied(ctx, dec, in)
	}
}

func (c *Controller) record(dec Decision) {
	if c.recorder != nil {
		c.recorder.RecordAdmission(string(dec.Class), dec.Outcome())
	}
}

func (c *Controller) logDenied(dec Decision, in Inbound, detail string) {
	fields := []zap.Field{
		zap.String("class", string(dec.Class)),
		zap.String("reason", string(dec.Reason)),
		zap.String("ip", in.IP),
		zap.String("user_agent", in.UserAgent),
		zap.String("method", in.Method),
		zap.String("path", in.Path),
	}
	if detail != "" {
		fields = append(fields, zap.String("detail", detail))
	}
	if dec.Reason == ReasonRateLimited {
		fields = append(fields, zap.Int("limit", dec.Limit), zap.Duration("retry_after", dec.RetryAfter))
	}
	c.logger.Warn("admission denied", fields...)
}
