// Package fallback delivers one model request through a sequence of provider
// tiers: the aggregator, the same model on its own vendor, then a fixed list
// of alternate models.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"conclave/internal/chat"
	"conclave/internal/config"
	"conclave/internal/llm"
	"conclave/internal/stream"
	"conclave/internal/tokens"
)

const (
	TierAggregator = 1
	TierDirect     = 2
	TierAutoRoute  = 3
)

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTraceWriter appends one JSON line per attempt to w.
func WithTraceWriter(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.trace = newTracer(w)
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator is safe for concurrent use; all per-request state lives in
// the call to StreamWithFallback.
type Orchestrator struct {
	routing  *config.Routing
	creds    config.Credentials
	adapters Adapters
	logger   *slog.Logger
	trace    *tracer
	now      func() time.Time
}

func New(routing *config.Routing, creds config.Credentials, adapters Adapters, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		routing:  routing,
		creds:    creds,
		adapters: adapters,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StreamWithFallback streams req through the first tier that completes.
// Events from a tier that fails before producing output never reach sink.
// It returns an *ExhaustedError when every tier fails, and the context or
// sink error unchanged when the request is abandoned.
func (o *Orchestrator) StreamWithFallback(ctx context.Context, req chat.Request, sink stream.Sink, counter *tokens.Counter) (chat.Result, error) {
	if counter == nil {
		counter = tokens.NewCounter()
	}
	if sink == nil {
		sink = stream.Discard
	}
	r := &run{o: o, req: req, sink: sink, counter: counter}
	aggCred := o.creds.Get(o.routing.Aggregator().Credential)
	aggregator := o.adapters.Aggregator
	if aggCred == "" {
		aggregator = nil
	}

	// Tier 1: the canonical id goes to the aggregator as is.
	if aggregator != nil {
		if res, done, err := r.attempt(ctx, TierAggregator, req.Model, config.VendorAggregator, aggregator, req.Model, aggCred); done {
			return res, err
		}
	} else {
		o.logger.Debug("tier skipped", "tier", TierAggregator, "model", req.Model, "reason", "no aggregator credential")
	}

	// Tier 2: same model on its own vendor.
	if route, adapter, cred, ok := o.direct(req.Model); ok {
		if res, done, err := r.attempt(ctx, TierDirect, req.Model, route.Vendor, adapter, route.Native, cred); done {
			return res, err
		}
	} else {
		o.logger.Debug("tier skipped", "tier", TierDirect, "model", req.Model, "reason", "no direct route")
	}

	// Tier 3: alternates on their own vendors, then through the aggregator.
	label := config.ProviderLabel(req.Model)
	for _, candidate := range o.routing.AutoRoute() {
		if candidate == req.Model {
			continue
		}
		route, adapter, cred, ok := o.direct(candidate)
		if !ok {
			continue
		}
		if err := r.reroute(candidate, label); err != nil {
			return chat.Result{}, err
		}
		if res, done, err := r.attempt(ctx, TierAutoRoute, candidate, route.Vendor, adapter, route.Native, cred); done {
			return res, err
		}
	}
	if aggregator != nil {
		for _, candidate := range o.routing.AutoRoute() {
			if candidate == req.Model {
				continue
			}
			if err := r.reroute(candidate, label); err != nil {
				return chat.Result{}, err
			}
			if res, done, err := r.attempt(ctx, TierAutoRoute, candidate, config.VendorAggregator, aggregator, candidate, aggCred); done {
				return res, err
			}
		}
	}

	o.logger.Error("all tiers exhausted", "model", req.Model, "attempts", len(r.attempts))
	return chat.Result{}, &ExhaustedError{Requested: req.Model, Attempts: r.attempts}
}

// direct resolves model to a direct-vendor route that has both a registered
// adapter and a configured credential.
func (o *Orchestrator) direct(model string) (config.Route, chat.Adapter, string, bool) {
	route, ok := o.routing.Lookup(model)
	if !ok || !route.Vendor.Direct() {
		return config.Route{}, nil, "", false
	}
	adapter := o.adapters.direct(route.Vendor)
	cred := o.creds.Get(route.CredentialKey)
	if adapter == nil || cred == "" {
		return config.Route{}, nil, "", false
	}
	return route, adapter, cred, true
}

// run is the state of one StreamWithFallback call.
type run struct {
	o        *Orchestrator
	req      chat.Request
	sink     stream.Sink
	counter  *tokens.Counter
	attempts []Attempt
}

func (r *run) reroute(candidate, label string) error {
	return stream.Forward(r.sink, stream.Rerouting{From: r.req.Model, To: candidate, Provider: label})
}

// attempt streams one tier. done reports whether the caller must stop and
// return (res, err) instead of moving to the next tier.
func (r *run) attempt(ctx context.Context, tier int, model string, vendor config.VendorKind, adapter chat.Adapter, native, credential string) (res chat.Result, done bool, err error) {
	if err := ctx.Err(); err != nil {
		return chat.Result{}, true, context.Cause(ctx)
	}

	tracked := &trackingSink{sink: r.sink}
	startOut := r.counter.Total()
	res, err = adapter.ReplyStream(ctx, chat.Call{
		Model:       native,
		Credential:  credential,
		Messages:    r.req.Messages,
		Tools:       r.req.Tools,
		MaxTokens:   r.req.MaxTokens,
		Temperature: r.req.Temperature,
	}, tracked, r.counter)
	estOut := r.counter.Total() - startOut

	if err == nil {
		res.Tier = tier
		res.ActualModel = model
		r.o.logger.Info("stream complete", "tier", tier, "requested", r.req.Model, "actual", model, "vendor", vendor)
		r.o.writeTrace(r.req.Model, tier, model, vendor, "ok", nil, estOut)
		return res, true, nil
	}

	a := Attempt{
		Tier:      tier,
		Model:     model,
		Vendor:    vendor,
		Err:       err,
		Retryable: IsRetryable(err),
		Status:    llm.StatusCode(err),
	}
	r.attempts = append(r.attempts, a)

	switch {
	case ctx.Err() != nil:
		r.o.writeTrace(r.req.Model, tier, model, vendor, "canceled", &a, estOut)
		return chat.Result{}, true, fmt.Errorf("%s: %w", model, context.Cause(ctx))
	case errors.Is(err, stream.ErrSinkClosed):
		r.o.writeTrace(r.req.Model, tier, model, vendor, "sink_closed", &a, estOut)
		return chat.Result{}, true, err
	case tracked.delivered > 0:
		r.o.logger.Error("stream interrupted",
			"tier", tier, "model", model, "vendor", vendor,
			"events", tracked.delivered, "retryable", a.Retryable, "status", a.Status, "error", err)
		r.o.writeTrace(r.req.Model, tier, model, vendor, "interrupted", &a, estOut)
		return chat.Result{}, true, &ExhaustedError{Requested: r.req.Model, Attempts: r.attempts, Interrupted: true}
	}

	r.o.logger.Warn("tier failed",
		"tier", tier, "model", model, "vendor", vendor,
		"retryable", a.Retryable, "status", a.Status, "error", err)
	r.o.writeTrace(r.req.Model, tier, model, vendor, "failed", &a, estOut)
	return chat.Result{}, false, nil
}

func (o *Orchestrator) writeTrace(requested string, tier int, model string, vendor config.VendorKind, outcome string, a *Attempt, estOut int) {
	rec := traceRecord{
		TS:           o.now().UTC(),
		Requested:    requested,
		Tier:         tier,
		Model:        model,
		Vendor:       string(vendor),
		Outcome:      outcome,
		TokensOutEst: estOut,
	}
	if a != nil {
		rec.Retryable = a.Retryable
		rec.Status = a.Status
		rec.Error = a.Err.Error()
	}
	if err := o.trace.write(rec); err != nil {
		o.logger.Warn("attempt trace write failed", "error", err)
	}
}

// trackingSink counts response content that reached the client. Once any
// has, another tier would repeat it.
type trackingSink struct {
	sink      stream.Sink
	delivered int
}

func (t *trackingSink) Emit(ev stream.Event) error {
	if err := t.sink.Emit(ev); err != nil {
		return err
	}
	if stream.Visible(t.sink, ev) {
		t.delivered++
	}
	return nil
}
