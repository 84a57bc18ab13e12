package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the bridge.
type Metrics struct {
	// Token lifecycle
	TokensIssued metric.Int64Counter
	AuthFailures metric.Int64Counter

	// Upstream provider traffic
	UpstreamExchanges metric.Int64Counter
	UpstreamRefreshes metric.Int64Counter

	// Registration and abuse
	ClientRegistered  metric.Int64Counter
	RateLimitExceeded metric.Int64Counter

	// Protocol sessions
	SessionsCreated metric.Int64Counter
	SessionsReaped  metric.Int64Counter
	SessionsLive    metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	meter := inst.meterProvider.Meter(scopePrefix + "bridge")
	m := &Metrics{}

	var err error
	m.TokensIssued, err = meter.Int64Counter(
		"bridge.tokens.issued",
		metric.WithDescription("Number of bridge tokens issued, by grant and token type"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.AuthFailures, err = meter.Int64Counter(
		"bridge.auth.failures",
		metric.WithDescription("Number of authentication failures, by reason"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth.failures counter: %w", err)
	}

	m.UpstreamExchanges, err = meter.Int64Counter(
		"bridge.upstream.exchanges",
		metric.WithDescription("Number of upstream code exchanges, by provider and outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.exchanges counter: %w", err)
	}

	m.UpstreamRefreshes, err = meter.Int64Counter(
		"bridge.upstream.refreshes",
		metric.WithDescription("Number of upstream token refreshes, by provider and outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream.refreshes counter: %w", err)
	}

	m.ClientRegistered, err = meter.Int64Counter(
		"bridge.clients.registered",
		metric.WithDescription("Number of dynamic client registrations"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create clients.registered counter: %w", err)
	}

	m.RateLimitExceeded, err = meter.Int64Counter(
		"bridge.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.SessionsCreated, err = meter.Int64Counter(
		"bridge.sessions.created",
		metric.WithDescription("Number of protocol sessions created"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.created counter: %w", err)
	}

	m.SessionsReaped, err = meter.Int64Counter(
		"bridge.sessions.reaped",
		metric.WithDescription("Number of protocol sessions closed by the idle reaper"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.reaped counter: %w", err)
	}

	m.SessionsLive, err = meter.Int64ObservableGauge(
		"bridge.sessions.live",
		metric.WithDescription("Number of currently live protocol sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sessions.live gauge: %w", err)
	}

	return m, nil
}

// RecordTokenIssued increments the token issuance counter.
func (i *Instrumentation) RecordTokenIssued(ctx context.Context, grant, tokenType string) {
	if i == nil {
		return
	}
	i.metrics.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant", grant),
		attribute.String("token_type", tokenType),
	))
}

// RecordAuthFailure increments the auth failure counter.
func (i *Instrumentation) RecordAuthFailure(ctx context.Context, reason string) {
	if i == nil {
		return
	}
	i.metrics.AuthFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordUpstreamExchange increments the upstream exchange counter.
func (i *Instrumentation) RecordUpstreamExchange(ctx context.Context, provider string, err error) {
	if i == nil {
		return
	}
	i.metrics.UpstreamExchanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordUpstreamRefresh increments the upstream refresh counter.
func (i *Instrumentation) RecordUpstreamRefresh(ctx context.Context, provider string, err error) {
	if i == nil {
		return
	}
	i.metrics.UpstreamRefreshes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome(err)),
	))
}

// RecordClientRegistered increments the registration counter.
func (i *Instrumentation) RecordClientRegistered(ctx context.Context) {
	if i == nil {
		return
	}
	i.metrics.ClientRegistered.Add(ctx, 1)
}

// RecordRateLimitExceeded increments the rate limit violation counter.
func (i *Instrumentation) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if i == nil {
		return
	}
	i.metrics.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordSessionCreated increments the session creation counter.
func (i *Instrumentation) RecordSessionCreated(ctx context.Context) {
	if i == nil {
		return
	}
	i.metrics.SessionsCreated.Add(ctx, 1)
}

// RecordSessionReaped increments the session reap counter.
func (i *Instrumentation) RecordSessionReaped(ctx context.Context) {
	if i == nil {
		return
	}
	i.metrics.SessionsReaped.Add(ctx, 1)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
