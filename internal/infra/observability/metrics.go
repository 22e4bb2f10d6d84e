package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the agenda bot. A nil or disabled
// collector accepts every Record call and does nothing.
type MetricsCollector struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	// Hub metrics
	hubRequests      metric.Int64Counter
	hubLatency       metric.Float64Histogram
	hubEvents        metric.Int64Counter
	hubDroppedEvents metric.Int64Counter
	hubSubscribers   metric.Int64UpDownCounter

	// Scheduler metrics
	schedulerTicks metric.Int64Counter
	remindersFired metric.Int64Counter

	// Adapter metrics
	channelMessages metric.Int64Counter

	// HTTP server metrics
	httpRequests metric.Int64Counter
	httpLatency  metric.Float64Histogram

	testHooks MetricsTestHooks
}

// MetricsTestHooks exposes callbacks that tests can use to assert
// instrumentation without scraping the registry.
type MetricsTestHooks struct {
	HubRequest     func(kind string, duration time.Duration)
	DroppedEvent   func(origin string)
	ReminderFired  func(reminderType string)
	ChannelMessage func(channel, direction, status string)
}

// SetTestHooks registers callbacks invoked whenever the matching metric is
// recorded.
func (m *MetricsCollector) SetTestHooks(hooks MetricsTestHooks) {
	if m == nil {
		return
	}
	m.testHooks = hooks
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// NewMetricsCollector creates a collector backed by an OpenTelemetry meter
// provider exporting into its own Prometheus registry.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("agendabot")

	m := &MetricsCollector{provider: provider, registry: registry}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.hubRequests, "agendabot.hub.requests", "Requests handled by the hub", "{request}"},
		{&m.hubEvents, "agendabot.hub.events", "Events published by the hub", "{event}"},
		{&m.hubDroppedEvents, "agendabot.hub.events.dropped", "Events dropped because a subscriber was full", "{event}"},
		{&m.schedulerTicks, "agendabot.scheduler.ticks", "Scheduler evaluations", "{tick}"},
		{&m.remindersFired, "agendabot.reminders.fired", "Reminders signalled", "{reminder}"},
		{&m.channelMessages, "agendabot.channel.messages", "Messages seen by chat adapters", "{message}"},
		{&m.httpRequests, "agendabot.http.requests", "HTTP requests served", "{request}"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	if m.hubLatency, err = meter.Float64Histogram(
		"agendabot.hub.request.duration",
		metric.WithDescription("Time spent handling one request, including persistence"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create hub latency histogram: %w", err)
	}
	if m.httpLatency, err = meter.Float64Histogram(
		"agendabot.http.request.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http latency histogram: %w", err)
	}
	if m.hubSubscribers, err = meter.Int64UpDownCounter(
		"agendabot.hub.subscribers",
		metric.WithDescription("Adapters currently subscribed to hub events"),
		metric.WithUnit("{subscriber}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create subscriber gauge: %w", err)
	}
	return m, nil
}

// Enabled reports whether metrics are exported.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.registry != nil
}

// Handler serves the Prometheus exposition format. It answers 404 when
// metrics are disabled.
func (m *MetricsCollector) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the backing registry, or nil when disabled.
func (m *MetricsCollector) Gatherer() promclient.Gatherer {
	if !m.Enabled() {
		return nil
	}
	return m.registry
}

// Shutdown flushes and stops the meter provider.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordHubRequest records one handled request by command kind.
func (m *MetricsCollector) RecordHubRequest(ctx context.Context, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	if hook := m.testHooks.HubRequest; hook != nil {
		hook(kind, duration)
	}
	if m.hubRequests == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("command", kind))
	m.hubRequests.Add(ctx, 1, attrs)
	m.hubLatency.Record(ctx, duration.Seconds(), attrs)
}

// RecordHubEvent records one published event by address kind.
func (m *MetricsCollector) RecordHubEvent(ctx context.Context, address string) {
	if m == nil || m.hubEvents == nil {
		return
	}
	m.hubEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("address", address)))
}

// RecordDroppedEvent records an event a subscriber could not accept.
func (m *MetricsCollector) RecordDroppedEvent(ctx context.Context, origin string) {
	if m == nil {
		return
	}
	if hook := m.testHooks.DroppedEvent; hook != nil {
		hook(origin)
	}
	if m.hubDroppedEvents == nil {
		return
	}
	m.hubDroppedEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", origin)))
}

// AddSubscribers adjusts the live subscriber gauge by delta.
func (m *MetricsCollector) AddSubscribers(ctx context.Context, delta int64) {
	if m == nil || m.hubSubscribers == nil {
		return
	}
	m.hubSubscribers.Add(ctx, delta)
}

// RecordSchedulerTick records one scheduler evaluation.
func (m *MetricsCollector) RecordSchedulerTick(ctx context.Context) {
	if m == nil || m.schedulerTicks == nil {
		return
	}
	m.schedulerTicks.Add(ctx, 1)
}

// RecordReminderFired records a reminder signal.
func (m *MetricsCollector) RecordReminderFired(ctx context.Context, reminderType string) {
	if m == nil {
		return
	}
	if hook := m.testHooks.ReminderFired; hook != nil {
		hook(reminderType)
	}
	if m.remindersFired == nil {
		return
	}
	m.remindersFired.Add(ctx, 1, metric.WithAttributes(attribute.String("type", reminderType)))
}

// RecordChannelMessage records an adapter message. direction is "in" or
// "out"; status is "ok", "dropped" or "error".
func (m *MetricsCollector) RecordChannelMessage(ctx context.Context, channel, direction, status string) {
	if m == nil {
		return
	}
	if hook := m.testHooks.ChannelMessage; hook != nil {
		hook(channel, direction, status)
	}
	if m.channelMessages == nil {
		return
	}
	m.channelMessages.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("direction", direction),
		attribute.String("status", status),
	))
}

// RecordHTTPServerRequest records metrics for an HTTP request lifecycle
func (m *MetricsCollector) RecordHTTPServerRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil || m.httpRequests == nil {
		return
	}
	m.httpRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	))
	m.httpLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", route),
	))
}
