package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "github.com/yoockh/yoocall"

// Setup installs the global meter provider backed by the Prometheus exporter and
// returns the scrape handler. With metrics disabled it returns a no-op meter.
func Setup(ctx context.Context, serviceName, environment string, enabled bool, log *logrus.Logger) (metric.Meter, http.Handler, func(context.Context) error, error) {
	if !enabled {
		return noop.NewMeterProvider().Meter(meterName), nil, func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	exporter, err := prometheus.New()
	if err != nil {
		log.WithError(err).Warn("failed to initialize prometheus exporter")
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
		otel.SetMeterProvider(mp)
		return mp.Meter(meterName), nil, mp.Shutdown, nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	log.Info("metrics initialized (prometheus)")
	return mp.Meter(meterName), promhttp.Handler(), mp.Shutdown, nil
}

// Metrics holds the service instruments. A nil *Metrics records nothing.
type Metrics struct {
	sessions    metric.Int64Counter
	rejections  metric.Int64Counter
	answers     metric.Int64Counter
	submissions metric.Int64Counter
	speech      metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	sessions, err := meter.Int64Counter("yoocall_sessions_total", metric.WithDescription("Finished call sessions by outcome"))
	if err != nil {
		return nil, err
	}
	rejections, err := meter.Int64Counter("yoocall_channel_rejections_total", metric.WithDescription("Channels refused before a session existed"))
	if err != nil {
		return nil, err
	}
	answers, err := meter.Int64Counter("yoocall_answers_total", metric.WithDescription("Recorded answers by category"))
	if err != nil {
		return nil, err
	}
	submissions, err := meter.Int64Counter("yoocall_submissions_total", metric.WithDescription("Submission attempts by result"))
	if err != nil {
		return nil, err
	}
	speech, err := meter.Float64Histogram("yoocall_speech_latency_seconds",
		metric.WithDescription("Speech engine call latency"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		sessions:    sessions,
		rejections:  rejections,
		answers:     answers,
		submissions: submissions,
		speech:      speech,
	}, nil
}

// ObserveActive registers the live session gauge.
func ObserveActive(meter metric.Meter, active func() int) error {
	gauge, err := meter.Int64ObservableGauge("yoocall_sessions_active", metric.WithDescription("Sessions holding a registry slot"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(active()))
		return nil
	}, gauge)
	return err
}

func (m *Metrics) SessionFinished(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) ChannelRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) AnswerRecorded(ctx context.Context, category string) {
	if m == nil {
		return
	}
	m.answers.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

func (m *Metrics) Submission(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) SpeechCall(ctx context.Context, op string, seconds float64, ok bool) {
	if m == nil {
		return
	}
	m.speech.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("ok", ok),
	))
}
