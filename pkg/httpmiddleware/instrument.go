package httpmiddleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrument returns a middleware that wraps the handler with OpenTelemetry
// HTTP tracing and records a per-request counter on the given meter.
func Instrument(serviceName string, meterProvider metric.MeterProvider, tracerProvider trace.TracerProvider) Middleware {
	meter := meterProvider.Meter(serviceName)
	requests, err := meter.Int64Counter("http.server.requests")
	if err != nil {
		requests = nil
	}

	return func(next http.Handler) http.Handler {
		counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests != nil {
				requests.Add(r.Context(), 1,
					metric.WithAttributes(attribute.String("http.method", r.Method)),
				)
			}
			next.ServeHTTP(w, r)
		})
		return otelhttp.NewHandler(counted, serviceName,
			otelhttp.WithMeterProvider(meterProvider),
			otelhttp.WithTracerProvider(tracerProvider),
		)
	}
}
