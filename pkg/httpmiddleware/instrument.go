package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry provides the tracer and meter providers, as *app.Telemetry does.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Instrument traces each request with otelhttp, renames the span after the
// matched route and counts requests by route and status. Mount it on a chi
// router, before LogRequests.
func Instrument(service string, t Telemetry) (Middleware, error) {
	requests, err := t.MeterProvider().
		Meter("github.com/xenking/kart-shop/pkg/httpmiddleware").
		Int64Counter("http.server.requests",
			metric.WithDescription("Handled HTTP requests by route and status"),
			metric.WithUnit("{request}"),
		)
	if err != nil {
		return nil, errors.Wrap(err, "create request counter")
	}

	otelMW := otelhttp.NewMiddleware(service,
		otelhttp.WithTracerProvider(t.TracerProvider()),
		otelhttp.WithMeterProvider(t.MeterProvider()),
	)

	return func(next http.Handler) http.Handler {
		return otelMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			trace.SpanFromContext(r.Context()).SetName(r.Method + " " + route)
			if labeler, ok := otelhttp.LabelerFromContext(r.Context()); ok {
				labeler.Add(attribute.String("http.route", route))
			}
			requests.Add(r.Context(), 1, metric.WithAttributes(
				attribute.String("http.route", route),
				attribute.String("http.method", r.Method),
				attribute.Int("http.status_code", status),
			))
		}))
	}, nil
}
