package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jkaninda/okapi"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TelemetryMiddleware records per-request metrics and opens one span per
// request, closing it with the response status. Either collaborator may
// be nil; the middleware records whatever is present.
func TelemetryMiddleware(metrics *MetricsCollector, tracer trace.Tracer) okapi.Middleware {
	return func(next okapi.HandlerFunc) okapi.HandlerFunc {
		return func(c *okapi.Context) error {
			r := c.Request()

			var span trace.Span
			if tracer != nil {
				_, span = tracer.Start(r.Context(), "http.request",
					trace.WithAttributes(
						attribute.String("http.method", r.Method),
						attribute.String("http.path", r.URL.Path),
					))
			}

			if metrics != nil {
				metrics.ActiveRequests.Inc()
				defer metrics.ActiveRequests.Dec()
			}

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			code := c.Response().StatusCode()
			if code == 0 {
				code = http.StatusOK
			}

			if metrics != nil {
				metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(code)).Inc()
				metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
			}

			if span != nil {
				span.SetAttributes(attribute.Int("http.status_code", code))
				if code >= http.StatusInternalServerError {
					span.SetStatus(codes.Error, http.StatusText(code))
				}
				span.End()
			}

			return err
		}
	}
}
