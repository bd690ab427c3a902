// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package obs configures OpenTelemetry metrics for the proxy and defines
// the instruments every component records against.
//
// Grounded on internal/metrics.NewMeterFromEnv: a
// Prometheus reader always installed, with console or OTLP exporters
// added on top depending on OTEL_METRICS_EXPORTER/OTEL_SDK_DISABLED —
// generalized here from per-LLM-request token metrics to the image
// proxy's cache/origin/transform instruments.
package obs

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// NewMeterFromEnv configures an OpenTelemetry MeterProvider, always
// incorporating promReader, and optionally layering a console or OTLP
// exporter on top depending on environment variables:
//   - OTEL_SDK_DISABLED: "true" disables the optional exporters.
//   - OTEL_METRICS_EXPORTER: "none", "console", "prometheus", "otlp".
//   - OTEL_EXPORTER_OTLP_ENDPOINT / OTEL_EXPORTER_OTLP_METRICS_ENDPOINT:
//     enables OTLP if set.
func NewMeterFromEnv(ctx context.Context, stdout io.Writer, promReader sdkmetric.Reader) (metric.Meter, func(context.Context) error, error) {
	options := []sdkmetric.Option{sdkmetric.WithReader(promReader)}

	if os.Getenv("OTEL_SDK_DISABLED") != "true" {
		exporter := os.Getenv("OTEL_METRICS_EXPORTER")
		hasOTLPEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" ||
			os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT") != ""

		if exporter == "console" || (exporter != "none" && exporter != "prometheus" && hasOTLPEndpoint) {
			res, err := buildResource(ctx)
			if err != nil {
				return nil, nil, err
			}
			options = append(options, sdkmetric.WithResource(res))

			if exporter == "console" {
				exp, err := stdoutmetric.New(stdoutmetric.WithWriter(stdout))
				if err != nil {
					return nil, nil, err
				}
				options = append(options, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
			} else {
				otelReader, err := autoexport.NewMetricReader(ctx)
				if err != nil {
					return nil, nil, err
				}
				options = append(options, sdkmetric.WithReader(otelReader))
			}
		}
	}

	mp := sdkmetric.NewMeterProvider(options...)
	return mp.Meter("imgedge/proxy"), mp.Shutdown, nil
}

func buildResource(ctx context.Context) (*resource.Resource, error) {
	defaultRes := resource.Default()
	envRes, err := resource.New(ctx, resource.WithFromEnv(), resource.WithTelemetrySDK())
	if err != nil {
		return nil, err
	}
	// Hardcode "service.name" so we don't pin a semconv version just for
	// this one attribute.
	fallbackRes := resource.NewSchemaless(attribute.String("service.name", "imgedge-proxy"))
	res, err := resource.Merge(defaultRes, fallbackRes)
	if err != nil {
		return nil, err
	}
	return resource.Merge(res, envRes)
}

// Instruments holds the proxy's metric instruments, created once from a
// Meter at startup and passed by value through the request path.
type Instruments struct {
	RequestsTotal          metric.Int64Counter
	CacheHitsTotal         metric.Int64Counter
	CacheMissesTotal       metric.Int64Counter
	OriginFetchDuration    metric.Float64Histogram
	TransformDuration      metric.Float64Histogram
	OriginFetchErrorsTotal metric.Int64Counter
	BypassTotal            metric.Int64Counter
}

// NewInstruments creates every instrument this proxy records against.
func NewInstruments(meter metric.Meter) (Instruments, error) {
	var inst Instruments
	var err error

	if inst.RequestsTotal, err = meter.Int64Counter("imgedge.requests_total",
		metric.WithDescription("Total transform requests handled")); err != nil {
		return Instruments{}, err
	}
	if inst.CacheHitsTotal, err = meter.Int64Counter("imgedge.cache_hits_total",
		metric.WithDescription("Transform cache hits")); err != nil {
		return Instruments{}, err
	}
	if inst.CacheMissesTotal, err = meter.Int64Counter("imgedge.cache_misses_total",
		metric.WithDescription("Transform cache misses")); err != nil {
		return Instruments{}, err
	}
	if inst.OriginFetchDuration, err = meter.Float64Histogram("imgedge.origin_fetch_duration_ms",
		metric.WithDescription("Origin fetch latency in milliseconds"), metric.WithUnit("ms")); err != nil {
		return Instruments{}, err
	}
	if inst.TransformDuration, err = meter.Float64Histogram("imgedge.transform_duration_ms",
		metric.WithDescription("Transform primitive latency in milliseconds"), metric.WithUnit("ms")); err != nil {
		return Instruments{}, err
	}
	if inst.OriginFetchErrorsTotal, err = meter.Int64Counter("imgedge.origin_fetch_errors_total",
		metric.WithDescription("Origin fetch attempts that exhausted every configured origin")); err != nil {
		return Instruments{}, err
	}
	if inst.BypassTotal, err = meter.Int64Counter("imgedge.cache_bypass_total",
		metric.WithDescription("Requests that bypassed the transform cache")); err != nil {
		return Instruments{}, err
	}
	return inst, nil
}

// RecordCacheResult increments the hit or miss counter for origin kind
// attribution-free counting (cache lookups aren't scoped to an origin).
// Like the other Record helpers, it is a no-op on a zero Instruments so
// callers wired without metrics don't have to guard every call site.
func (i Instruments) RecordCacheResult(ctx context.Context, hit bool) {
	if hit {
		if i.CacheHitsTotal != nil {
			i.CacheHitsTotal.Add(ctx, 1)
		}
		return
	}
	if i.CacheMissesTotal != nil {
		i.CacheMissesTotal.Add(ctx, 1)
	}
}

// RecordOriginFetch records one origin fetch's outcome and latency,
// tagged with the origin kind so dashboards can break down latency and
// error rate by object-store vs. remote vs. fallback.
func (i Instruments) RecordOriginFetch(ctx context.Context, originKind string, durationMs float64, err error) {
	attrs := metric.WithAttributes(attribute.String("origin", originKind))
	if i.OriginFetchDuration != nil {
		i.OriginFetchDuration.Record(ctx, durationMs, attrs)
	}
	if err != nil && i.OriginFetchErrorsTotal != nil {
		i.OriginFetchErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordTransform records one transform primitive invocation's latency,
// tagged by output format.
func (i Instruments) RecordTransform(ctx context.Context, format string, durationMs float64) {
	if i.TransformDuration != nil {
		i.TransformDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("format", format)))
	}
}
