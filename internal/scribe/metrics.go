package scribe

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-scribe/internal/scribe"

type instruments struct {
	tracer            trace.Tracer
	jobs              metric.Int64Counter
	captureSeconds    metric.Float64Histogram
	transcribeSeconds metric.Float64Histogram
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	jobs, err := meter.Int64Counter("scribe.jobs",
		metric.WithDescription("Finished record and upload jobs by source and outcome"))
	if err != nil {
		return nil, err
	}
	captureSeconds, err := meter.Float64Histogram("scribe.capture.duration",
		metric.WithDescription("Wall time spent recording and writing the audio artifact"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	transcribeSeconds, err := meter.Float64Histogram("scribe.transcribe.duration",
		metric.WithDescription("Recognizer latency per audio file"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &instruments{
		tracer:            otel.Tracer(instrumentationName),
		jobs:              jobs,
		captureSeconds:    captureSeconds,
		transcribeSeconds: transcribeSeconds,
	}, nil
}
