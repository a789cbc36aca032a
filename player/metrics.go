package player

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/njyeung/asciiplay/player"

// Metrics holds the playback instruments
type Metrics struct {
	// FramesRendered counts frames drawn to the terminal
	FramesRendered metric.Int64Counter

	// ConvertDuration tracks glyph conversion time. Use with attribute:
	//   attribute.String("stage", "inline"|"prefetch")
	ConvertDuration metric.Float64Histogram

	// RenderDuration tracks terminal write time per frame
	RenderDuration metric.Float64Histogram

	// CadenceOverruns counts cycles that finished after their deadline
	CadenceOverruns metric.Int64Counter

	// CacheLookups counts converted-frame lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// AudioResyncs counts seeks issued to realign audio. Use with attribute:
	//   attribute.String("reason", ...)
	AudioResyncs metric.Int64Counter

	// Commands counts applied control commands. Use with attribute:
	//   attribute.String("command", ...)
	Commands metric.Int64Counter
}

// frame-time buckets in seconds
var frameBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// NewMetrics creates the instruments on mp
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesRendered, err = m.Int64Counter("asciiplay.frames.rendered",
		metric.WithDescription("Frames drawn to the terminal."),
	); err != nil {
		return nil, err
	}
	if met.ConvertDuration, err = m.Float64Histogram("asciiplay.convert.duration",
		metric.WithDescription("Glyph conversion time per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RenderDuration, err = m.Float64Histogram("asciiplay.render.duration",
		metric.WithDescription("Terminal write time per frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CadenceOverruns, err = m.Int64Counter("asciiplay.cadence.overruns",
		metric.WithDescription("Cycles that missed their frame deadline."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("asciiplay.cache.lookups",
		metric.WithDescription("Converted frame cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.AudioResyncs, err = m.Int64Counter("asciiplay.audio.resyncs",
		metric.WithDescription("Audio seeks issued to realign with video by reason."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("asciiplay.commands",
		metric.WithDescription("Control commands applied by command."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns instruments on the global meter provider
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("player: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) recordConvert(ctx context.Context, stage string, d time.Duration) {
	m.ConvertDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) recordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) recordResync(ctx context.Context, reason string) {
	m.AudioResyncs.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) recordCommand(ctx context.Context, cmd Command) {
	name := commandNames[cmd.Kind]
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", name)))
}
