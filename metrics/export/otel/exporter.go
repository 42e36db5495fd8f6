package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	goReset "github.com/MrEthical07/goReset"
	"github.com/MrEthical07/goReset/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type observedSeries struct {
	value func(internaldefs.Sample) uint64
	attrs metric.MeasurementOption
}

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	series     []observedSeries
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source       internaldefs.Source
	registration metric.Registration
	families     []observedFamily

	latencyBuckets metric.Int64ObservableGauge
	latencyCount   metric.Int64ObservableGauge
	bucketAttrs    [8]metric.MeasurementOption
}

// NewOTelExporter registers instruments on meter for engine.
func NewOTelExporter(meter metric.Meter, engine *goReset.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers one observable counter per metric family,
// with the family label as an attribute, plus gauges for the verify latency buckets.
func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Families)+2)

	for _, fam := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", fam.Name, err)
		}
		of := observedFamily{instrument: ins}
		for _, s := range fam.Series {
			var set attribute.Set
			if fam.Label != "" {
				set = attribute.NewSet(attribute.String(fam.Label, s.LabelValue))
			}
			of.series = append(of.series, observedSeries{value: s.Value, attrs: metric.WithAttributeSet(set)})
		}
		e.families = append(e.families, of)
		observables = append(observables, ins)
	}

	h := internaldefs.VerifyLatency
	buckets, err := meter.Int64ObservableGauge(h.Name+"_bucket",
		metric.WithDescription(h.Help+" Cumulative count per upper bound."))
	if err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	count, err := meter.Int64ObservableGauge(h.Name+"_count", metric.WithDescription(h.Help+" Sample count."))
	if err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	e.latencyBuckets, e.latencyCount = buckets, count
	for i, le := range internaldefs.HistogramBounds {
		e.bucketAttrs[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	observables = append(observables, buckets, count)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	sample := internaldefs.Read(e.source)

	for _, fam := range e.families {
		for _, s := range fam.series {
			o.ObserveInt64(fam.instrument, int64(s.value(sample)), s.attrs)
		}
	}

	cumulative := internaldefs.CumulativeBuckets(sample.Snapshot.Histograms[internaldefs.VerifyLatency.ID])
	for i, v := range cumulative {
		o.ObserveInt64(e.latencyBuckets, int64(v), e.bucketAttrs[i])
	}
	o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
