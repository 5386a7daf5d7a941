package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is satisfied by *goIdentity.Engine.
type Source interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
	ActivityDropped() uint64
}

type observedCounter struct {
	id         goIdentity.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      goIdentity.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	sum     metric.Float64ObservableGauge
}

type Exporter struct {
	source          Source
	registration    metric.Registration
	counters        []observedCounter
	histograms      []observedHistogram
	auditDropped    metric.Int64ObservableCounter
	activityDropped metric.Int64ObservableCounter
}

func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*10+2)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
			if err != nil {
				return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
			}
			h.buckets[i] = ins
			observables = append(observables, ins)
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		sumName := def.Name + "_sum"
		sumIns, err := meter.Float64ObservableGauge(sumName, metric.WithDescription("Histogram total observed seconds."), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("create histogram sum gauge %s: %w", sumName, err)
		}
		h.sum = sumIns
		observables = append(observables, countIns, sumIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	var err error
	exporter.auditDropped, err = meter.Int64ObservableCounter(
		"goidentity_audit_dropped_total",
		metric.WithDescription("Audit events dropped under backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.activityDropped, err = meter.Int64ObservableCounter(
		"goidentity_activity_dropped_total",
		metric.WithDescription("Session activity touches dropped under backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create activity dropped counter: %w", err)
	}
	observables = append(observables, exporter.auditDropped, exporter.activityDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i := range cumulative {
			observer.ObserveInt64(h.buckets[i], int64(cumulative[i]))
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		observer.ObserveFloat64(h.sum, snapshot.Sums[h.id].Seconds())
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	observer.ObserveInt64(e.activityDropped, int64(e.source.ActivityDropped()))
	return nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
