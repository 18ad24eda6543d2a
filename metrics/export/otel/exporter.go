package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/guestauth"
	"github.com/MrEthical07/guestauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	flowInstrumentPrefix = "guestauth."
	flowInstrumentSuffix = ".events"

	validateLatencyBuckets = "guestauth.session.validate.latency.buckets"
	validateLatencyCount   = "guestauth.session.validate.latency.count"
	auditDroppedName       = "guestauth.audit.dropped"
)

type metricsSource interface {
	MetricsSnapshot() guestauth.MetricsSnapshot
	AuditDroppedByEvent() map[string]uint64
}

// flowOutcome is one engine counter reported as an outcome of its flow.
type flowOutcome struct {
	id    guestauth.MetricID
	attrs metric.ObserveOption
}

type flowInstrument struct {
	instrument metric.Int64ObservableCounter
	outcomes   []flowOutcome
}

// Exporter reports engine snapshots as one counter per authentication flow
// (login, two_factor, session, ...) with an outcome attribute.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	flows        []flowInstrument
	latencyID    guestauth.MetricID
	latencyLE    [8]metric.ObserveOption
	buckets      metric.Int64ObservableGauge
	count        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments on meter for a running engine.
func NewExporter(meter metric.Meter, engine *guestauth.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource registers instruments reading from source.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:    source,
		flows:     make([]flowInstrument, 0, len(internaldefs.Flows)),
		latencyID: guestauth.MetricValidateLatency,
	}
	observables := make([]metric.Observable, 0, len(internaldefs.Flows)+3)

	for _, flow := range internaldefs.Flows {
		name := flowInstrumentPrefix + flow.Name + flowInstrumentSuffix
		ins, err := meter.Int64ObservableCounter(name,
			metric.WithDescription(flow.Help),
			metric.WithUnit("{event}"),
		)
		if err != nil {
			return nil, fmt.Errorf("create flow counter %s: %w", name, err)
		}
		fi := flowInstrument{instrument: ins}
		for _, def := range internaldefs.CounterDefs {
			if def.Flow != flow.Name {
				continue
			}
			fi.outcomes = append(fi.outcomes, flowOutcome{
				id:    def.ID,
				attrs: metric.WithAttributes(attribute.String("outcome", def.Outcome)),
			})
		}
		exporter.flows = append(exporter.flows, fi)
		observables = append(observables, ins)
	}

	buckets, err := meter.Int64ObservableGauge(validateLatencyBuckets,
		metric.WithDescription("Cumulative access token validation latency buckets, by upper bound in seconds."),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	count, err := meter.Int64ObservableGauge(validateLatencyCount,
		metric.WithDescription("Access token validations observed."),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	for i, le := range internaldefs.HistogramBounds {
		exporter.latencyLE[i] = metric.WithAttributes(attribute.String("le", le))
	}
	exporter.buckets, exporter.count = buckets, count
	observables = append(observables, buckets, count)

	auditDropped, err := meter.Int64ObservableCounter(auditDroppedName,
		metric.WithDescription("Routine audit events shed on a full buffer, by event type."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.flows {
		for _, o := range f.outcomes {
			observer.ObserveInt64(f.instrument, int64(snapshot.Counters[o.id]), o.attrs)
		}
	}

	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[e.latencyID]))
	for i := range cumulative {
		observer.ObserveInt64(e.buckets, int64(cumulative[i]), e.latencyLE[i])
	}
	observer.ObserveInt64(e.count, int64(cumulative[len(cumulative)-1]))

	for event, n := range e.source.AuditDroppedByEvent() {
		observer.ObserveInt64(e.auditDropped, int64(n),
			metric.WithAttributes(attribute.String("event", event)))
	}
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
