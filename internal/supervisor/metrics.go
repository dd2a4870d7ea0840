package supervisor

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/warden-project/warden/supervisor"

// supervisorMetrics holds OTel instruments for the reconciliation
// loop. All methods are nil-safe so callers don't need to guard
// against disabled telemetry.
type supervisorMetrics struct {
	// reconcileTotal counts reconciliation cycles.
	reconcileTotal metric.Int64Counter

	// launchTotal counts worker launch attempts, labeled by outcome.
	launchTotal metric.Int64Counter

	// restartTotal counts relaunches after a failure, labeled by cause.
	restartTotal metric.Int64Counter

	// failedTotal counts sessions whose restart budget was exhausted.
	failedTotal metric.Int64Counter

	// activeWorkers is read by the observable gauge callback.
	activeWorkers atomic.Int64
}

// newSupervisorMetrics registers all instruments against the global
// MeterProvider. Returns a usable no-op struct when registration
// fails or no provider is configured.
func newSupervisorMetrics() (*supervisorMetrics, error) {
	m := otel.GetMeterProvider().Meter(meterName)
	sm := &supervisorMetrics{}

	var err error

	sm.reconcileTotal, err = m.Int64Counter("warden.supervisor.reconcile.total",
		metric.WithDescription("Total number of reconciliation cycles"),
	)
	if err != nil {
		return nil, err
	}

	sm.launchTotal, err = m.Int64Counter("warden.supervisor.launch.total",
		metric.WithDescription("Total number of worker launch attempts"),
	)
	if err != nil {
		return nil, err
	}

	sm.restartTotal, err = m.Int64Counter("warden.supervisor.restart.total",
		metric.WithDescription("Total number of worker relaunches after failure"),
	)
	if err != nil {
		return nil, err
	}

	sm.failedTotal, err = m.Int64Counter("warden.supervisor.failed.total",
		metric.WithDescription("Total number of sessions marked failed"),
	)
	if err != nil {
		return nil, err
	}

	workerGauge, err := m.Int64ObservableGauge("warden.supervisor.workers.active",
		metric.WithDescription("Workers currently tracked by the supervisor"),
	)
	if err != nil {
		return nil, err
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(workerGauge, sm.activeWorkers.Load())
		return nil
	}, workerGauge)
	if err != nil {
		return nil, err
	}

	return sm, nil
}

func (m *supervisorMetrics) recordReconcile() {
	if m == nil || m.reconcileTotal == nil {
		return
	}
	m.reconcileTotal.Add(context.Background(), 1)
}

func (m *supervisorMetrics) recordLaunch(outcome string) {
	if m == nil || m.launchTotal == nil {
		return
	}
	m.launchTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *supervisorMetrics) recordRestart(cause string) {
	if m == nil || m.restartTotal == nil {
		return
	}
	m.restartTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("cause", cause)))
}

func (m *supervisorMetrics) recordFailed() {
	if m == nil || m.failedTotal == nil {
		return
	}
	m.failedTotal.Add(context.Background(), 1)
}

func (m *supervisorMetrics) setActiveWorkers(n int) {
	if m == nil {
		return
	}
	m.activeWorkers.Store(int64(n))
}
