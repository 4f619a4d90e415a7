package entitlement

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Resolution sources reported by the resolver.
const (
	ResolvedByOverride     = "override"
	ResolvedByTrialExpired = "trial_expired"
	ResolvedByRecord       = "record"
	ResolvedByDefault      = "default"
)

// Metrics manages Prometheus instrumentation for tier resolution.
type Metrics struct {
	resolutionsTotal *prometheus.CounterVec
	migrationsTotal  *prometheus.CounterVec
	overridesTotal   *prometheus.CounterVec
	backupsSwept     prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the process-wide metrics registered on the default
// registerer.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = NewMetrics(prometheus.DefaultRegisterer)
	})
	return metricsInstance
}

// NewMetrics registers the engine collectors on registerer. Collectors that
// are already registered are reused.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		resolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tierengine",
				Subsystem: "resolver",
				Name:      "resolutions_total",
				Help:      "Effective tier resolutions by deciding source",
			},
			[]string{"source"},
		),
		migrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tierengine",
				Subsystem: "migration",
				Name:      "runs_total",
				Help:      "Record migrations by result",
			},
			[]string{"result"},
		),
		overridesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tierengine",
				Subsystem: "override",
				Name:      "mutations_total",
				Help:      "Admin override mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		backupsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "tierengine",
				Subsystem: "migration",
				Name:      "backups_swept_total",
				Help:      "Migration backups removed by the retention sweep",
			},
		),
	}

	m.resolutionsTotal = registerCounterVec(registerer, m.resolutionsTotal)
	m.migrationsTotal = registerCounterVec(registerer, m.migrationsTotal)
	m.overridesTotal = registerCounterVec(registerer, m.overridesTotal)
	m.backupsSwept = registerCounter(registerer, m.backupsSwept)

	return m
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if alreadyRegisteredErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := alreadyRegisteredErr.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

func registerCounter(registerer prometheus.Registerer, counter prometheus.Counter) prometheus.Counter {
	if err := registerer.Register(counter); err != nil {
		if alreadyRegisteredErr, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := alreadyRegisteredErr.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
		panic(err)
	}
	return counter
}

func (m *Metrics) recordResolution(source string) {
	if m == nil || m.resolutionsTotal == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) recordMigration(result string) {
	if m == nil || m.migrationsTotal == nil {
		return
	}
	m.migrationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) recordOverride(op, result string) {
	if m == nil || m.overridesTotal == nil {
		return
	}
	m.overridesTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) recordBackupsSwept(n int) {
	if m == nil || m.backupsSwept == nil || n <= 0 {
		return
	}
	m.backupsSwept.Add(float64(n))
}
