package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 记录许可证校验的结果
type Recorder interface {
	IncCheck(outcome string)
	ObserveCheckDuration(seconds float64)
}

// Noop 不记录任何指标
type Noop struct{}

func (Noop) IncCheck(string)              {}
func (Noop) ObserveCheckDuration(float64) {}

// Prom 基于 Prometheus 的实现
type Prom struct {
	checks   *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewProm 在 reg 上注册指标，reg 为 nil 时使用默认注册表
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_checks_total",
			Help:      "License checks by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "license_check_duration_seconds",
			Help:      "License check latency",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(p.checks, p.duration)
	return p
}

func (p *Prom) IncCheck(outcome string) {
	p.checks.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveCheckDuration(seconds float64) {
	p.duration.Observe(seconds)
}

// Handler 返回 /metrics 的 HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
