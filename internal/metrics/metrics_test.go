package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPromIncCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm("test", reg)

	p.IncCheck("ok")
	p.IncCheck("ok")
	p.IncCheck("not_found")
	p.ObserveCheckDuration(0.01)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.checks.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.checks.WithLabelValues("not_found")))
	assert.Equal(t, 1, testutil.CollectAndCount(p.duration))
}

func TestNoop(t *testing.T) {
	var r Recorder = Noop{}
	r.IncCheck("ok")
	r.ObserveCheckDuration(1)
}
