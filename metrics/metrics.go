// Package metrics gives every component its own scoped counters, gauges
// and meters, the way core/vote/vote_pool.go and eth/protocols/trust/metrics.go
// register theirs: a package-level var block of
// metrics.NewRegisteredCounter/Gauge/Meter calls under a name prefix.
package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry is the default, process-wide registry. Components may build
// their own via NewRegistry for isolated tests.
var Registry = gometrics.DefaultRegistry

func NewRegisteredCounter(name string, r gometrics.Registry) gometrics.Counter {
	if r == nil {
		r = Registry
	}
	c := gometrics.NewCounter()
	_ = r.Register(name, c)
	return c
}

func NewRegisteredGauge(name string, r gometrics.Registry) gometrics.Gauge {
	if r == nil {
		r = Registry
	}
	g := gometrics.NewGauge()
	_ = r.Register(name, g)
	return g
}

func NewRegisteredMeter(name string, r gometrics.Registry) gometrics.Meter {
	if r == nil {
		r = Registry
	}
	m := gometrics.NewMeter()
	_ = r.Register(name, m)
	return m
}

func NewRegisteredTimer(name string, r gometrics.Registry) gometrics.Timer {
	if r == nil {
		r = Registry
	}
	t := gometrics.NewTimer()
	_ = r.Register(name, t)
	return t
}

func NewRegistry() gometrics.Registry {
	return gometrics.NewRegistry()
}
