package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisteredCounterIncrementsIndependently(t *testing.T) {
	r := NewRegistry()
	c := NewRegisteredCounter("tux3/test/counter", r)
	c.Inc(3)
	require.Equal(t, int64(3), c.Count())
	require.Same(t, c, r.Get("tux3/test/counter"))
}

func TestRegisteredGaugeUpdate(t *testing.T) {
	r := NewRegistry()
	g := NewRegisteredGauge("tux3/test/gauge", r)
	g.Update(42)
	require.Equal(t, int64(42), g.Value())
}

func TestNilRegistryFallsBackToDefault(t *testing.T) {
	c := NewRegisteredCounter("tux3/test/default_counter", nil)
	require.Same(t, c, Registry.Get("tux3/test/default_counter"))
}
