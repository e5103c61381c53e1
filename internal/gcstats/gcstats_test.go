package gcstats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/incrementalgc/internal/gc"
	"github.com/dfinity-labs/incrementalgc/internal/hostmem"
)

func TestCollectorGathersWithoutError(t *testing.T) {
	mem := hostmem.NewSlice(0)
	rt := gc.NewRuntime(mem, 0, 2)
	rt.AllocBlob(16)

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(rt))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	var sawHeapSize bool
	for _, f := range families {
		if f.GetName() == "incrementalgc_heap_size_bytes" {
			sawHeapSize = true
			require.Len(t, f.Metric, 1)
			assert.Greater(t, f.Metric[0].GetGauge().GetValue(), float64(0))
		}
	}
	assert.True(t, sawHeapSize)
}
