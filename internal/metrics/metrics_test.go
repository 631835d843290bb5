package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	// Registering twice must fail rather than silently double count.
	assert.Error(t, Register(reg))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(Ticks.WithLabelValues("auto"))
	Ticks.WithLabelValues("auto").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Ticks.WithLabelValues("auto")))

	Viewers.WithLabelValues("mjpeg").Set(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(Viewers.WithLabelValues("mjpeg")))
}
