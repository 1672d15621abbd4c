package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserve_SetsGauges(t *testing.T) {
	start := time.Now().Add(-2 * time.Second)
	Observe(start, 7, 4, 2)

	assert.Equal(t, 7.0, testutil.ToFloat64(queueDepth))
	assert.Equal(t, 4.0, testutil.ToFloat64(localWorkers))
	assert.Equal(t, 2.0, testutil.ToFloat64(remoteWorkers))
	assert.GreaterOrEqual(t, testutil.ToFloat64(runSeconds), 2.0)
}
