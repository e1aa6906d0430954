package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatsEpochLossAccumulates(t *testing.T) {
	s := New("wk")
	s.AddEpochLoss(1.5, 2)
	s.AddEpochLoss(0.5, 1)
	assert.InDelta(t, 2.0, testutil.ToFloat64(s.epochLoss), 1e-9)
	assert.InDelta(t, 3.0, testutil.ToFloat64(s.epochWeight), 1e-9)

	s.ResetEpoch()
	assert.Zero(t, testutil.ToFloat64(s.epochLoss))
}

func TestStatsObservePullPush(t *testing.T) {
	s := New("ps")
	s.ObservePull(4)
	s.ObservePull(2)
	s.ObservePush(3)

	assert.InDelta(t, 2.0, testutil.ToFloat64(s.pullRequests), 1e-9)
	assert.InDelta(t, 6.0, testutil.ToFloat64(s.pullRows), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(s.pushRequests), 1e-9)
	assert.InDelta(t, 3.0, testutil.ToFloat64(s.pushRows), 1e-9)
}
