package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionForwardOnly(t *testing.T) {
	si := &ServiceInstance{RunID: "run-1", Status: StatusNotStarted}

	require.NoError(t, si.Transition(StatusStarting))
	require.NoError(t, si.Transition(StatusHealthy))
	require.NoError(t, si.Transition(StatusStopped))
	assert.True(t, si.Terminal())
}

func TestTransitionRejectsBackward(t *testing.T) {
	si := &ServiceInstance{Status: StatusHealthy}
	err := si.Transition(StatusStarting)
	require.ErrorContains(t, err, "backward")
	assert.Equal(t, StatusHealthy, si.Status)
}

func TestTransitionRejectsFromTerminal(t *testing.T) {
	si := &ServiceInstance{Status: StatusStopped}
	require.Error(t, si.Transition(StatusHealthy))

	si = &ServiceInstance{Status: StatusFailed}
	require.Error(t, si.Transition(StatusStopped))
}

func TestTransitionFailedFromAnyNonTerminal(t *testing.T) {
	for _, from := range []InstanceStatus{StatusNotStarted, StatusStarting, StatusHealthy, StatusUnhealthy} {
		si := &ServiceInstance{Status: from}
		require.NoError(t, si.Transition(StatusFailed), "from %s", from)
		assert.True(t, si.Terminal())
	}
}

func TestHealthyUnhealthySameRank(t *testing.T) {
	// Starting can reach either verdict; the verdicts do not order each other
	si := &ServiceInstance{Status: StatusStarting}
	require.NoError(t, si.Transition(StatusUnhealthy))
	require.NoError(t, si.Transition(StatusStopped))
}
