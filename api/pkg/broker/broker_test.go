package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winebot/controlplane/api/pkg/apierr"
	"github.com/winebot/controlplane/api/pkg/types"
)

func newTestBroker() *Broker {
	return New("session-test", true, nil)
}

func TestGrantThenCheckAccess(t *testing.T) {
	b := newTestBroker()
	require.NoError(t, b.GrantAgent(60))
	assert.True(t, b.CheckAccess())
	assert.Equal(t, types.ControlAgent, b.Snapshot().ControlMode)
}

func TestLeaseExpiryRevokesAccess(t *testing.T) {
	b := newTestBroker()
	fixed := time.Unix(1000, 0)
	b.now = func() time.Time { return fixed }

	require.NoError(t, b.GrantAgent(1))
	b.now = func() time.Time { return fixed.Add(2 * time.Second) }

	assert.False(t, b.CheckAccess())
	snap := b.Snapshot()
	assert.Equal(t, types.ControlUser, snap.ControlMode)
	assert.Equal(t, types.AgentStopping, snap.AgentStatus)
}

func TestUserActivityBetweenGrantAndRenewForbidsRenew(t *testing.T) {
	b := newTestBroker()
	require.NoError(t, b.GrantAgent(60))
	b.ReportUserActivity()

	err := b.RenewAgent(60)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, "no_control", apiErr.Reason)
}

func TestStopNowForbidsAllSubsequentAccessUntilNewGrant(t *testing.T) {
	b := newTestBroker()
	require.NoError(t, b.GrantAgent(60))

	b.SetUserIntent(types.IntentStopNow)
	assert.False(t, b.CheckAccess())
	assert.False(t, b.CheckAccess())

	require.NoError(t, b.GrantAgent(60))
	assert.True(t, b.CheckAccess())
}

func TestRenewFailsWhenStopNowPending(t *testing.T) {
	b := newTestBroker()
	require.NoError(t, b.GrantAgent(60))
	b.SetUserIntent(types.IntentStopNow)

	err := b.RenewAgent(60)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, "stop_requested", apiErr.Reason)
}

func TestNonInteractiveAlwaysGrantsAccess(t *testing.T) {
	b := New("session-implicit", false, nil)
	assert.True(t, b.CheckAccess())
	assert.True(t, b.CheckAccess())
}

func TestUpdateSessionRevokesOnSwitchToInteractive(t *testing.T) {
	b := New("s1", false, nil)
	b.UpdateSession("s1", false)
	assert.Equal(t, types.ControlAgent, b.Snapshot().ControlMode)

	b.UpdateSession("s1", true)
	snap := b.Snapshot()
	assert.True(t, snap.Interactive)
	assert.Equal(t, types.ControlUser, snap.ControlMode)
}
