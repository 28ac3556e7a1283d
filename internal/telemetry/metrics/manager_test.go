package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	promcl "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CountersRegistered(t *testing.T) {
	manager, registry := NewTestManagerAndRegistry()

	manager.CounterRemindersFired.Inc()
	manager.CounterRemindersFired.Inc()
	manager.CounterNotificationsQueued.Inc()
	manager.GaugeActiveSessions.Set(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(manager.CounterRemindersFired))
	assert.Equal(t, float64(1), testutil.ToFloat64(manager.CounterNotificationsQueued))
	assert.Equal(t, float64(3), testutil.ToFloat64(manager.GaugeActiveSessions))

	gathered, err := registry.Gather()
	require.NoError(t, err)
	require.NotNil(t, gathered)

	var foundFiredCounter *promcl.MetricFamily
	for _, m := range gathered {
		if *m.Name == "backend_test_server_reminders_fired" {
			foundFiredCounter = m
			break
		}
	}
	if foundFiredCounter == nil {
		t.Fatal("reminders fired counter not gathered")
	}

	require.NotNil(t, foundFiredCounter.Metric)
	require.Len(t, foundFiredCounter.Metric, 1)
	assert.Equal(t, float64(2), foundFiredCounter.Metric[0].GetCounter().GetValue())
}

func TestManager_SeparateRegistries(t *testing.T) {
	first := NewTestManager()
	second := NewTestManager()

	first.CounterRemindersCreated.Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(first.CounterRemindersCreated))
	assert.Equal(t, float64(0), testutil.ToFloat64(second.CounterRemindersCreated))
}
