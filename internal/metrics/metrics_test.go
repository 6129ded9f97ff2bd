package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Purchase("Starter")
		m.GainsCredited(400)
		m.CommissionCredit(1, true)
		m.BonusAward("l1_15")
		m.WheelSpin("cash")
		m.StoreConflict(nil)
	})
}

func TestCounters(t *testing.T) {
	m := New()
	m.Purchase("Gold")
	m.Purchase("Gold")
	m.CommissionCredit(2, false)
	m.StoreConflict(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.purchases.WithLabelValues("Gold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commissionCredit.WithLabelValues("2", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeConflicts))
}
