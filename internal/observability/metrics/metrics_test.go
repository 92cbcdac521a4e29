package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newBillingMetrics(reg, Config{ServiceName: "invora-test", Environment: "test"})

	m.ObserveRun(RunOutcomeGenerated, 25*time.Millisecond)
	m.ObserveRun(RunOutcomeGenerated, 10*time.Millisecond)
	m.ObserveRun(RunOutcomeAlreadyGenerated, time.Millisecond)
	m.InvoiceGenerated(3)
	m.PaymentApplied()
	m.PaymentFailed()
	m.SubscriptionSuspended()
	m.SweepVisited(7)

	generated := m.runs.WithLabelValues(RunOutcomeGenerated)
	assert.Equal(t, 2.0, testutil.ToFloat64(generated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(RunOutcomeAlreadyGenerated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invoicesGenerated))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.invoiceLinesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentsApplied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.paymentsFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.suspensions))
}

func TestBillingMetrics_NilReceiverIsNoop(t *testing.T) {
	var m *BillingMetrics
	m.ObserveRun(RunOutcomeError, time.Second)
	m.InvoiceGenerated(1)
	m.PaymentApplied()
	m.PaymentFailed()
	m.SubscriptionSuspended()
	m.SweepVisited(0)
}

func TestBillingMetrics_DoubleRegisterTolerated(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		newBillingMetrics(reg, Config{})
		newBillingMetrics(reg, Config{})
	})
}
