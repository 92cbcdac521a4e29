// Package metrics captures billing engine health signals.
package metrics

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Billing run outcomes, kept low-cardinality on purpose.
const (
	RunOutcomeGenerated        = "generated"
	RunOutcomeAlreadyGenerated = "already_generated"
	RunOutcomeNotDue           = "not_due"
	RunOutcomeSuspended        = "suspended"
	RunOutcomeClosed           = "closed"
	RunOutcomeError            = "error"
)

// Config labels every instrument with the service identity.
type Config struct {
	ServiceName string
	Environment string
}

// BillingMetrics captures billing cycle and payment throughput signals.
type BillingMetrics struct {
	runs              *prometheus.CounterVec
	runDuration       prometheus.Histogram
	invoicesGenerated prometheus.Counter
	invoiceLinesTotal prometheus.Counter
	paymentsApplied   prometheus.Counter
	paymentsFailed    prometheus.Counter
	suspensions       prometheus.Counter
	sweepBatchSize    prometheus.Histogram
}

var (
	billingMetricsOnce sync.Once
	billingMetrics     *BillingMetrics
)

// Billing returns the singleton billing metrics registry.
func Billing() *BillingMetrics {
	return BillingWithConfig(Config{})
}

// BillingWithConfig returns the singleton billing metrics registry
// using config labels.
func BillingWithConfig(cfg Config) *BillingMetrics {
	billingMetricsOnce.Do(func() {
		billingMetrics = newBillingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return billingMetrics
}

// ResetBillingMetricsForTest resets the singleton for tests.
func ResetBillingMetricsForTest() {
	billingMetricsOnce = sync.Once{}
	billingMetrics = nil
}

func newBillingMetrics(registerer prometheus.Registerer, cfg Config) *BillingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "invora"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "invora_billing_runs_total",
		Help:        "Billing cycle runs by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invora_billing_run_duration_seconds",
		Help:        "Latency of one subscription's billing cycle run.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	})
	invoicesGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invora_invoices_generated_total",
		Help:        "Invoices generated by the billing cycle.",
		ConstLabels: constLabels,
	})
	invoiceLinesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invora_invoice_lines_total",
		Help:        "Invoice lines composed by the billing cycle.",
		ConstLabels: constLabels,
	})
	paymentsApplied := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invora_payments_applied_total",
		Help:        "Payments applied to invoice balances.",
		ConstLabels: constLabels,
	})
	paymentsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invora_payments_failed_total",
		Help:        "Payments that reached a terminal FAILED state.",
		ConstLabels: constLabels,
	})
	suspensions := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "invora_subscriptions_suspended_total",
		Help:        "Subscriptions suspended by the delinquency sweep.",
		ConstLabels: constLabels,
	})
	sweepBatchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "invora_billing_sweep_batch_size",
		Help:        "Subscriptions visited per scheduler sweep.",
		Buckets:     []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		ConstLabels: constLabels,
	})

	for _, c := range []prometheus.Collector{
		runs, runDuration, invoicesGenerated, invoiceLinesTotal,
		paymentsApplied, paymentsFailed, suspensions, sweepBatchSize,
	} {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}

	return &BillingMetrics{
		runs:              runs,
		runDuration:       runDuration,
		invoicesGenerated: invoicesGenerated,
		invoiceLinesTotal: invoiceLinesTotal,
		paymentsApplied:   paymentsApplied,
		paymentsFailed:    paymentsFailed,
		suspensions:       suspensions,
		sweepBatchSize:    sweepBatchSize,
	}
}

// ObserveRun records one billing cycle run for a subscription.
func (m *BillingMetrics) ObserveRun(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// InvoiceGenerated records one generated invoice with its line count.
func (m *BillingMetrics) InvoiceGenerated(lines int) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Inc()
	m.invoiceLinesTotal.Add(float64(lines))
}

// PaymentApplied records one payment applied to an invoice.
func (m *BillingMetrics) PaymentApplied() {
	if m == nil {
		return
	}
	m.paymentsApplied.Inc()
}

// PaymentFailed records one payment reaching FAILED.
func (m *BillingMetrics) PaymentFailed() {
	if m == nil {
		return
	}
	m.paymentsFailed.Inc()
}

// SubscriptionSuspended records one delinquency suspension.
func (m *BillingMetrics) SubscriptionSuspended() {
	if m == nil {
		return
	}
	m.suspensions.Inc()
}

// SweepVisited records how many subscriptions one sweep touched.
func (m *BillingMetrics) SweepVisited(n int) {
	if m == nil {
		return
	}
	m.sweepBatchSize.Observe(float64(n))
}
