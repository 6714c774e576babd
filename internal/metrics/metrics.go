package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification result labels.
const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultExpired  = "expired"
	ResultMismatch = "mismatch"
	ResultLocked   = "locked"
)

type OTPMetrics struct {
	Issued           prometheus.Counter
	DeliveryFailures prometheus.Counter
	Throttled        prometheus.Counter
	Verifications    *prometheus.CounterVec
	Swept            prometheus.Counter
}

func NewOTPMetrics(reg prometheus.Registerer) *OTPMetrics {
	f := promauto.With(reg)
	return &OTPMetrics{
		Issued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "devdeakin",
			Subsystem: "otp",
			Name:      "issued_total",
			Help:      "Codes generated and stored.",
		}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "devdeakin",
			Subsystem: "otp",
			Name:      "delivery_failures_total",
			Help:      "Codes whose email could not be delivered.",
		}),
		Throttled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "devdeakin",
			Subsystem: "otp",
			Name:      "resend_throttled_total",
			Help:      "Issue requests rejected by the resend limit.",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devdeakin",
			Subsystem: "otp",
			Name:      "verifications_total",
			Help:      "Verification attempts by result.",
		}, []string{"result"}),
		Swept: f.NewCounter(prometheus.CounterOpts{
			Namespace: "devdeakin",
			Subsystem: "otp",
			Name:      "swept_total",
			Help:      "Expired records removed by the sweeper.",
		}),
	}
}

// The helpers below accept a nil receiver so callers can run without metrics.

func (m *OTPMetrics) IncIssued() {
	if m != nil {
		m.Issued.Inc()
	}
}

func (m *OTPMetrics) IncDeliveryFailure() {
	if m != nil {
		m.DeliveryFailures.Inc()
	}
}

func (m *OTPMetrics) IncThrottled() {
	if m != nil {
		m.Throttled.Inc()
	}
}

func (m *OTPMetrics) IncVerification(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}

func (m *OTPMetrics) AddSwept(n int) {
	if m != nil && n > 0 {
		m.Swept.Add(float64(n))
	}
}
