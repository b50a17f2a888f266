package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	TransitionsTotal    *prometheus.CounterVec
	TransitionsRejected prometheus.Counter
	ForgesCertified     prometheus.Counter
	AuditEntriesTotal   prometheus.Counter
	ChainVerifications  *prometheus.CounterVec
	CertificatesIssued  prometheus.Counter
	CertificatesRevoked prometheus.Counter
	LicensesCreated     prometheus.Counter
	LicenseUsageTotal   *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics with the default registry.
func New() *Metrics {
	return &Metrics{
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forgecert_transitions_total",
			Help: "Accepted pipeline transitions by target state",
		}, []string{"target"}),
		TransitionsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forgecert_transitions_rejected_total",
			Help: "Pipeline transitions rejected by validation",
		}),
		ForgesCertified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forgecert_forges_certified_total",
			Help: "Forges that reached the terminal certified state",
		}),
		AuditEntriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forgecert_audit_entries_total",
			Help: "Entries appended to the audit chain",
		}),
		ChainVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forgecert_chain_verifications_total",
			Help: "Audit chain verification runs by result",
		}, []string{"result"}),
		CertificatesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forgecert_certificates_issued_total",
			Help: "Certificates issued for certified forges",
		}),
		CertificatesRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forgecert_certificates_revoked_total",
			Help: "Certificates revoked",
		}),
		LicensesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "forgecert_licenses_created_total",
			Help: "Licenses created against active certificates",
		}),
		LicenseUsageTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "forgecert_license_usage_total",
			Help: "License usage attempts by outcome",
		}, []string{"outcome"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forgecert_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
