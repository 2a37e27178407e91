package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTotal counts checkout attempts by outcome.
	CheckoutTotal *prometheus.CounterVec
	// CheckoutInvoiceTotal observes invoice grand totals in minor units.
	CheckoutInvoiceTotal prometheus.Histogram
	// InvoiceStatusTransitions counts payment status changes.
	InvoiceStatusTransitions *prometheus.CounterVec
	// NotificationTasksTotal counts notification task outcomes per topic and stage.
	NotificationTasksTotal *prometheus.CounterVec
	// CatalogCacheRequests counts catalog cache lookups by result.
	CatalogCacheRequests *prometheus.CounterVec
	// MediaUploadsTotal counts product image uploads by driver and result.
	MediaUploadsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_total",
			Help:      "Count of checkout attempts by result.",
		}, []string{"result"}))
		CheckoutInvoiceTotal = registerCollector(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkout_invoice_total_minor",
			Help:      "Distribution of invoice grand totals in minor currency units.",
			Buckets:   prometheus.ExponentialBuckets(10000, 2, 12),
		}))
		InvoiceStatusTransitions = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_status_transitions_total",
			Help:      "Count of invoice payment status transitions.",
		}, []string{"from", "to"}))
		NotificationTasksTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_tasks_total",
			Help:      "Count of notification tasks by topic, stage and result.",
		}, []string{"topic", "stage", "result"}))
		CatalogCacheRequests = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_requests_total",
			Help:      "Count of catalog cache lookups by result.",
		}, []string{"result"}))
		MediaUploadsTotal = registerCollector(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_uploads_total",
			Help:      "Count of product image uploads by storage driver and result.",
		}, []string{"driver", "result"}))
	})
}

// ObserveCheckout records a checkout outcome. It is a no-op before registration.
func ObserveCheckout(result string) {
	if CheckoutTotal != nil {
		CheckoutTotal.WithLabelValues(result).Inc()
	}
}

// ObserveInvoiceTotal records the grand total of a created invoice.
func ObserveInvoiceTotal(total int64) {
	if CheckoutInvoiceTotal != nil {
		CheckoutInvoiceTotal.Observe(float64(total))
	}
}

// ObserveInvoiceTransition records a payment status change.
func ObserveInvoiceTransition(from, to string) {
	if InvoiceStatusTransitions != nil {
		InvoiceStatusTransitions.WithLabelValues(from, to).Inc()
	}
}

// ObserveNotification records a notification task outcome.
func ObserveNotification(topic, stage, result string) {
	if NotificationTasksTotal != nil {
		NotificationTasksTotal.WithLabelValues(topic, stage, result).Inc()
	}
}

// ObserveCatalogCache records a cache hit or miss.
func ObserveCatalogCache(hit bool) {
	if CatalogCacheRequests == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	CatalogCacheRequests.WithLabelValues(result).Inc()
}

// ObserveMediaUpload records an image upload outcome.
func ObserveMediaUpload(driver, result string) {
	if MediaUploadsTotal != nil {
		MediaUploadsTotal.WithLabelValues(driver, result).Inc()
	}
}

// registerCollector registers c, returning the already registered collector
// of the same type when one exists.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
			return c
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
	return c
}
