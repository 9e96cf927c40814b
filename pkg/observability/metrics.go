package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reporter Metrics
var (
	ReportCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_report_cycles_total",
			Help: "Total number of reporting cycles",
		},
		[]string{"result"}, // success, delivery_failure, panic
	)

	ReportDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostagent_report_duration_seconds",
			Help:    "Duration of a full sample-and-send cycle in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		},
	)

	ContainersReported = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostagent_containers_reported",
			Help: "Number of containers in the most recent report",
		},
	)
)

// Sampling Metrics
var (
	SampleFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_sample_failures_total",
			Help: "Host status fields that degraded to a default or sentinel value",
		},
		[]string{"field"},
	)

	InventorySkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostagent_inventory_skipped_total",
			Help: "Containers skipped because their attributes could not be read",
		},
	)
)

// Control Surface Metrics
var (
	ControlActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_control_actions_total",
			Help: "Container lifecycle actions executed through the control surface",
		},
		[]string{"action", "result"}, // result: success, failure
	)

	ComposeAppliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_compose_applies_total",
			Help: "Compose definitions applied through the control surface",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostagent_http_requests_total",
			Help: "Control surface HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// Result label values
const (
	ResultSuccess         = "success"
	ResultFailure         = "failure"
	ResultDeliveryFailure = "delivery_failure"
	ResultPanic           = "panic"
)
