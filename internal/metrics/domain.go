package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 业务指标：申请、额度、通知与职位导入。
var (
	ApplicationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "applications",
			Name:      "created_total",
			Help:      "Applications created, by the credit source that paid for them.",
		},
		[]string{"credit_source"},
	)

	ApplyRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "applications",
			Name:      "apply_rejected_total",
			Help:      "Apply attempts rejected, by error code.",
		},
		[]string{"reason"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "applications",
			Name:      "status_transitions_total",
			Help:      "Application status changes, by new status.",
		},
		[]string{"status"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Notifications persisted, by type.",
		},
		[]string{"type"},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "notify",
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be persisted or enqueued.",
		},
	)

	// JobsIngested 的 source 标签只取 ingestSources 中的值，其余归为 other。
	JobsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Subsystem: "ingest",
			Name:      "jobs_ingested_total",
			Help:      "Jobs inserted through the ingestion boundary, by source.",
		},
		[]string{"source"},
	)
)

// ingestSources 是导入指标认可的来源；外部 feed 的任意取值不能直接成为标签。
var ingestSources = map[string]bool{
	"manual":       true,
	"linkedin":     true,
	"indeed":       true,
	"glassdoor":    true,
	"topcv":        true,
	"itviec":       true,
	"vietnamworks": true,
	"facebook":     true,
}

// IngestSourceLabel maps a normalized job source to a bounded label value.
func IngestSourceLabel(source string) string {
	if ingestSources[source] {
		return source
	}
	return "other"
}
