// Package metrics holds the Prometheus instruments shared by the settings,
// audit and scheduler subsystems. All collectors are registered with the
// default registry, so routing /metrics through promhttp exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuditPolicyRebuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_policy_rebuilds_total",
			Help: "Audit policy cache rebuilds, by outcome.",
		}, []string{"outcome"})

	AuditRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_records_total",
			Help: "Audit records emitted by the request interceptor, by method and outcome.",
		}, []string{"method", "outcome"})

	SettingFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "setting_fallbacks_total",
			Help: "Best-effort setting reads that fell back to the catalog default.",
		}, []string{"domain", "key"})

	SecretResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secret_resolutions_total",
			Help: "Secret indirection lookups against the external store, by outcome.",
		}, []string{"outcome"})

	ScheduleMaterializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_materializations_total",
			Help: "Scheduler materializations, by outcome.",
		}, []string{"outcome"})

	ScheduledEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_entries",
			Help: "Number of entries in the currently applied schedule.",
		})

	TasksEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_tasks_enqueued_total",
			Help: "Scheduled tasks handed to the task queue, by task name and outcome.",
		}, []string{"task", "outcome"})
)

func init() {
	prometheus.MustRegister(
		AuditPolicyRebuilds,
		AuditRecords,
		SettingFallbacks,
		SecretResolutions,
		ScheduleMaterializations,
		ScheduledEntries,
		TasksEnqueued,
	)
}
