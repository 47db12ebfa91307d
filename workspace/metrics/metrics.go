// Package metrics exposes prometheus collectors for workspace mutations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "label_pizza_sync_records_total",
		Help: "Records processed by sync, by collection and outcome.",
	}, []string{"collection", "outcome"})

	SyncDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "label_pizza_sync_duration_seconds",
		Help: "Duration of sync calls by collection.",
	}, []string{"collection"})

	CascadeSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "label_pizza_cascade_steps_total",
		Help: "Cascade steps executed, by entity and action.",
	}, []string{"entity", "action"})

	CascadeDeclined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "label_pizza_cascade_declined_total",
		Help: "Cascade plans that were not confirmed.",
	})

	GroundTruthWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "label_pizza_ground_truth_writes_total",
		Help: "Ground truth writes by kind (create, update, override, duplicate).",
	}, []string{"kind"})

	AnswerWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "label_pizza_answer_writes_total",
		Help: "Annotator answer upserts.",
	})

	MergeConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "label_pizza_merge_conflicts_total",
		Help: "Same-key conflicts resolved by merge, by collection.",
	}, []string{"collection"})
)
