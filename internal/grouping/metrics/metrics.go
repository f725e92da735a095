package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks delivery group lifecycle counts.
type Metrics struct {
	GroupsCreated     prometheus.Counter
	GroupsDelivered   prometheus.Counter
	GroupedDocuments  prometheus.Counter
	ValidationFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		GroupsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_grouping_groups_created_total",
			Help: "Total delivery groups created",
		}),
		GroupsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_grouping_groups_delivered_total",
			Help: "Total delivery groups handed to clients",
		}),
		GroupedDocuments: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_grouping_documents_grouped_total",
			Help: "Total documents stamped into delivery groups",
		}),
		ValidationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "notaria_grouping_validation_failures_total",
			Help: "Group creation attempts rejected by validation",
		}),
	}
}
