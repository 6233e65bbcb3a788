package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK       = "ok"
	resultFailed   = "failed"
	resultRejected = "rejected"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filedrop_uploads_total",
		Help: "Upload intents by result.",
	}, []string{"result"})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filedrop_deletes_total",
		Help: "Delete intents by result.",
	}, []string{"result"})

	loginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filedrop_logins_total",
		Help: "Admin PIN attempts by result.",
	}, []string{"result"})

	snapshotsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_snapshots_received_total",
		Help: "Registry snapshots delivered to subscriptions.",
	})

	subscriptionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filedrop_subscription_errors_total",
		Help: "Registry subscription failures.",
	})

	registrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filedrop_registry_records",
		Help: "Records in the most recent snapshot.",
	})
)
