// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Exporter interface {
	Export()
}

const (
	offloadDurationKey = "offload_duration_seconds"
	offloadCountKey    = "offload_count"
	offloadBytesKey    = "offload_bytes"
	readDurationKey    = "read_duration_seconds"
	readCountKey       = "read_count"
	deleteCountKey     = "delete_count"
	namespace          = "logtier"
	subsystem          = "offload"
)

const (
	// ResultSucceeded and ResultFailed label operation outcomes.
	ResultSucceeded = "succeeded"
	ResultFailed    = "failed"
)

var (
	offloadDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      offloadDurationKey,
			Help:      "The total time spent offloading ledgers to object storage. Broken down by driver.",
		},
		[]string{"driver"},
	)

	offloadCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      offloadCountKey,
			Help:      "The total ledger offload operations. Broken down by driver and result.",
		},
		[]string{"driver", "result"},
	)

	offloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      offloadBytesKey,
			Help:      "The total data object bytes written to object storage. Broken down by driver.",
		},
		[]string{"driver"},
	)

	readDuration = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      readDurationKey,
			Help:      "The total time spent opening read handles over offloaded ledgers. Broken down by driver.",
		},
		[]string{"driver"},
	)

	readCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      readCountKey,
			Help:      "The total read handle opens over offloaded ledgers. Broken down by driver and result.",
		},
		[]string{"driver", "result"},
	)

	deleteCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      deleteCountKey,
			Help:      "The total offloaded ledger deletions. Broken down by driver and result.",
		},
		[]string{"driver", "result"},
	)
)

var register sync.Once
var Registry *prometheus.Registry
var exporter Exporter

func sinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// Register registers metrics. This is always called only once.
func Register(exp Exporter) {
	register.Do(func() {
		Registry = prometheus.NewRegistry()
		Registry.MustRegister(offloadDuration, offloadCount, offloadBytes, readDuration, readCount, deleteCount)
		exporter = exp
	})
}

func Export() {
	if exporter != nil {
		exporter.Export()
	}
}

func OffloadDuration(driver string, start time.Time) {
	offloadDuration.WithLabelValues(driver).Add(sinceInSeconds(start))
}

func OffloadCount(driver, result string) {
	offloadCount.WithLabelValues(driver, result).Inc()
}

func OffloadBytes(driver string, n int64) {
	offloadBytes.WithLabelValues(driver).Add(float64(n))
}

func ReadDuration(driver string, start time.Time) {
	readDuration.WithLabelValues(driver).Add(sinceInSeconds(start))
}

func ReadCount(driver, result string) {
	readCount.WithLabelValues(driver, result).Inc()
}

func DeleteCount(driver, result string) {
	deleteCount.WithLabelValues(driver, result).Inc()
}
