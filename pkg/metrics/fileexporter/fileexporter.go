// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package fileexporter dumps the metrics registry to a local file in
// the Prometheus text exposition format. It suits batch tools that
// exit before a scraper could ever reach them.
package fileexporter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/logtier/logtier/pkg/metrics"
)

type FileExporter struct{ path string }

func New(path string) *FileExporter {
	return &FileExporter{
		path: path,
	}
}

func (exp *FileExporter) Export() {
	if err := prometheus.WriteToTextfile(exp.path, metrics.Registry); err != nil {
		logrus.Errorf("export metrics to %s: %v", exp.path, err)
	}
}
