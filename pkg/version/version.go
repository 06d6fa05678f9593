// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package version exposes build identification stamped in via ldflags:
//
//	-X github.com/logtier/logtier/pkg/version.version=v1.2.3
//	-X github.com/logtier/logtier/pkg/version.gitCommit=abc1234
//	-X github.com/logtier/logtier/pkg/version.buildTime=2026-01-02T15:04:05Z
package version

import "strings"

var (
	version   string
	gitCommit string
	buildTime string
)

const unknown = "unknown"

// Version returns the release version, never empty.
func Version() string {
	v := strings.TrimSpace(version)
	if v == "" {
		return unknown
	}
	return v
}

// GitSHA returns the build's git commit, never empty.
func GitSHA() string {
	sha := strings.TrimSpace(gitCommit)
	if sha == "" {
		return unknown
	}
	return sha
}

// BuildTime returns the build timestamp, never empty.
func BuildTime() string {
	t := strings.TrimSpace(buildTime)
	if t == "" {
		return unknown
	}
	return t
}
