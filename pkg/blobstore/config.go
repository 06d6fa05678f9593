// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Driver names accepted by New. Matching is case-insensitive; "aws-s3" is
// a legacy alias kept for configurations written against older releases.
const (
	DriverS3    = "S3"
	DriverAWSS3 = "aws-s3"
	DriverGCS   = "google-cloud-storage"
)

const (
	// MinBlockSize is the smallest permitted data block: S3 rejects
	// multipart parts below 5 MiB, and every part is exactly one block.
	MinBlockSize = 5 * 1024 * 1024

	// DefaultMaxBlockSize bounds a data block (and multipart part) unless
	// configured otherwise.
	DefaultMaxBlockSize = 64 * 1024 * 1024

	// DefaultReadBufferSize is the ranged-read granularity of backed
	// read handles.
	DefaultReadBufferSize = 1024 * 1024

	// DefaultRequestTimeout bounds a single transport round trip.
	DefaultRequestTimeout = 25 * time.Second

	// DefaultMaxRetries bounds transient-error retries inside a driver.
	DefaultMaxRetries = 100
)

// Config selects and parameterizes a store adapter.
type Config struct {
	// Driver is one of DriverS3, DriverAWSS3, DriverGCS (case-insensitive).
	Driver string

	// Endpoint overrides the S3 service endpoint, for S3-compatible
	// stores. When set, path-style addressing is used. Optional scheme
	// defaults to https.
	Endpoint string

	// Region is the bucket region. The S3 driver requires Region or
	// Endpoint; bucket creation uses it as the location constraint.
	Region string

	// Bucket is the target bucket. Required.
	Bucket string

	// MaxBlockSize caps a data block and multipart part, bytes. Must be
	// at least MinBlockSize.
	MaxBlockSize int

	// ReadBufferSize is the ranged-read size used by read handles, bytes.
	ReadBufferSize int

	// AccessKeyID and SecretAccessKey optionally pin static S3
	// credentials, typically against mock or self-hosted endpoints.
	// When empty the default AWS provider chain applies.
	AccessKeyID     string
	SecretAccessKey string

	// GCSKeyFilePath names a service-account JSON key file. Required by
	// the GCS driver and read eagerly at construction so that credential
	// problems surface before any offload is scheduled.
	GCSKeyFilePath string

	// RequestTimeout bounds each transport request issued by the S3
	// driver.
	RequestTimeout time.Duration

	// MaxRetries caps driver-internal retries of transient failures.
	MaxRetries int
}

// WithDefaults returns a copy of c with unset tunables filled in.
func (c Config) WithDefaults() Config {
	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = DefaultMaxBlockSize
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Validate rejects configurations New cannot serve. All failures wrap
// ErrInvalidConfig.
func (c Config) Validate() error {
	if !DriverSupported(c.Driver) {
		return errors.Wrapf(ErrInvalidConfig, "driver %q not supported, expected one of %s",
			c.Driver, strings.Join(SupportedDrivers(), ", "))
	}
	if c.Bucket == "" {
		return errors.Wrap(ErrInvalidConfig, "bucket must not be empty")
	}
	if c.MaxBlockSize < MinBlockSize {
		return errors.Wrapf(ErrInvalidConfig, "maxBlockSize %d below the %d byte multipart part minimum",
			c.MaxBlockSize, MinBlockSize)
	}
	if c.ReadBufferSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "readBufferSize %d must be positive", c.ReadBufferSize)
	}
	if IsS3Driver(c.Driver) && c.Region == "" && c.Endpoint == "" {
		return errors.Wrap(ErrInvalidConfig, "S3 driver needs a region or an endpoint")
	}
	if IsGCSDriver(c.Driver) && c.GCSKeyFilePath == "" {
		return errors.Wrap(ErrInvalidConfig, "GCS driver needs a service account key file path")
	}
	return nil
}

// IsS3Driver reports whether name selects the S3 adapter.
func IsS3Driver(name string) bool {
	return strings.EqualFold(name, DriverS3) || strings.EqualFold(name, DriverAWSS3)
}

// IsGCSDriver reports whether name selects the GCS adapter.
func IsGCSDriver(name string) bool {
	return strings.EqualFold(name, DriverGCS)
}

// DriverSupported reports whether name selects any adapter.
func DriverSupported(name string) bool {
	return IsS3Driver(name) || IsGCSDriver(name)
}

// SupportedDrivers lists the accepted driver names.
func SupportedDrivers() []string {
	return []string{DriverS3, DriverAWSS3, DriverGCS}
}

// lowercaseKeys normalizes user-metadata keys. Object stores are
// case-insensitive about metadata header names; normalizing on both write
// and read keeps lookups deterministic across drivers.
func lowercaseKeys(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[strings.ToLower(k)] = v
	}
	return out
}
