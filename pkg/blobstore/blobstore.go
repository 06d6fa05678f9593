// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package blobstore provides the object-store capability surface the
// offload engine runs against, with adapters for Amazon S3 compatible
// services, Google Cloud Storage, and an in-memory store for tests.
package blobstore

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidConfig marks configuration rejected at construction time.
	ErrInvalidConfig = errors.New("invalid blob store configuration")

	// ErrNotFound marks reads of keys that do not exist in the bucket.
	ErrNotFound = errors.New("object not found")
)

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key  string
	Size int64
	// UserMetadata holds the object's user-defined metadata. Keys are
	// normalized to lowercase by every adapter, on write and on read.
	UserMetadata map[string]string
}

// Object couples object metadata with its content stream. The caller owns
// Body and must close it.
type Object struct {
	ObjectInfo
	Body io.ReadCloser
}

// PutOptions carries optional attributes for object creation.
type PutOptions struct {
	ContentType  string
	UserMetadata map[string]string
}

// MultipartUpload identifies an in-progress multipart upload.
type MultipartUpload struct {
	Key          string
	UploadID     string
	ContentType  string
	UserMetadata map[string]string
}

// Part identifies one uploaded part of a multipart upload.
type Part struct {
	Number int32
	ETag   string
	Size   int64
}

// Store is the capability surface required from an object store: bucket
// admin, whole-object and ranged reads, single puts, deletes, and multipart
// uploads whose part boundaries the caller controls. Implementations are
// safe for concurrent use.
type Store interface {
	// CreateBucket creates the configured bucket. It reports false when
	// the bucket already existed and is owned by the caller.
	CreateBucket(ctx context.Context) (bool, error)

	// DeleteBucket removes the configured bucket. Most services reject
	// deletion of non-empty buckets.
	DeleteBucket(ctx context.Context) error

	// PutObject writes a whole object. length is the body size in bytes,
	// or -1 when unknown.
	PutObject(ctx context.Context, key string, body io.Reader, length int64, opts PutOptions) error

	// StatObject returns object metadata without the content. Missing
	// keys fail with ErrNotFound.
	StatObject(ctx context.Context, key string) (ObjectInfo, error)

	// GetObject opens a whole object together with its metadata. Missing
	// keys fail with ErrNotFound.
	GetObject(ctx context.Context, key string) (*Object, error)

	// GetObjectRange opens the inclusive byte range [firstByte, lastByte].
	// Ranges reaching past the object end are truncated at the end.
	GetObjectRange(ctx context.Context, key string, firstByte, lastByte int64) (io.ReadCloser, error)

	// DeleteObjects removes the given keys. Missing keys are not errors;
	// the call is idempotent.
	DeleteObjects(ctx context.Context, keys ...string) error

	// CreateMultipartUpload starts a multipart upload for key.
	CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (*MultipartUpload, error)

	// UploadPart uploads one part. Part numbers start at 1 and must be
	// used in ascending order by the engine. length is mandatory because
	// bodies are streamed.
	UploadPart(ctx context.Context, mpu *MultipartUpload, partNumber int32, body io.Reader, length int64) (Part, error)

	// CompleteMultipartUpload atomically assembles the uploaded parts
	// into the final object.
	CompleteMultipartUpload(ctx context.Context, mpu *MultipartUpload, parts []Part) error

	// AbortMultipartUpload discards an in-progress upload and its parts.
	AbortMultipartUpload(ctx context.Context, mpu *MultipartUpload) error
}

// New validates cfg, applies defaults, and builds the store adapter
// selected by cfg.Driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case IsS3Driver(cfg.Driver):
		return newS3Store(ctx, cfg)
	case IsGCSDriver(cfg.Driver):
		return newGCSStore(ctx, cfg)
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unsupported driver %q", cfg.Driver)
	}
}
