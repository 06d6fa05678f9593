// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// composeBatchLimit is the GCS cap on source objects per compose call.
const composeBatchLimit = 32

// gcsStore adapts Google Cloud Storage. GCS has no multipart upload API;
// parts are staged as separate objects and folded into the final object
// with iterated compose calls, which is also how its S3-compatibility
// layers realize multipart.
type gcsStore struct {
	client         *storage.Client
	bucket         string
	projectID      string
	region         string
	requestTimeout time.Duration
}

func newGCSStore(ctx context.Context, cfg Config) (*gcsStore, error) {
	// Read the service account key eagerly so credential problems fail
	// construction instead of the first scheduled offload.
	keyData, err := os.ReadFile(cfg.GCSKeyFilePath)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "read GCS service account key %s: %v", cfg.GCSKeyFilePath, err)
	}
	var key struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(keyData, &key); err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "parse GCS service account key %s: %v", cfg.GCSKeyFilePath, err)
	}

	client, err := storage.NewClient(ctx, option.WithCredentialsJSON(keyData))
	if err != nil {
		return nil, errors.Wrap(err, "create GCS client")
	}
	client.SetRetry(
		storage.WithMaxAttempts(cfg.MaxRetries),
		storage.WithPolicy(storage.RetryIdempotent),
	)

	return &gcsStore{
		client:         client,
		bucket:         cfg.Bucket,
		projectID:      key.ProjectID,
		region:         cfg.Region,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

// opCtx bounds unary calls. Streaming reads and writes run on the caller's
// context untouched.
func (g *gcsStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.requestTimeout)
}

func (g *gcsStore) CreateBucket(ctx context.Context) (bool, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	attrs := &storage.BucketAttrs{}
	if g.region != "" {
		attrs.Location = g.region
	}
	if err := g.client.Bucket(g.bucket).Create(ctx, g.projectID, attrs); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 409 {
			return false, nil
		}
		return false, errors.Wrapf(err, "create bucket %s", g.bucket)
	}
	return true, nil
}

func (g *gcsStore) DeleteBucket(ctx context.Context) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	if err := g.client.Bucket(g.bucket).Delete(ctx); err != nil {
		return errors.Wrapf(err, "delete bucket %s", g.bucket)
	}
	return nil
}

func (g *gcsStore) PutObject(ctx context.Context, key string, body io.Reader, length int64, opts PutOptions) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = lowercaseKeys(opts.UserMetadata)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "write object %s", key)
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "finish object %s", key)
	}
	logrus.Debugf("put object %s (%d bytes) to bucket %s", key, length, g.bucket)
	return nil
}

func (g *gcsStore) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, g.readError(err, key)
	}
	return ObjectInfo{
		Key:          key,
		Size:         attrs.Size,
		UserMetadata: lowercaseKeys(attrs.Metadata),
	}, nil
}

func (g *gcsStore) GetObject(ctx context.Context, key string) (*Object, error) {
	obj := g.client.Bucket(g.bucket).Object(key)

	attrCtx, cancel := g.opCtx(ctx)
	attrs, err := obj.Attrs(attrCtx)
	cancel()
	if err != nil {
		return nil, g.readError(err, key)
	}
	r, err := obj.NewReader(ctx)
	if err != nil {
		return nil, g.readError(err, key)
	}
	return &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         attrs.Size,
			UserMetadata: lowercaseKeys(attrs.Metadata),
		},
		Body: r,
	}, nil
}

func (g *gcsStore) GetObjectRange(ctx context.Context, key string, firstByte, lastByte int64) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewRangeReader(ctx, firstByte, lastByte-firstByte+1)
	if err != nil {
		return nil, g.readError(err, key)
	}
	return r, nil
}

func (g *gcsStore) DeleteObjects(ctx context.Context, keys ...string) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		eg.Go(func() error {
			return g.deleteObject(egCtx, key)
		})
	}
	return eg.Wait()
}

func (g *gcsStore) deleteObject(ctx context.Context, key string) error {
	ctx, cancel := g.opCtx(ctx)
	defer cancel()

	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "delete object %s", key)
	}
	return nil
}

func (g *gcsStore) CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (*MultipartUpload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &MultipartUpload{
		Key:          key,
		UploadID:     uuid.NewString(),
		ContentType:  opts.ContentType,
		UserMetadata: lowercaseKeys(opts.UserMetadata),
	}, nil
}

func (g *gcsStore) UploadPart(ctx context.Context, mpu *MultipartUpload, partNumber int32, body io.Reader, length int64) (Part, error) {
	partKey := g.partObjectKey(mpu, partNumber)
	w := g.client.Bucket(g.bucket).Object(partKey).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return Part{}, errors.Wrapf(err, "write part %d of %s", partNumber, mpu.Key)
	}
	if err := w.Close(); err != nil {
		return Part{}, errors.Wrapf(err, "finish part %d of %s", partNumber, mpu.Key)
	}
	return Part{Number: partNumber, ETag: w.Attrs().Etag, Size: length}, nil
}

func (g *gcsStore) CompleteMultipartUpload(ctx context.Context, mpu *MultipartUpload, parts []Part) error {
	if len(parts) == 0 {
		return errors.Errorf("complete multipart upload of %s without parts", mpu.Key)
	}
	ordered := append([]Part{}, parts...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	bucket := g.client.Bucket(g.bucket)
	srcs := make([]*storage.ObjectHandle, 0, len(ordered))
	for _, p := range ordered {
		srcs = append(srcs, bucket.Object(g.partObjectKey(mpu, p.Number)))
	}

	// Fold sources down until one compose call reaches the final object.
	round := 0
	for len(srcs) > composeBatchLimit {
		var folded []*storage.ObjectHandle
		for i := 0; i < len(srcs); i += composeBatchLimit {
			j := i + composeBatchLimit
			if j > len(srcs) {
				j = len(srcs)
			}
			im := bucket.Object(fmt.Sprintf("%s.compose.%s.%d.%d", mpu.Key, mpu.UploadID, round, i/composeBatchLimit))
			composeCtx, cancel := g.opCtx(ctx)
			_, err := im.ComposerFrom(srcs[i:j]...).Run(composeCtx)
			cancel()
			if err != nil {
				return errors.Wrapf(err, "compose intermediate for %s", mpu.Key)
			}
			folded = append(folded, im)
		}
		srcs = folded
		round++
	}

	composer := bucket.Object(mpu.Key).ComposerFrom(srcs...)
	composer.ContentType = mpu.ContentType
	composer.Metadata = mpu.UserMetadata
	composeCtx, cancel := g.opCtx(ctx)
	_, err := composer.Run(composeCtx)
	cancel()
	if err != nil {
		return errors.Wrapf(err, "compose %s from %d parts", mpu.Key, len(parts))
	}

	if err := g.deleteUploadArtifacts(ctx, mpu); err != nil {
		// The final object is already committed; staged parts are garbage.
		logrus.Errorf("clean up staged parts of %s: %v", mpu.Key, err)
	}
	return nil
}

func (g *gcsStore) AbortMultipartUpload(ctx context.Context, mpu *MultipartUpload) error {
	if err := g.deleteUploadArtifacts(ctx, mpu); err != nil {
		return errors.Wrapf(err, "abort multipart upload of %s", mpu.Key)
	}
	logrus.Debugf("aborted multipart upload %s of %s", mpu.UploadID, mpu.Key)
	return nil
}

func (g *gcsStore) partObjectKey(mpu *MultipartUpload, partNumber int32) string {
	return fmt.Sprintf("%s.part.%s.%05d", mpu.Key, mpu.UploadID, partNumber)
}

// deleteUploadArtifacts removes every staged part and compose intermediate
// of the upload, discovered by prefix listing so no part bookkeeping is
// required.
func (g *gcsStore) deleteUploadArtifacts(ctx context.Context, mpu *MultipartUpload) error {
	prefixes := []string{
		fmt.Sprintf("%s.part.%s.", mpu.Key, mpu.UploadID),
		fmt.Sprintf("%s.compose.%s.", mpu.Key, mpu.UploadID),
	}
	bucket := g.client.Bucket(g.bucket)

	eg, egCtx := errgroup.WithContext(ctx)
	for _, prefix := range prefixes {
		it := bucket.Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return errors.Wrapf(err, "list upload artifacts %s*", prefix)
			}
			key := attrs.Name
			eg.Go(func() error {
				return g.deleteObject(egCtx, key)
			})
		}
	}
	return eg.Wait()
}

func (g *gcsStore) readError(err error, key string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(ErrNotFound, "key %s in bucket %s", key, g.bucket)
	}
	return errors.Wrapf(err, "get object %s", key)
}
