// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package offload moves closed ledgers into object storage and reads them
// back. Each offloaded ledger becomes two objects: a data object built from
// fixed-size entry blocks, uploaded block by block as multipart parts, and
// a small index object mapping entry IDs onto block positions. The index is
// written last, so its presence marks a completed offload.
package offload

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/logtier/logtier/pkg/blobstore"
	"github.com/logtier/logtier/pkg/blockstream"
	"github.com/logtier/logtier/pkg/index"
	"github.com/logtier/logtier/pkg/ledger"
	"github.com/logtier/logtier/pkg/metrics"
	"github.com/logtier/logtier/pkg/scheduler"
)

const (
	dataObjectContentType  = "application/octet-stream"
	indexObjectContentType = "application/octet-stream"

	// compensationTimeout bounds the cleanup calls that run after a failed
	// offload. Cleanup uses a fresh context so that it still happens when
	// the offload context is already canceled.
	compensationTimeout = time.Minute
)

// ErrInvalidLedger marks offload attempts over ledgers that are empty,
// still open, or have no confirmed entries.
var ErrInvalidLedger = errors.New("ledger cannot be offloaded")

// Offloader copies ledgers to an object store and serves reads and deletes
// over the offloaded copies. All ledger-level operations are scheduled on
// an ordered scheduler keyed by ledger ID, so operations touching the same
// ledger never interleave.
type Offloader struct {
	store          blobstore.Store
	sched          *scheduler.Ordered
	bucket         string
	driver         string
	maxBlockSize   int
	readBufferSize int
}

// New builds the store adapter selected by cfg and wires an Offloader over
// it. sched supplies the execution lanes and stays owned by the caller.
func New(ctx context.Context, cfg blobstore.Config, sched *scheduler.Ordered) (*Offloader, error) {
	store, err := blobstore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(store, cfg, sched), nil
}

// NewWithStore wires an Offloader over an already-built store. cfg supplies
// tunables and log labels; it is defaulted but not validated here, so tests
// may run with block sizes below the S3 part minimum.
func NewWithStore(store blobstore.Store, cfg blobstore.Config, sched *scheduler.Ordered) *Offloader {
	cfg = cfg.WithDefaults()
	return &Offloader{
		store:          store,
		sched:          sched,
		bucket:         cfg.Bucket,
		driver:         driverLabel(cfg.Driver),
		maxBlockSize:   cfg.MaxBlockSize,
		readBufferSize: cfg.ReadBufferSize,
	}
}

func driverLabel(name string) string {
	switch {
	case blobstore.IsS3Driver(name):
		return "s3"
	case blobstore.IsGCSDriver(name):
		return "gcs"
	default:
		return "memory"
	}
}

// Offload schedules the upload of rh under uid. extraMetadata is attached
// to both objects as user metadata; keys reserved for version markers win
// over caller values. The returned future resolves when both objects are
// durable or the attempt has been rolled back.
func (o *Offloader) Offload(ctx context.Context, rh ledger.ReadHandle, uid uuid.UUID, extraMetadata map[string]string) *Future {
	f := newFuture()
	task := func() {
		start := time.Now()
		written, err := o.offloadLedger(ctx, rh, uid, extraMetadata)
		metrics.OffloadDuration(o.driver, start)
		if err != nil {
			metrics.OffloadCount(o.driver, metrics.ResultFailed)
			logrus.Errorf("offload ledger %d (uid %s): %v", rh.ID(), uid, err)
			f.complete(err)
			return
		}
		metrics.OffloadCount(o.driver, metrics.ResultSucceeded)
		metrics.OffloadBytes(o.driver, written)
		logrus.Infof("offloaded ledger %d (uid %s) to bucket %s, %d bytes in %s",
			rh.ID(), uid, o.bucket, written, time.Since(start))
		f.complete(nil)
	}
	if err := o.sched.Lane(rh.ID()).Submit(task); err != nil {
		f.complete(err)
	}
	return f
}

// offloadLedger runs one offload attempt and returns the data object size.
// On any failure it deletes whatever the attempt had already written.
func (o *Offloader) offloadLedger(ctx context.Context, rh ledger.ReadHandle, uid uuid.UUID, extraMetadata map[string]string) (int64, error) {
	if rh.Length() == 0 || !rh.IsClosed() || rh.LastAddConfirmed() < 0 {
		return 0, errors.Wrapf(ErrInvalidLedger, "ledger %d (length %d, closed %t, last entry %d)",
			rh.ID(), rh.Length(), rh.IsClosed(), rh.LastAddConfirmed())
	}

	dataKey := DataObjectKey(rh.ID(), uid)
	indexKey := IndexObjectKey(rh.ID(), uid)
	userMeta := versionedUserMetadata(extraMetadata)

	mpu, err := o.store.CreateMultipartUpload(ctx, dataKey, blobstore.PutOptions{
		ContentType:  dataObjectContentType,
		UserMetadata: userMeta,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "create multipart upload for %s", dataKey)
	}

	builder := index.NewBuilder().
		WithLedgerMetadata(rh.Metadata()).
		WithDataBlockHeaderLength(blockstream.HeaderSize)

	var (
		parts          []blobstore.Part
		partID         int32
		startEntry     int64
		payloadWritten int64
		dataLength     int64
	)
	lastEntry := rh.LastAddConfirmed()
	for startEntry <= lastEntry {
		if err := ctx.Err(); err != nil {
			o.abortUpload(mpu)
			return 0, errors.Wrapf(err, "offload of ledger %d canceled after %d parts", rh.ID(), partID)
		}
		partID++
		blockSize := blockstream.CalculateBlockSize(o.maxBlockSize, rh, startEntry, payloadWritten)
		stream := blockstream.NewSegmentStream(ctx, rh, startEntry, blockSize)
		part, err := o.store.UploadPart(ctx, mpu, partID, stream, int64(blockSize))
		if err != nil {
			o.abortUpload(mpu)
			return 0, errors.Wrapf(err, "upload part %d of %s", partID, dataKey)
		}
		logrus.Debugf("uploaded part %d of %s: entries [%d, %d], %d bytes",
			partID, dataKey, startEntry, stream.EndEntryID(), blockSize)

		builder.AddBlock(startEntry, partID, blockSize)
		parts = append(parts, part)
		payloadWritten += stream.PayloadBytesRead()
		dataLength += int64(blockSize)
		startEntry = stream.EndEntryID() + 1
	}

	if err := o.store.CompleteMultipartUpload(ctx, mpu, parts); err != nil {
		o.abortUpload(mpu)
		return 0, errors.Wrapf(err, "complete multipart upload for %s", dataKey)
	}

	blk, err := builder.WithDataObjectLength(dataLength).Build()
	if err != nil {
		o.deleteObjects(dataKey)
		return 0, errors.Wrapf(err, "build index for ledger %d", rh.ID())
	}
	if err := o.store.PutObject(ctx, indexKey, blk.Reader(), blk.StreamSize(), blobstore.PutOptions{
		ContentType:  indexObjectContentType,
		UserMetadata: userMeta,
	}); err != nil {
		o.deleteObjects(dataKey)
		return 0, errors.Wrapf(err, "write index object %s", indexKey)
	}
	return dataLength, nil
}

// ReadOffloaded schedules the open of a read handle over an offloaded
// ledger. The handle streams entries from the data object through ranged
// reads, positioned by the index object.
func (o *Offloader) ReadOffloaded(ctx context.Context, ledgerID int64, uid uuid.UUID) *ReadFuture {
	f := newReadFuture()
	task := func() {
		start := time.Now()
		handle, err := o.openReadHandle(ctx, ledgerID, uid)
		metrics.ReadDuration(o.driver, start)
		if err != nil {
			metrics.ReadCount(o.driver, metrics.ResultFailed)
			logrus.Errorf("open offloaded ledger %d (uid %s): %v", ledgerID, uid, err)
			f.complete(nil, err)
			return
		}
		metrics.ReadCount(o.driver, metrics.ResultSucceeded)
		f.complete(handle, nil)
	}
	if err := o.sched.Lane(ledgerID).Submit(task); err != nil {
		f.complete(nil, err)
	}
	return f
}

// DeleteOffloaded schedules the removal of both objects of an offloaded
// ledger. Deleting a ledger that was never offloaded, or deleting twice,
// succeeds.
func (o *Offloader) DeleteOffloaded(ctx context.Context, ledgerID int64, uid uuid.UUID) *Future {
	f := newFuture()
	task := func() {
		err := o.store.DeleteObjects(ctx, DataObjectKey(ledgerID, uid), IndexObjectKey(ledgerID, uid))
		if err != nil {
			metrics.DeleteCount(o.driver, metrics.ResultFailed)
			logrus.Errorf("delete offloaded ledger %d (uid %s): %v", ledgerID, uid, err)
			f.complete(errors.Wrapf(err, "delete offloaded ledger %d (uid %s)", ledgerID, uid))
			return
		}
		metrics.DeleteCount(o.driver, metrics.ResultSucceeded)
		logrus.Infof("deleted offloaded ledger %d (uid %s) from bucket %s", ledgerID, uid, o.bucket)
		f.complete(nil)
	}
	if err := o.sched.Lane(ledgerID).Submit(task); err != nil {
		f.complete(err)
	}
	return f
}

// CreateBucket ensures the configured bucket exists. It reports false when
// the bucket was already there.
func (o *Offloader) CreateBucket(ctx context.Context) (bool, error) {
	created, err := o.store.CreateBucket(ctx)
	if err != nil {
		return false, errors.Wrapf(err, "create bucket %s", o.bucket)
	}
	if created {
		logrus.Infof("created bucket %s", o.bucket)
	}
	return created, nil
}

// DeleteBucket removes the configured bucket.
func (o *Offloader) DeleteBucket(ctx context.Context) error {
	if err := o.store.DeleteBucket(ctx); err != nil {
		return errors.Wrapf(err, "delete bucket %s", o.bucket)
	}
	logrus.Infof("deleted bucket %s", o.bucket)
	return nil
}

func (o *Offloader) abortUpload(mpu *blobstore.MultipartUpload) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()
	if err := o.store.AbortMultipartUpload(ctx, mpu); err != nil {
		logrus.Errorf("abort multipart upload %s of %s: %v", mpu.UploadID, mpu.Key, err)
	}
}

func (o *Offloader) deleteObjects(keys ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), compensationTimeout)
	defer cancel()
	if err := o.store.DeleteObjects(ctx, keys...); err != nil {
		logrus.Errorf("delete objects %v: %v", keys, err)
	}
}
