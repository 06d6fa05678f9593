// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// deleteBatchLimit is the S3 cap on keys per DeleteObjects call.
const deleteBatchLimit = 1000

type s3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
}

func newS3Store(ctx context.Context, cfg Config) (*s3Store, error) {
	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http") {
		endpoint = fmt.Sprintf("https://%s", endpoint)
	}

	region := cfg.Region
	if region == "" {
		// S3-compatible endpoints still want a signing region.
		region = "us-east-1"
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx,
		awscfg.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		awscfg.WithRetryMaxAttempts(cfg.MaxRetries),
	)
	if err != nil {
		return nil, errors.Wrap(err, "load default AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Region = region
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
		if len(cfg.AccessKeyID) > 0 && len(cfg.SecretAccessKey) > 0 {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		}
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = int64(cfg.MaxBlockSize)
		u.Concurrency = 1
	})

	return &s3Store{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		region:   region,
	}, nil
}

func (s *s3Store) CreateBucket(ctx context.Context) (bool, error) {
	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "" && s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return false, nil
		}
		return false, errors.Wrapf(err, "create bucket %s", s.bucket)
	}
	return true, nil
}

func (s *s3Store) DeleteBucket(ctx context.Context) error {
	if _, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return errors.Wrapf(err, "delete bucket %s", s.bucket)
	}
	return nil
}

func (s *s3Store) PutObject(ctx context.Context, key string, body io.Reader, length int64, opts PutOptions) error {
	input := &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     body,
		Metadata: lowercaseKeys(opts.UserMetadata),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return errors.Wrapf(err, "put object %s", key)
	}
	logrus.Debugf("put object %s (%d bytes) to bucket %s", key, length, s.bucket)
	return nil
}

func (s *s3Store) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, s.readError(err, key)
	}
	return ObjectInfo{
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		UserMetadata: lowercaseKeys(out.Metadata),
	}, nil
}

func (s *s3Store) GetObject(ctx context.Context, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.readError(err, key)
	}
	return &Object{
		ObjectInfo: ObjectInfo{
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			UserMetadata: lowercaseKeys(out.Metadata),
		},
		Body: out.Body,
	}, nil
}

func (s *s3Store) GetObjectRange(ctx context.Context, key string, firstByte, lastByte int64) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", firstByte, lastByte)),
	})
	if err != nil {
		return nil, s.readError(err, key)
	}
	return out.Body, nil
}

func (s *s3Store) DeleteObjects(ctx context.Context, keys ...string) error {
	for start := 0; start < len(keys); start += deleteBatchLimit {
		end := start + deleteBatchLimit
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return errors.Wrapf(err, "delete %d objects from bucket %s", end-start, s.bucket)
		}
		for _, derr := range out.Errors {
			// Deleting absent keys is benign.
			if aws.ToString(derr.Code) == "NoSuchKey" {
				continue
			}
			return errors.Errorf("delete object %s: %s (%s)",
				aws.ToString(derr.Key), aws.ToString(derr.Message), aws.ToString(derr.Code))
		}
	}
	return nil
}

func (s *s3Store) CreateMultipartUpload(ctx context.Context, key string, opts PutOptions) (*MultipartUpload, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Metadata: lowercaseKeys(opts.UserMetadata),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	out, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "create multipart upload for %s", key)
	}
	return &MultipartUpload{
		Key:          key,
		UploadID:     aws.ToString(out.UploadId),
		ContentType:  opts.ContentType,
		UserMetadata: lowercaseKeys(opts.UserMetadata),
	}, nil
}

func (s *s3Store) UploadPart(ctx context.Context, mpu *MultipartUpload, partNumber int32, body io.Reader, length int64) (Part, error) {
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(mpu.Key),
		UploadId:      aws.String(mpu.UploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(length),
	})
	if err != nil {
		return Part{}, errors.Wrapf(err, "upload part %d of %s", partNumber, mpu.Key)
	}
	return Part{Number: partNumber, ETag: aws.ToString(out.ETag), Size: length}, nil
}

func (s *s3Store) CompleteMultipartUpload(ctx context.Context, mpu *MultipartUpload, parts []Part) error {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.Number),
		})
	}
	_, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(mpu.Key),
		UploadId:        aws.String(mpu.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return errors.Wrapf(err, "complete multipart upload of %s with %d parts", mpu.Key, len(parts))
	}
	return nil
}

func (s *s3Store) AbortMultipartUpload(ctx context.Context, mpu *MultipartUpload) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(mpu.Key),
		UploadId: aws.String(mpu.UploadID),
	})
	if err != nil {
		return errors.Wrapf(err, "abort multipart upload of %s", mpu.Key)
	}
	logrus.Debugf("aborted multipart upload %s of %s", mpu.UploadID, mpu.Key)
	return nil
}

// readError maps service not-found responses onto ErrNotFound; everything
// else passes through wrapped.
func (s *s3Store) readError(err error, key string) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errors.Wrapf(ErrNotFound, "key %s in bucket %s", key, s.bucket)
	}
	var responseError *awshttp.ResponseError
	if errors.As(err, &responseError) && responseError.ResponseError.HTTPStatusCode() == http.StatusNotFound {
		return errors.Wrapf(ErrNotFound, "key %s in bucket %s", key, s.bucket)
	}
	return errors.Wrapf(err, "get object %s", key)
}
