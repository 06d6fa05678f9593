// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func validS3Config() Config {
	return Config{
		Driver:       DriverS3,
		Region:       "eu-west-1",
		Bucket:       "ledger-tier",
		MaxBlockSize: MinBlockSize,
	}.WithDefaults()
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "S3WithRegion",
			mutate: func(c *Config) {},
		},
		{
			name: "S3WithEndpointOnly",
			mutate: func(c *Config) {
				c.Region = ""
				c.Endpoint = "localhost:9000"
			},
		},
		{
			name: "LegacyAliasUppercase",
			mutate: func(c *Config) {
				c.Driver = "AWS-S3"
			},
		},
		{
			name: "GCS",
			mutate: func(c *Config) {
				c.Driver = DriverGCS
				c.GCSKeyFilePath = "/etc/gcs/key.json"
			},
		},
		{
			name: "UnknownDriver",
			mutate: func(c *Config) {
				c.Driver = "azure-blob"
			},
			wantErr: "not supported",
		},
		{
			name: "EmptyDriver",
			mutate: func(c *Config) {
				c.Driver = ""
			},
			wantErr: "not supported",
		},
		{
			name: "EmptyBucket",
			mutate: func(c *Config) {
				c.Bucket = ""
			},
			wantErr: "bucket",
		},
		{
			name: "BlockSizeBelowPartMinimum",
			mutate: func(c *Config) {
				c.MaxBlockSize = MinBlockSize - 1
			},
			wantErr: "part minimum",
		},
		{
			name: "S3WithoutRegionAndEndpoint",
			mutate: func(c *Config) {
				c.Region = ""
				c.Endpoint = ""
			},
			wantErr: "region or an endpoint",
		},
		{
			name: "GCSWithoutKeyFile",
			mutate: func(c *Config) {
				c.Driver = DriverGCS
			},
			wantErr: "key file",
		},
		{
			name: "NegativeReadBuffer",
			mutate: func(c *Config) {
				c.ReadBufferSize = -1
			},
			wantErr: "readBufferSize",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validS3Config()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidConfig), "expected ErrInvalidConfig, got %v", err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{Driver: DriverS3, Region: "us-west-2", Bucket: "b"}.WithDefaults()
	require.Equal(t, DefaultMaxBlockSize, cfg.MaxBlockSize)
	require.Equal(t, DefaultReadBufferSize, cfg.ReadBufferSize)
	require.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, DefaultMaxRetries, cfg.MaxRetries)

	tuned := Config{MaxBlockSize: 8 * 1024 * 1024, ReadBufferSize: 4096}.WithDefaults()
	require.Equal(t, 8*1024*1024, tuned.MaxBlockSize)
	require.Equal(t, 4096, tuned.ReadBufferSize)
}

func TestDriverNames(t *testing.T) {
	for _, name := range []string{"S3", "s3", "aws-s3", "AWS-S3", "google-cloud-storage", "Google-Cloud-Storage"} {
		require.True(t, DriverSupported(name), name)
	}
	for _, name := range []string{"", "gcs", "oss", "file", "s4"} {
		require.False(t, DriverSupported(name), name)
	}
	require.True(t, IsS3Driver("aws-s3"))
	require.False(t, IsS3Driver(DriverGCS))
	require.True(t, IsGCSDriver("GOOGLE-CLOUD-STORAGE"))
	require.False(t, IsGCSDriver("S3"))
}

func TestNewS3Store(t *testing.T) {
	store, err := New(context.Background(), Config{
		Driver:          DriverAWSS3,
		Endpoint:        "localhost:9000",
		Bucket:          "ledger-tier",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
	})
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "tape-archive", Bucket: "b"})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestNewGCSStoreKeyFileErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := New(context.Background(), Config{
			Driver:         DriverGCS,
			Bucket:         "ledger-tier",
			GCSKeyFilePath: filepath.Join(t.TempDir(), "absent.json"),
		})
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidConfig))
		require.Contains(t, err.Error(), "read GCS service account key")
	})

	t.Run("MalformedKey", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := New(context.Background(), Config{
			Driver:         DriverGCS,
			Bucket:         "ledger-tier",
			GCSKeyFilePath: path,
		})
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidConfig))
		require.Contains(t, err.Error(), "parse GCS service account key")
	})
}
