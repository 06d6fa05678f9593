// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// The logtier CLI drives the ledger offload engine against a real object
// store: it offloads synthetic ledgers, reads and verifies offloaded
// ledgers, deletes them, and manages buckets.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"lukechampine.com/blake3"

	"github.com/logtier/logtier/pkg/blobstore"
	"github.com/logtier/logtier/pkg/blockstream"
	"github.com/logtier/logtier/pkg/index"
	"github.com/logtier/logtier/pkg/ledger"
	"github.com/logtier/logtier/pkg/metrics"
	"github.com/logtier/logtier/pkg/metrics/fileexporter"
	"github.com/logtier/logtier/pkg/offload"
	"github.com/logtier/logtier/pkg/scheduler"
	"github.com/logtier/logtier/pkg/version"
)

// readChunkSize is how many entries one ReadEntries call pulls while the
// read and bench commands walk a ledger.
const readChunkSize = 1000

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (panic, fatal, error, warn, info, debug, trace)", EnvVars: []string{"LOG_LEVEL"}},
		&cli.StringFlag{Name: "driver", Value: blobstore.DriverS3, Usage: "Object store driver (S3, aws-s3, google-cloud-storage)", EnvVars: []string{"DRIVER"}},
		&cli.StringFlag{Name: "bucket", Required: true, Usage: "Target bucket name", EnvVars: []string{"BUCKET"}},
		&cli.StringFlag{Name: "endpoint", Value: "", Usage: "Service endpoint for S3-compatible stores, enables path-style addressing", EnvVars: []string{"ENDPOINT"}},
		&cli.StringFlag{Name: "region", Value: "", Usage: "Bucket region", EnvVars: []string{"REGION"}},
		&cli.StringFlag{Name: "access-key-id", Value: "", Usage: "Static S3 access key ID, default AWS provider chain when empty", EnvVars: []string{"ACCESS_KEY_ID"}},
		&cli.StringFlag{Name: "secret-access-key", Value: "", Usage: "Static S3 secret access key", EnvVars: []string{"SECRET_ACCESS_KEY"}},
		&cli.StringFlag{Name: "gcs-key-file", Value: "", TakesFile: true, Usage: "GCS service account JSON key file", EnvVars: []string{"GCS_KEY_FILE"}},
		&cli.IntFlag{Name: "max-block-size", Value: blobstore.DefaultMaxBlockSize, Usage: "Data block and multipart part size in bytes", EnvVars: []string{"MAX_BLOCK_SIZE"}},
		&cli.IntFlag{Name: "read-buffer-size", Value: blobstore.DefaultReadBufferSize, Usage: "Ranged read buffer size in bytes", EnvVars: []string{"READ_BUFFER_SIZE"}},
		&cli.IntFlag{Name: "parallelism", Value: runtime.NumCPU(), Usage: "Number of serial offload lanes", EnvVars: []string{"PARALLELISM"}},
		&cli.StringFlag{Name: "metrics-file", Value: "", Usage: "Write a metrics snapshot to this file when the command finishes", EnvVars: []string{"METRICS_FILE"}},
	}
}

func storeConfig(c *cli.Context) blobstore.Config {
	return blobstore.Config{
		Driver:          c.String("driver"),
		Endpoint:        c.String("endpoint"),
		Region:          c.String("region"),
		Bucket:          c.String("bucket"),
		MaxBlockSize:    c.Int("max-block-size"),
		ReadBufferSize:  c.Int("read-buffer-size"),
		AccessKeyID:     c.String("access-key-id"),
		SecretAccessKey: c.String("secret-access-key"),
		GCSKeyFilePath:  c.String("gcs-key-file"),
	}
}

func setup(c *cli.Context) error {
	logLevel, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logrus.SetLevel(logLevel)
	if path := c.String("metrics-file"); path != "" {
		metrics.Register(fileexporter.New(path))
	}
	return nil
}

// newEngine builds the offloader and its scheduler. The returned stop
// function drains the scheduler and must run before the snapshot export.
func newEngine(c *cli.Context) (*offload.Offloader, func(), error) {
	sched := scheduler.NewOrdered("offload", c.Int("parallelism"))
	engine, err := offload.New(context.Background(), storeConfig(c), sched)
	if err != nil {
		sched.Shutdown()
		return nil, nil, err
	}
	return engine, sched.Shutdown, nil
}

func parseUID(c *cli.Context) (uuid.UUID, error) {
	uid, err := uuid.Parse(c.String("uid"))
	if err != nil {
		return uuid.UUID{}, errors.Wrapf(err, "invalid --uid %q", c.String("uid"))
	}
	return uid, nil
}

// digestEntries walks [first, last] in chunks and returns the blake3 digest
// of the concatenated payloads together with the payload byte count. A
// non-nil sink additionally receives every payload in entry order.
func digestEntries(ctx context.Context, rh ledger.ReadHandle, first, last int64, sink io.Writer) ([]byte, int64, error) {
	hasher := blake3.New(32, nil)
	w := io.Writer(hasher)
	if sink != nil {
		w = io.MultiWriter(hasher, sink)
	}
	var total int64
	for chunkFirst := first; chunkFirst <= last; chunkFirst += readChunkSize {
		chunkLast := chunkFirst + readChunkSize - 1
		if chunkLast > last {
			chunkLast = last
		}
		entries, err := rh.ReadEntries(ctx, chunkFirst, chunkLast)
		if err != nil {
			return nil, 0, err
		}
		for _, entry := range entries {
			if _, err := w.Write(entry.Data); err != nil {
				return nil, 0, err
			}
			total += int64(len(entry.Data))
		}
	}
	return hasher.Sum(nil), total, nil
}

func benchCommand() *cli.Command {
	flags := append(storeFlags(),
		&cli.Int64Flag{Name: "ledger-id", Value: 1, Usage: "Ledger ID of the synthetic ledger", EnvVars: []string{"LEDGER_ID"}},
		&cli.IntFlag{Name: "entries", Value: 10000, Usage: "Number of entries in the synthetic ledger", EnvVars: []string{"ENTRIES"}},
		&cli.IntFlag{Name: "entry-size", Value: 128 * 1024, Usage: "Payload size of each entry in bytes", EnvVars: []string{"ENTRY_SIZE"}},
		&cli.Int64Flag{Name: "seed", Value: 1, Usage: "Seed for the synthetic payloads", EnvVars: []string{"SEED"}},
		&cli.BoolFlag{Name: "keep", Usage: "Keep the offloaded objects instead of deleting them", EnvVars: []string{"KEEP"}},
	)
	return &cli.Command{
		Name:  "bench",
		Usage: "Offload a synthetic ledger, read it back, and report throughput",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := setup(c); err != nil {
				return err
			}
			defer metrics.Export()

			engine, stop, err := newEngine(c)
			if err != nil {
				return err
			}
			defer stop()

			entryCount := c.Int("entries")
			entrySize := c.Int("entry-size")
			rng := rand.New(rand.NewSource(c.Int64("seed")))
			payloads := make([][]byte, entryCount)
			sourceHasher := blake3.New(32, nil)
			for i := range payloads {
				data := make([]byte, entrySize)
				rng.Read(data)
				payloads[i] = data
				sourceHasher.Write(data)
			}
			sourceDigest := sourceHasher.Sum(nil)

			ctx := context.Background()
			ledgerID := c.Int64("ledger-id")
			rh := ledger.NewMemoryLedger(ledgerID, payloads)
			uid := uuid.New()
			logrus.Infof("offloading ledger %d (uid %s): %d entries, %d bytes", ledgerID, uid, entryCount, rh.Length())

			start := time.Now()
			if err := engine.Offload(ctx, rh, uid, map[string]string{"origin": "bench"}).Wait(ctx); err != nil {
				return err
			}
			elapsed := time.Since(start)
			logrus.Infof("offload took %s (%.1f MiB/s)", elapsed, float64(rh.Length())/elapsed.Seconds()/(1<<20))

			handle, err := engine.ReadOffloaded(ctx, ledgerID, uid).Wait(ctx)
			if err != nil {
				return err
			}
			defer handle.Close()

			start = time.Now()
			readDigest, total, err := digestEntries(ctx, handle, 0, handle.LastAddConfirmed(), nil)
			if err != nil {
				return err
			}
			elapsed = time.Since(start)
			logrus.Infof("read back %d bytes in %s (%.1f MiB/s)", total, elapsed, float64(total)/elapsed.Seconds()/(1<<20))

			if !bytes.Equal(sourceDigest, readDigest) {
				return errors.Errorf("read back digest %x does not match source digest %x", readDigest, sourceDigest)
			}
			logrus.Infof("digest match: blake3 %x", readDigest)

			if c.Bool("keep") {
				logrus.Infof("keeping objects, read them back with --ledger-id %d --uid %s", ledgerID, uid)
				return nil
			}
			return engine.DeleteOffloaded(ctx, ledgerID, uid).Wait(ctx)
		},
	}
}

func readCommand() *cli.Command {
	flags := append(storeFlags(),
		&cli.Int64Flag{Name: "ledger-id", Required: true, Usage: "Ledger ID of the offloaded ledger", EnvVars: []string{"LEDGER_ID"}},
		&cli.StringFlag{Name: "uid", Required: true, Usage: "UID the ledger was offloaded under", EnvVars: []string{"UID"}},
		&cli.Int64Flag{Name: "first", Value: 0, Usage: "First entry to read", EnvVars: []string{"FIRST"}},
		&cli.Int64Flag{Name: "last", Value: -1, Usage: "Last entry to read, -1 for the whole ledger", EnvVars: []string{"LAST"}},
		&cli.StringFlag{Name: "out", Value: "", Usage: "Write entry payloads to this file, - for stdout", EnvVars: []string{"OUT"}},
	)
	return &cli.Command{
		Name:  "read",
		Usage: "Read entries from an offloaded ledger and print their digest",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := setup(c); err != nil {
				return err
			}
			defer metrics.Export()

			engine, stop, err := newEngine(c)
			if err != nil {
				return err
			}
			defer stop()

			uid, err := parseUID(c)
			if err != nil {
				return err
			}

			ctx := context.Background()
			handle, err := engine.ReadOffloaded(ctx, c.Int64("ledger-id"), uid).Wait(ctx)
			if err != nil {
				return err
			}
			defer handle.Close()

			first := c.Int64("first")
			last := c.Int64("last")
			if last < 0 {
				last = handle.LastAddConfirmed()
			}

			var sink io.Writer
			switch out := c.String("out"); out {
			case "":
			case "-":
				sink = os.Stdout
			default:
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				sink = f
			}

			digest, total, err := digestEntries(ctx, handle, first, last, sink)
			if err != nil {
				return err
			}
			logrus.Infof("ledger %d entries [%d, %d]: %d bytes, blake3 %x", handle.ID(), first, last, total, digest)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	flags := append(storeFlags(),
		&cli.Int64Flag{Name: "ledger-id", Required: true, Usage: "Ledger ID of the offloaded ledger", EnvVars: []string{"LEDGER_ID"}},
		&cli.StringFlag{Name: "uid", Required: true, Usage: "UID the ledger was offloaded under", EnvVars: []string{"UID"}},
	)
	return &cli.Command{
		Name:  "verify",
		Usage: "Cross-check the index object of an offloaded ledger against its data blocks",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := setup(c); err != nil {
				return err
			}
			uid, err := parseUID(c)
			if err != nil {
				return err
			}

			ctx := context.Background()
			store, err := blobstore.New(ctx, storeConfig(c))
			if err != nil {
				return err
			}
			return verifyOffloaded(ctx, store, c.Int64("ledger-id"), uid)
		},
	}
}

// verifyOffloaded decodes the index object and checks every recorded block
// against the data object: lengths, header magic, and first entry IDs.
func verifyOffloaded(ctx context.Context, store blobstore.Store, ledgerID int64, uid uuid.UUID) error {
	indexKey := offload.IndexObjectKey(ledgerID, uid)
	dataKey := offload.DataObjectKey(ledgerID, uid)

	obj, err := store.GetObject(ctx, indexKey)
	if err != nil {
		return errors.Wrapf(err, "open index object %s", indexKey)
	}
	defer obj.Body.Close()
	blk, err := index.Decode(obj.Body)
	if err != nil {
		return err
	}
	meta := blk.LedgerMetadata()
	logrus.Infof("index %s: %d blocks, data object %d bytes, ledger length %d, last entry %d",
		indexKey, blk.EntryCount(), blk.DataObjectLength(), meta.Length, meta.LastEntryID)

	info, err := store.StatObject(ctx, dataKey)
	if err != nil {
		return errors.Wrapf(err, "stat data object %s", dataKey)
	}
	if info.Size != blk.DataObjectLength() {
		return errors.Errorf("data object %s is %d bytes, index records %d", dataKey, info.Size, blk.DataObjectLength())
	}
	if got := info.UserMetadata[offload.MetadataFormatVersionKey]; got != offload.FormatVersion {
		return errors.Errorf("data object %s has format version %q", dataKey, got)
	}

	for i, entry := range blk.Entries() {
		rc, err := store.GetObjectRange(ctx, dataKey, entry.BlockOffset, entry.BlockOffset+blockstream.HeaderSize-1)
		if err != nil {
			return errors.Wrapf(err, "read header of block %d", i)
		}
		raw := make([]byte, blockstream.HeaderSize)
		_, err = io.ReadFull(rc, raw)
		rc.Close()
		if err != nil {
			return errors.Wrapf(err, "read header of block %d", i)
		}
		hdr, err := blockstream.ParseHeader(raw)
		if err != nil {
			return errors.Wrapf(err, "block %d at offset %d", i, entry.BlockOffset)
		}
		if hdr.FirstEntryID != entry.FirstEntryID {
			return errors.Errorf("block %d starts at entry %d, index records %d", i, hdr.FirstEntryID, entry.FirstEntryID)
		}
		wantLength := blockEnd(blk, i) - entry.BlockOffset
		if int64(hdr.BlockLength) != wantLength {
			return errors.Errorf("block %d header says %d bytes, index spacing says %d", i, hdr.BlockLength, wantLength)
		}
	}

	// The first entry of the ledger must be resolvable through the index.
	if _, err := blk.Lookup(0); err != nil {
		return errors.Wrap(err, "lookup of entry 0")
	}
	logrus.Infof("verified %d blocks of %s", blk.EntryCount(), dataKey)
	return nil
}

func blockEnd(blk *index.Block, i int) int64 {
	entries := blk.Entries()
	if i+1 < len(entries) {
		return entries[i+1].BlockOffset
	}
	return blk.DataObjectLength()
}

func deleteCommand() *cli.Command {
	flags := append(storeFlags(),
		&cli.Int64Flag{Name: "ledger-id", Required: true, Usage: "Ledger ID of the offloaded ledger", EnvVars: []string{"LEDGER_ID"}},
		&cli.StringFlag{Name: "uid", Required: true, Usage: "UID the ledger was offloaded under", EnvVars: []string{"UID"}},
	)
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete the data and index objects of an offloaded ledger",
		Flags: flags,
		Action: func(c *cli.Context) error {
			if err := setup(c); err != nil {
				return err
			}
			defer metrics.Export()

			engine, stop, err := newEngine(c)
			if err != nil {
				return err
			}
			defer stop()

			uid, err := parseUID(c)
			if err != nil {
				return err
			}
			ctx := context.Background()
			return engine.DeleteOffloaded(ctx, c.Int64("ledger-id"), uid).Wait(ctx)
		},
	}
}

func createBucketCommand() *cli.Command {
	return &cli.Command{
		Name:  "create-bucket",
		Usage: "Create the configured bucket",
		Flags: storeFlags(),
		Action: func(c *cli.Context) error {
			if err := setup(c); err != nil {
				return err
			}
			engine, stop, err := newEngine(c)
			if err != nil {
				return err
			}
			defer stop()

			created, err := engine.CreateBucket(context.Background())
			if err != nil {
				return err
			}
			if !created {
				logrus.Infof("bucket %s already exists", c.String("bucket"))
			}
			return nil
		},
	}
}

func deleteBucketCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete-bucket",
		Usage: "Delete the configured bucket",
		Flags: storeFlags(),
		Action: func(c *cli.Context) error {
			if err := setup(c); err != nil {
				return err
			}
			engine, stop, err := newEngine(c)
			if err != nil {
				return err
			}
			defer stop()
			return engine.DeleteBucket(context.Background())
		},
	}
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	versionString := fmt.Sprintf("%s.%s.%s", version.Version(), version.GitSHA(), version.BuildTime())

	app := &cli.App{
		Name:    "logtier",
		Usage:   "Ledger offload engine for S3 and GCS object storage",
		Version: versionString,
	}

	app.Commands = []*cli.Command{
		benchCommand(),
		readCommand(),
		verifyCommand(),
		deleteCommand(),
		createBucketCommand(),
		deleteBucketCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
