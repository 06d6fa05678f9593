// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package offload

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"lukechampine.com/blake3"

	"github.com/logtier/logtier/pkg/blobstore"
	"github.com/logtier/logtier/pkg/blockstream"
	"github.com/logtier/logtier/pkg/index"
	"github.com/logtier/logtier/pkg/ledger"
)

func TestReadEntriesSubsets(t *testing.T) {
	store := blobstore.NewMemory()
	// A 64 byte read buffer is smaller than one payload, forcing buffer
	// growth and refills while frames are walked.
	o := testOffloader(t, store, 512, 64)
	uid := uuid.New()

	payloads := sequentialPayloads(20, 100)
	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(101, payloads), uid)

	handle, err := o.ReadOffloaded(context.Background(), 101, uid).Wait(context.Background())
	require.NoError(t, err)
	defer handle.Close()

	cases := []struct {
		name        string
		first, last int64
	}{
		{"SingleFirst", 0, 0},
		{"SingleLast", 19, 19},
		{"WithinBlock", 0, 2},
		{"MidBlockStart", 1, 2},
		{"AcrossBlocks", 2, 4},
		{"AcrossThreeBlocks", 2, 8},
		{"IntoFinalBlock", 17, 19},
		{"Everything", 0, 19},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := handle.ReadEntries(context.Background(), tt.first, tt.last)
			require.NoError(t, err)
			require.Len(t, entries, int(tt.last-tt.first+1))
			for i, entry := range entries {
				id := tt.first + int64(i)
				require.Equal(t, id, entry.ID)
				require.Equal(t, payloads[id], entry.Data)
			}
		})
	}
}

func TestReadEntriesOutOfRange(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)
	uid := uuid.New()

	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(102, sequentialPayloads(5, 40)), uid)
	handle, err := o.ReadOffloaded(context.Background(), 102, uid).Wait(context.Background())
	require.NoError(t, err)
	defer handle.Close()

	for _, tt := range []struct {
		name        string
		first, last int64
	}{
		{"NegativeFirst", -1, 2},
		{"LastBeforeFirst", 3, 2},
		{"PastLastEntry", 2, 5},
		{"WholePastEnd", 5, 9},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handle.ReadEntries(context.Background(), tt.first, tt.last)
			require.ErrorIs(t, err, index.ErrEntryOutOfRange)
		})
	}
}

func TestReadEntriesAfterClose(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)
	uid := uuid.New()

	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(103, sequentialPayloads(3, 40)), uid)
	handle, err := o.ReadOffloaded(context.Background(), 103, uid).Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, handle.Close())

	_, err = handle.ReadEntries(context.Background(), 0, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "closed")
}

func TestReadOffloadedMissingObjects(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)

	_, err := o.ReadOffloaded(context.Background(), 104, uuid.New()).Wait(context.Background())
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestReadOffloadedCorruptIndex(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)
	uid := uuid.New()

	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(105, sequentialPayloads(3, 40)), uid)
	indexKey := IndexObjectKey(105, uid)
	raw := store.ObjectData(indexKey)
	raw[0] ^= 0xFF
	store.SetObjectData(indexKey, raw)

	_, err := o.ReadOffloaded(context.Background(), 105, uid).Wait(context.Background())
	require.ErrorIs(t, err, index.ErrCorruptIndex)
}

func TestReadOffloadedDataLengthMismatch(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)
	uid := uuid.New()

	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(106, sequentialPayloads(3, 40)), uid)
	dataKey := DataObjectKey(106, uid)
	raw := store.ObjectData(dataKey)
	store.SetObjectData(dataKey, raw[:len(raw)-10])

	_, err := o.ReadOffloaded(context.Background(), 106, uid).Wait(context.Background())
	require.ErrorIs(t, err, index.ErrCorruptIndex)
	require.Contains(t, err.Error(), "index records")
}

func TestReadOffloadedVersionMismatch(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)
	uid := uuid.New()

	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(107, sequentialPayloads(3, 40)), uid)

	t.Run("IndexObject", func(t *testing.T) {
		store.SetObjectUserMetadata(IndexObjectKey(107, uid), MetadataFormatVersionKey, "2")
		_, err := o.ReadOffloaded(context.Background(), 107, uid).Wait(context.Background())
		require.ErrorIs(t, err, ErrIncompatibleVersion)
	})

	t.Run("DataObject", func(t *testing.T) {
		store.SetObjectUserMetadata(IndexObjectKey(107, uid), MetadataFormatVersionKey, "1")
		store.SetObjectUserMetadata(DataObjectKey(107, uid), MetadataFormatVersionKey, "2")
		_, err := o.ReadOffloaded(context.Background(), 107, uid).Wait(context.Background())
		require.ErrorIs(t, err, ErrIncompatibleVersion)
	})
}

func TestReadEntriesCorruptFrame(t *testing.T) {
	newHandle := func(t *testing.T, mutate func(data []byte)) ledger.ReadHandle {
		t.Helper()
		store := blobstore.NewMemory()
		o := testOffloader(t, store, 1024, 0)
		uid := uuid.New()
		offloadLedgerForTest(t, o, ledger.NewMemoryLedger(108, sequentialPayloads(3, 100)), uid)

		dataKey := DataObjectKey(108, uid)
		raw := store.ObjectData(dataKey)
		mutate(raw)
		store.SetObjectData(dataKey, raw)

		handle, err := o.ReadOffloaded(context.Background(), 108, uid).Wait(context.Background())
		require.NoError(t, err)
		t.Cleanup(func() { handle.Close() })
		return handle
	}

	// Frame i of the single block sits at HeaderSize + i*(12+100).
	frameOffset := func(i int) int {
		return blockstream.HeaderSize + i*(blockstream.FrameHeaderSize+100)
	}

	t.Run("WrongEntryID", func(t *testing.T) {
		handle := newHandle(t, func(data []byte) {
			binary.BigEndian.PutUint64(data[frameOffset(1)+4:frameOffset(1)+12], 999)
		})
		_, err := handle.ReadEntries(context.Background(), 1, 1)
		require.ErrorIs(t, err, ErrCorruptEntry)
		require.Contains(t, err.Error(), "found frame for entry 999")
	})

	t.Run("LengthPastBlockEnd", func(t *testing.T) {
		handle := newHandle(t, func(data []byte) {
			binary.BigEndian.PutUint32(data[frameOffset(0):frameOffset(0)+4], 1<<30)
		})
		_, err := handle.ReadEntries(context.Background(), 0, 0)
		require.ErrorIs(t, err, ErrCorruptEntry)
		require.Contains(t, err.Error(), "past its block end")
	})

	t.Run("ZeroedFrames", func(t *testing.T) {
		handle := newHandle(t, func(data []byte) {
			for i := frameOffset(1); i < len(data); i++ {
				data[i] = 0
			}
		})
		// Entry 0 is intact, the rest of the block reads as padding.
		entries, err := handle.ReadEntries(context.Background(), 0, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		_, err = handle.ReadEntries(context.Background(), 2, 2)
		require.ErrorIs(t, err, ErrCorruptEntry)
	})
}

func TestReadEntriesRangeReadFailure(t *testing.T) {
	store := blobstore.NewMemory()
	o := testOffloader(t, store, 1024, 0)
	uid := uuid.New()

	offloadLedgerForTest(t, o, ledger.NewMemoryLedger(109, sequentialPayloads(3, 40)), uid)
	handle, err := o.ReadOffloaded(context.Background(), 109, uid).Wait(context.Background())
	require.NoError(t, err)
	defer handle.Close()

	store.FailGetObjectRange = func(key string, firstByte, lastByte int64) error {
		return errors.New("injected range failure")
	}
	_, err = handle.ReadEntries(context.Background(), 0, 2)
	require.Error(t, err)
	require.Contains(t, err.Error(), "injected range failure")

	// The handle recovers once the store does.
	store.FailGetObjectRange = nil
	entries, err := handle.ReadEntries(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

// TestOffloadLargeRandomLedger offloads a randomized ledger of roughly 9 MiB
// at deployment-scale block sizes and cross-checks the index against the
// bytes actually laid down in the data object before reading it all back.
func TestOffloadLargeRandomLedger(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var payloads [][]byte
	var total int64
	digest := blake3.New(32, nil)
	for total < 9<<20 {
		data := make([]byte, rng.Intn(100000))
		rng.Read(data)
		payloads = append(payloads, data)
		total += int64(len(data))
		digest.Write(data)
	}
	sourceSum := digest.Sum(nil)
	entryCount := int64(len(payloads))

	for _, maxBlockSize := range []int{5 << 20, 8 << 20, 16 << 20} {
		t.Run(fmt.Sprintf("BlockSize%dMiB", maxBlockSize>>20), func(t *testing.T) {
			store := blobstore.NewMemory()
			o := testOffloader(t, store, maxBlockSize, 0)
			uid := uuid.New()
			offloadLedgerForTest(t, o, ledger.NewMemoryLedger(111, payloads), uid)

			blk, err := index.Decode(bytes.NewReader(store.ObjectData(IndexObjectKey(111, uid))))
			require.NoError(t, err)
			data := store.ObjectData(DataObjectKey(111, uid))
			require.Equal(t, int64(len(data)), blk.DataObjectLength())

			blocks := blk.Entries()
			for i, e := range blocks {
				require.Equal(t, int32(i+1), e.PartID)
				require.Zero(t, e.BlockOffset%int64(maxBlockSize))
				if i > 0 {
					require.Greater(t, e.FirstEntryID, blocks[i-1].FirstEntryID)
				}
				end := blk.DataObjectLength()
				if i+1 < len(blocks) {
					end = blocks[i+1].BlockOffset
				}
				hdr, err := blockstream.ParseHeader(data[e.BlockOffset:])
				require.NoError(t, err)
				require.Equal(t, e.FirstEntryID, hdr.FirstEntryID)
				require.Equal(t, end-e.BlockOffset, int64(hdr.BlockLength))
			}

			handle, err := o.ReadOffloaded(context.Background(), 111, uid).Wait(context.Background())
			require.NoError(t, err)
			defer handle.Close()
			require.Equal(t, total, handle.Length())

			readBack := blake3.New(32, nil)
			for first := int64(0); first < entryCount; first += 64 {
				last := first + 63
				if last >= entryCount {
					last = entryCount - 1
				}
				entries, err := handle.ReadEntries(context.Background(), first, last)
				require.NoError(t, err)
				for _, entry := range entries {
					readBack.Write(entry.Data)
				}
			}
			require.Equal(t, sourceSum, readBack.Sum(nil))
		})
	}
}

// TestOffloadReadBackMatchesSource offloads one randomized ledger at several
// block sizes and requires the bytes read back to be identical to the
// source, block layout notwithstanding.
func TestOffloadReadBackMatchesSource(t *testing.T) {
	const entryCount = 400
	rng := rand.New(rand.NewSource(42))
	payloads := make([][]byte, entryCount)
	digest := blake3.New(32, nil)
	var total int64
	for i := range payloads {
		size := rng.Intn(3000)
		if i%37 == 0 {
			size = 0 // empty payloads are legal entries
		}
		if i == 0 {
			size = 1
		}
		data := make([]byte, size)
		rng.Read(data)
		payloads[i] = data
		total += int64(size)
		digest.Write(data)
	}
	sourceSum := digest.Sum(nil)

	for _, maxBlockSize := range []int{4 * 1024, 64 * 1024, 1024 * 1024} {
		t.Run(fmt.Sprintf("BlockSize%d", maxBlockSize), func(t *testing.T) {
			store := blobstore.NewMemory()
			o := testOffloader(t, store, maxBlockSize, 32*1024)
			uid := uuid.New()
			offloadLedgerForTest(t, o, ledger.NewMemoryLedger(110, payloads), uid)

			handle, err := o.ReadOffloaded(context.Background(), 110, uid).Wait(context.Background())
			require.NoError(t, err)
			defer handle.Close()
			require.Equal(t, total, handle.Length())
			require.Equal(t, int64(entryCount-1), handle.LastAddConfirmed())

			readBack := blake3.New(32, nil)
			for first := int64(0); first < entryCount; first += 50 {
				last := first + 49
				if last >= entryCount {
					last = entryCount - 1
				}
				entries, err := handle.ReadEntries(context.Background(), first, last)
				require.NoError(t, err)
				require.Len(t, entries, int(last-first+1))
				for _, entry := range entries {
					readBack.Write(entry.Data)
				}
			}
			require.Equal(t, sourceSum, readBack.Sum(nil))

			subRng := rand.New(rand.NewSource(int64(maxBlockSize)))
			for i := 0; i < 25; i++ {
				first := subRng.Int63n(entryCount)
				last := first + subRng.Int63n(entryCount-first)
				entries, err := handle.ReadEntries(context.Background(), first, last)
				require.NoError(t, err)
				require.Len(t, entries, int(last-first+1))
				for j, entry := range entries {
					id := first + int64(j)
					require.Equal(t, id, entry.ID)
					require.True(t, bytes.Equal(payloads[id], entry.Data), "entry %d", id)
				}
			}
		})
	}
}
