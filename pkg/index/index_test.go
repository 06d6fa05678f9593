// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/logtier/logtier/pkg/ledger"
)

func testMetadata(lastEntry int64) *ledger.Metadata {
	return &ledger.Metadata{
		EnsembleSize:    3,
		WriteQuorumSize: 2,
		AckQuorumSize:   2,
		Length:          1 << 20,
		LastEntryID:     lastEntry,
		Closed:          true,
		CreationTime:    time.UnixMilli(1721900000000).UTC(),
	}
}

func buildTestBlock(t *testing.T) *Block {
	t.Helper()
	b, err := NewBuilder().
		WithLedgerMetadata(testMetadata(8999)).
		WithDataBlockHeaderLength(128).
		AddBlock(0, 1, 4096).
		AddBlock(3000, 2, 4096).
		AddBlock(6000, 3, 1024).
		Build()
	require.NoError(t, err)
	return b
}

func TestBuildAccumulatesOffsets(t *testing.T) {
	b := buildTestBlock(t)

	require.Equal(t, 3, b.EntryCount())
	require.Equal(t, int64(4096+4096+1024), b.DataObjectLength())
	require.Equal(t, int32(128), b.DataBlockHeaderLength())

	entries := b.Entries()
	require.Equal(t, Entry{FirstEntryID: 0, PartID: 1, BlockOffset: 0}, entries[0])
	require.Equal(t, Entry{FirstEntryID: 3000, PartID: 2, BlockOffset: 4096}, entries[1])
	require.Equal(t, Entry{FirstEntryID: 6000, PartID: 3, BlockOffset: 8192}, entries[2])
}

func TestRoundTrip(t *testing.T) {
	b := buildTestBlock(t)

	r := b.Reader()
	encoded, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, b.StreamSize(), int64(len(encoded)))

	decoded, err := Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, b.Entries(), decoded.Entries())
	require.Equal(t, b.DataObjectLength(), decoded.DataObjectLength())
	require.Equal(t, b.DataBlockHeaderLength(), decoded.DataBlockHeaderLength())
	require.Equal(t, b.LedgerMetadata(), decoded.LedgerMetadata())
}

func TestReaderRestarts(t *testing.T) {
	b := buildTestBlock(t)

	first, err := io.ReadAll(b.Reader())
	require.NoError(t, err)
	second, err := io.ReadAll(b.Reader())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLookup(t *testing.T) {
	b := buildTestBlock(t)

	cases := []struct {
		entryID  int64
		wantPart int32
	}{
		{0, 1},
		{1, 1},
		{2999, 1},
		{3000, 2},
		{4500, 2},
		{5999, 2},
		{6000, 3},
		{8999, 3},
	}
	for _, tc := range cases {
		e, err := b.Lookup(tc.entryID)
		require.NoError(t, err, "entry %d", tc.entryID)
		require.Equal(t, tc.wantPart, e.PartID, "entry %d", tc.entryID)
	}

	_, err := b.Lookup(-1)
	require.ErrorIs(t, err, ErrEntryOutOfRange)
	_, err = b.Lookup(9000)
	require.ErrorIs(t, err, ErrEntryOutOfRange)
}

func TestBuilderValidation(t *testing.T) {
	meta := testMetadata(100)

	t.Run("NoMetadata", func(t *testing.T) {
		_, err := NewBuilder().WithDataBlockHeaderLength(128).AddBlock(0, 1, 512).Build()
		require.Error(t, err)
	})

	t.Run("NoHeaderLength", func(t *testing.T) {
		_, err := NewBuilder().WithLedgerMetadata(meta).AddBlock(0, 1, 512).Build()
		require.Error(t, err)
	})

	t.Run("NoBlocks", func(t *testing.T) {
		_, err := NewBuilder().WithLedgerMetadata(meta).WithDataBlockHeaderLength(128).Build()
		require.Error(t, err)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := NewBuilder().
			WithLedgerMetadata(meta).
			WithDataBlockHeaderLength(128).
			AddBlock(0, 1, 512).
			WithDataObjectLength(9999).
			Build()
		require.Error(t, err)
		require.Contains(t, err.Error(), "does not match")
	})

	t.Run("NonMonotonicEntryIDs", func(t *testing.T) {
		_, err := NewBuilder().
			WithLedgerMetadata(meta).
			WithDataBlockHeaderLength(128).
			AddBlock(50, 1, 512).
			AddBlock(50, 2, 512).
			Build()
		require.Error(t, err)
	})

	t.Run("NonMonotonicPartIDs", func(t *testing.T) {
		_, err := NewBuilder().
			WithLedgerMetadata(meta).
			WithDataBlockHeaderLength(128).
			AddBlock(0, 2, 512).
			AddBlock(50, 2, 512).
			Build()
		require.Error(t, err)
	})

	t.Run("ExplicitMatchingLength", func(t *testing.T) {
		b, err := NewBuilder().
			WithLedgerMetadata(meta).
			WithDataBlockHeaderLength(128).
			AddBlock(0, 1, 512).
			WithDataObjectLength(512).
			Build()
		require.NoError(t, err)
		require.Equal(t, int64(512), b.DataObjectLength())
	})
}

func TestDecodeCorruption(t *testing.T) {
	b := buildTestBlock(t)
	encoded, err := io.ReadAll(b.Reader())
	require.NoError(t, err)

	t.Run("BadMagic", func(t *testing.T) {
		bad := append([]byte{}, encoded...)
		bad[0] ^= 0xFF
		_, err := Decode(bytes.NewReader(bad))
		require.ErrorIs(t, err, ErrCorruptIndex)
	})

	t.Run("BadVersion", func(t *testing.T) {
		bad := append([]byte{}, encoded...)
		bad[7] = 42
		_, err := Decode(bytes.NewReader(bad))
		require.ErrorIs(t, err, ErrCorruptIndex)
		require.Contains(t, err.Error(), "unsupported version")
	})

	t.Run("Truncated", func(t *testing.T) {
		for _, cut := range []int{0, 10, fixedHeaderSize, fixedHeaderSize + 5, len(encoded) - 1} {
			_, err := Decode(bytes.NewReader(encoded[:cut]))
			require.ErrorIs(t, err, ErrCorruptIndex, "cut at %d", cut)
		}
	})

	t.Run("MangledMetadata", func(t *testing.T) {
		bad := append([]byte{}, encoded...)
		bad[fixedHeaderSize+3] ^= 0xFF
		_, err := Decode(bytes.NewReader(bad))
		require.ErrorIs(t, err, ErrCorruptIndex)
	})

	t.Run("UnsortedEntries", func(t *testing.T) {
		// Swap the first two index entries in the encoded form.
		metaLen := len(testMetadata(8999).Encode())
		entriesOff := fixedHeaderSize + metaLen
		bad := append([]byte{}, encoded...)
		tmp := make([]byte, entrySize)
		copy(tmp, bad[entriesOff:entriesOff+entrySize])
		copy(bad[entriesOff:entriesOff+entrySize], bad[entriesOff+entrySize:entriesOff+2*entrySize])
		copy(bad[entriesOff+entrySize:entriesOff+2*entrySize], tmp)
		_, err := Decode(bytes.NewReader(bad))
		require.ErrorIs(t, err, ErrCorruptIndex)
	})
}
