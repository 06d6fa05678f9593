// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package blockstream turns a contiguous run of ledger entries into
// fixed-size data blocks: a 128 byte block header, length-framed entries
// packed greedily, and zero padding up to the exact block size. Blocks are
// self-describing so a reader holding only the data object can still walk
// them.
package blockstream

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	// HeaderSize is the fixed size of the data-block header.
	HeaderSize = 128

	// FrameHeaderSize is the per-entry framing overhead: a 4 byte payload
	// length followed by the 8 byte entry ID.
	FrameHeaderSize = 12

	// headerMagic is "LTDB".
	headerMagic = 0x4C544442
)

var (
	// ErrCorruptBlock marks block headers that fail structural checks.
	ErrCorruptBlock = errors.New("corrupt data block header")

	// ErrEntryTooLarge marks entries that cannot fit a whole block even
	// when packed alone. Offloads fail on it: an entry that fits no block
	// would stall the block loop forever.
	ErrEntryTooLarge = errors.New("entry exceeds block capacity")
)

// Header describes one data block. EntryCount is zero in blocks written by
// SegmentStream: a streaming writer emits the header before it knows how
// many entries will fit. Readers derive entry positions from the frames and
// must not rely on it.
type Header struct {
	BlockLength  int32
	FirstEntryID int64
	EntryCount   int32
}

// Encode serializes the header into exactly HeaderSize bytes, the tail
// being reserved zero padding.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], headerMagic)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.BlockLength))
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.FirstEntryID))
	binary.BigEndian.PutUint32(buf[16:20], uint32(h.EntryCount))
	return buf
}

// ParseHeader reads a Header back from the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Wrapf(ErrCorruptBlock, "need %d bytes, have %d", HeaderSize, len(b))
	}
	if magic := binary.BigEndian.Uint32(b[0:4]); magic != headerMagic {
		return Header{}, errors.Wrapf(ErrCorruptBlock, "bad magic 0x%08X", magic)
	}
	h := Header{
		BlockLength:  int32(binary.BigEndian.Uint32(b[4:8])),
		FirstEntryID: int64(binary.BigEndian.Uint64(b[8:16])),
		EntryCount:   int32(binary.BigEndian.Uint32(b[16:20])),
	}
	if h.BlockLength < HeaderSize {
		return Header{}, errors.Wrapf(ErrCorruptBlock, "block length %d below header size", h.BlockLength)
	}
	return h, nil
}

// MaxEntrySize returns the largest entry payload that can be packed into a
// block of maxBlockSize bytes.
func MaxEntrySize(maxBlockSize int) int {
	return maxBlockSize - HeaderSize - FrameHeaderSize
}
