// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package blockstream

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/logtier/logtier/pkg/ledger"
)

// zeroPad is a shared read-only source of block padding.
var zeroPad [16 * 1024]byte

// CalculateBlockSize returns the size of the next data block: maxBlockSize,
// trimmed down when the remaining entries of the ledger (with framing and
// header overhead) need less than that. The result never goes below one
// header plus one frame header, so the stream stays parseable even if the
// handle under-reports its length.
func CalculateBlockSize(maxBlockSize int, rh ledger.ReadHandle, firstEntry, entryBytesWritten int64) int {
	remainingEntries := rh.LastAddConfirmed() - firstEntry + 1
	needed := int64(HeaderSize) + (rh.Length() - entryBytesWritten) + remainingEntries*FrameHeaderSize
	if needed > int64(maxBlockSize) {
		return maxBlockSize
	}
	if needed < HeaderSize+FrameHeaderSize {
		return HeaderSize + FrameHeaderSize
	}
	return int(needed)
}

// SegmentStream emits exactly one data block as a lazy byte stream: the
// block header first, then whole entries framed and packed greedily from
// startEntryID upward, then zero padding to the exact block size. Entries
// are pulled from the ledger one at a time during Read, so at most one
// entry is buffered.
type SegmentStream struct {
	ctx       context.Context
	rh        ledger.ReadHandle
	blockSize int
	lastEntry int64

	pending      []byte
	queued       int
	nextEntryID  int64
	endEntryID   int64
	payloadBytes int64
	entriesDone  bool
	err          error
	closed       bool
}

// NewSegmentStream starts a block at startEntryID. blockSize must come from
// CalculateBlockSize. ctx bounds the ledger reads issued while the stream
// is consumed.
func NewSegmentStream(ctx context.Context, rh ledger.ReadHandle, startEntryID int64, blockSize int) *SegmentStream {
	s := &SegmentStream{
		ctx:         ctx,
		rh:          rh,
		blockSize:   blockSize,
		lastEntry:   rh.LastAddConfirmed(),
		nextEntryID: startEntryID,
		endEntryID:  -1,
	}
	if blockSize < HeaderSize {
		s.err = errors.Errorf("block size %d below header size %d", blockSize, HeaderSize)
		return s
	}
	s.pending = Header{
		BlockLength:  int32(blockSize),
		FirstEntryID: startEntryID,
	}.Encode()
	s.queued = HeaderSize
	return s
}

func (s *SegmentStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errors.New("segment stream closed")
	}
	if s.err != nil {
		return 0, s.err
	}

	total := 0
	for total < len(p) {
		if len(s.pending) == 0 {
			if s.queued >= s.blockSize {
				break
			}
			if err := s.fill(); err != nil {
				s.err = err
				if total > 0 {
					return total, nil
				}
				return 0, err
			}
		}
		n := copy(p[total:], s.pending)
		s.pending = s.pending[n:]
		total += n
	}
	if total == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

// fill queues the next chunk: one entry frame while entries keep fitting,
// zero padding afterwards.
func (s *SegmentStream) fill() error {
	if !s.entriesDone {
		budget := s.blockSize - s.queued
		switch {
		case s.nextEntryID > s.lastEntry:
			s.entriesDone = true
		case budget < FrameHeaderSize:
			s.entriesDone = true
		default:
			entries, err := s.rh.ReadEntries(s.ctx, s.nextEntryID, s.nextEntryID)
			if err != nil {
				return errors.Wrapf(err, "read entry %d of ledger %d", s.nextEntryID, s.rh.ID())
			}
			if len(entries) != 1 || entries[0].ID != s.nextEntryID {
				return errors.Errorf("ledger %d returned wrong entries for entry %d", s.rh.ID(), s.nextEntryID)
			}
			entry := entries[0]
			frame := FrameHeaderSize + len(entry.Data)
			if frame > budget {
				if s.endEntryID < 0 {
					return errors.Wrapf(ErrEntryTooLarge, "entry %d of ledger %d is %d bytes, block capacity is %d",
						entry.ID, s.rh.ID(), len(entry.Data), MaxEntrySize(s.blockSize))
				}
				s.entriesDone = true
				break
			}
			buf := make([]byte, frame)
			binary.BigEndian.PutUint32(buf[0:4], uint32(len(entry.Data)))
			binary.BigEndian.PutUint64(buf[4:12], uint64(entry.ID))
			copy(buf[FrameHeaderSize:], entry.Data)

			s.pending = buf
			s.queued += frame
			s.endEntryID = entry.ID
			s.payloadBytes += int64(len(entry.Data))
			s.nextEntryID++
			return nil
		}
	}

	remaining := s.blockSize - s.queued
	chunk := remaining
	if chunk > len(zeroPad) {
		chunk = len(zeroPad)
	}
	s.pending = zeroPad[:chunk]
	s.queued += chunk
	return nil
}

// EndEntryID returns the ID of the last entry packed into the block, or -1
// when none fit. Valid once the stream has been consumed past the entry
// region; the offload loop reads the whole block before asking.
func (s *SegmentStream) EndEntryID() int64 { return s.endEntryID }

// PayloadBytesRead returns the entry payload bytes consumed from the
// ledger, excluding framing.
func (s *SegmentStream) PayloadBytesRead() int64 { return s.payloadBytes }

func (s *SegmentStream) Close() error {
	s.closed = true
	s.pending = nil
	return nil
}
