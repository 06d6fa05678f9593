// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package offload

import (
	"context"
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/logtier/logtier/pkg/blobstore"
	"github.com/logtier/logtier/pkg/blockstream"
	"github.com/logtier/logtier/pkg/index"
	"github.com/logtier/logtier/pkg/ledger"
)

// ErrCorruptEntry marks data blocks whose entry frames disagree with the
// index or run past their block.
var ErrCorruptEntry = errors.New("corrupt entry frame")

// readHandle serves entries of an offloaded ledger from the data object,
// positioned by the decoded index and buffered through ranged reads. Reads
// are serialized; the handle keeps a single range buffer.
type readHandle struct {
	store    blobstore.Store
	dataKey  string
	ledgerID int64
	idx      *index.Block
	blocks   []index.Entry

	readBufferSize int

	mu     sync.Mutex
	buf    []byte
	bufOff int64
	closed bool
}

// openReadHandle fetches and decodes the index object, then verifies both
// objects were written by a compatible layout before any entry is served.
func (o *Offloader) openReadHandle(ctx context.Context, ledgerID int64, uid uuid.UUID) (ledger.ReadHandle, error) {
	indexKey := IndexObjectKey(ledgerID, uid)
	dataKey := DataObjectKey(ledgerID, uid)

	obj, err := o.store.GetObject(ctx, indexKey)
	if err != nil {
		return nil, errors.Wrapf(err, "open index object %s", indexKey)
	}
	defer obj.Body.Close()
	if err := checkObjectVersion(indexKey, obj.ObjectInfo); err != nil {
		return nil, err
	}
	idx, err := index.Decode(obj.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "decode index object %s", indexKey)
	}

	info, err := o.store.StatObject(ctx, dataKey)
	if err != nil {
		return nil, errors.Wrapf(err, "stat data object %s", dataKey)
	}
	if err := checkObjectVersion(dataKey, info); err != nil {
		return nil, err
	}
	if info.Size != idx.DataObjectLength() {
		return nil, errors.Wrapf(index.ErrCorruptIndex, "data object %s is %d bytes, index records %d",
			dataKey, info.Size, idx.DataObjectLength())
	}

	logrus.Debugf("opened offloaded ledger %d: %d blocks, %d bytes", ledgerID, idx.EntryCount(), idx.DataObjectLength())
	return &readHandle{
		store:          o.store,
		dataKey:        dataKey,
		ledgerID:       ledgerID,
		idx:            idx,
		blocks:         idx.Entries(),
		readBufferSize: o.readBufferSize,
	}, nil
}

func (h *readHandle) ID() int64 { return h.ledgerID }

func (h *readHandle) Length() int64 { return h.idx.LedgerMetadata().Length }

func (h *readHandle) IsClosed() bool { return h.idx.LedgerMetadata().Closed }

func (h *readHandle) LastAddConfirmed() int64 { return h.idx.LedgerMetadata().LastEntryID }

func (h *readHandle) Metadata() *ledger.Metadata { return h.idx.LedgerMetadata() }

// ReadEntries walks the data object from the block containing firstEntry,
// skipping frames below the wanted ID and collecting until lastEntry. A
// frame that disagrees with the index fails with ErrCorruptEntry.
func (h *readHandle) ReadEntries(ctx context.Context, firstEntry, lastEntry int64) ([]ledger.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.Errorf("read handle for ledger %d is closed", h.ledgerID)
	}
	if firstEntry < 0 || lastEntry < firstEntry || lastEntry > h.LastAddConfirmed() {
		return nil, errors.Wrapf(index.ErrEntryOutOfRange, "entries [%d, %d] of ledger %d with last entry %d",
			firstEntry, lastEntry, h.ledgerID, h.LastAddConfirmed())
	}

	out := make([]ledger.Entry, 0, lastEntry-firstEntry+1)
	block := -1
	var pos, blockEnd int64
	for id := firstEntry; id <= lastEntry; id++ {
		b, err := h.blockFor(id)
		if err != nil {
			return nil, err
		}
		if b != block {
			block = b
			pos = h.blocks[b].BlockOffset + int64(h.idx.DataBlockHeaderLength())
			blockEnd = h.blockEnd(b)
		}

		// Scan frames until the one for id. Frames below id are entries
		// before the requested range inside the same block.
		for {
			if pos+blockstream.FrameHeaderSize > blockEnd {
				return nil, errors.Wrapf(ErrCorruptEntry, "entry %d of ledger %d missing from its data block", id, h.ledgerID)
			}
			hdr, err := h.view(ctx, pos, blockstream.FrameHeaderSize)
			if err != nil {
				return nil, err
			}
			payloadLen := int64(int32(binary.BigEndian.Uint32(hdr[0:4])))
			frameID := int64(binary.BigEndian.Uint64(hdr[4:12]))
			if payloadLen < 0 || pos+blockstream.FrameHeaderSize+payloadLen > blockEnd {
				return nil, errors.Wrapf(ErrCorruptEntry, "frame at offset %d of %s has length %d past its block end",
					pos, h.dataKey, payloadLen)
			}
			if frameID == id {
				payload, err := h.view(ctx, pos+blockstream.FrameHeaderSize, payloadLen)
				if err != nil {
					return nil, err
				}
				data := make([]byte, payloadLen)
				copy(data, payload)
				out = append(out, ledger.Entry{ID: id, Data: data})
				pos += blockstream.FrameHeaderSize + payloadLen
				break
			}
			if frameID >= 0 && frameID < id {
				pos += blockstream.FrameHeaderSize + payloadLen
				continue
			}
			return nil, errors.Wrapf(ErrCorruptEntry, "want entry %d of ledger %d, found frame for entry %d",
				id, h.ledgerID, frameID)
		}
	}
	return out, nil
}

func (h *readHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.buf = nil
	return nil
}

// blockFor returns the position in h.blocks of the block covering id: the
// one with the greatest FirstEntryID not above it.
func (h *readHandle) blockFor(id int64) (int, error) {
	i := sort.Search(len(h.blocks), func(i int) bool {
		return h.blocks[i].FirstEntryID > id
	})
	if i == 0 {
		return 0, errors.Wrapf(index.ErrEntryOutOfRange, "entry %d below first indexed entry %d", id, h.blocks[0].FirstEntryID)
	}
	return i - 1, nil
}

// blockEnd returns the exclusive end offset of block i in the data object.
func (h *readHandle) blockEnd(i int) int64 {
	if i+1 < len(h.blocks) {
		return h.blocks[i+1].BlockOffset
	}
	return h.idx.DataObjectLength()
}

// view returns n bytes of the data object starting at off, refilling the
// range buffer when the request falls outside it. The returned slice is
// only valid until the next view call.
func (h *readHandle) view(ctx context.Context, off, n int64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if off+n > h.idx.DataObjectLength() {
		return nil, errors.Wrapf(ErrCorruptEntry, "read [%d, %d) past data object end %d",
			off, off+n, h.idx.DataObjectLength())
	}
	if off < h.bufOff || off+n > h.bufOff+int64(len(h.buf)) {
		if err := h.refill(ctx, off, n); err != nil {
			return nil, err
		}
	}
	start := off - h.bufOff
	return h.buf[start : start+n], nil
}

// refill replaces the range buffer with at least n bytes starting at off,
// reading ahead up to the configured buffer size.
func (h *readHandle) refill(ctx context.Context, off, n int64) error {
	want := int64(h.readBufferSize)
	if n > want {
		want = n
	}
	last := off + want - 1
	if end := h.idx.DataObjectLength() - 1; last > end {
		last = end
	}
	rc, err := h.store.GetObjectRange(ctx, h.dataKey, off, last)
	if err != nil {
		return errors.Wrapf(err, "range read %s [%d, %d]", h.dataKey, off, last)
	}
	defer rc.Close()

	size := last - off + 1
	if int64(cap(h.buf)) < size {
		h.buf = make([]byte, size)
	}
	h.buf = h.buf[:size]
	if _, err := io.ReadFull(rc, h.buf); err != nil {
		h.buf = h.buf[:0]
		h.bufOff = 0
		return errors.Wrapf(err, "range read %s [%d, %d]", h.dataKey, off, last)
	}
	h.bufOff = off
	return nil
}
