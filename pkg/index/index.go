// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package index builds and parses the offload index object: the small
// companion object that maps entry IDs onto (multipart part, byte offset)
// positions inside the data object and carries the source ledger's
// metadata. Its existence is the commit point of an offload.
package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/logtier/logtier/pkg/ledger"
)

const (
	// FormatVersion is the current index object format.
	FormatVersion = 1

	// indexMagic is "LTIX".
	indexMagic = 0x4C544958

	// fixedHeaderSize is the byte size of the index header that precedes
	// the ledger metadata blob and the index entries.
	fixedHeaderSize = 28

	// entrySize is the byte size of one serialized index entry.
	entrySize = 20

	// maxMetadataSize bounds the ledger metadata blob a parser will
	// accept, protecting readers from allocating on corrupt lengths.
	maxMetadataSize = 64 * 1024 * 1024
)

var (
	// ErrCorruptIndex marks index objects that fail structural checks.
	ErrCorruptIndex = errors.New("corrupt offload index")

	// ErrEntryOutOfRange marks lookups outside the ledger's entry range.
	ErrEntryOutOfRange = errors.New("entry id out of range")
)

// Entry locates the data block that starts at FirstEntryID: it was
// uploaded as multipart part PartID and begins at BlockOffset bytes in the
// data object.
type Entry struct {
	FirstEntryID int64
	PartID       int32
	BlockOffset  int64
}

// Block is a parsed or built index object.
type Block struct {
	meta             *ledger.Metadata
	metaBlob         []byte
	dataObjectLength int64
	dataHeaderLength int32
	entries          []Entry
}

// LedgerMetadata returns the source ledger's metadata record.
func (b *Block) LedgerMetadata() *ledger.Metadata { return b.meta }

// DataObjectLength returns the total byte length of the data object.
func (b *Block) DataObjectLength() int64 { return b.dataObjectLength }

// DataBlockHeaderLength returns the data-block header size the writer used.
func (b *Block) DataBlockHeaderLength() int32 { return b.dataHeaderLength }

// EntryCount returns the number of index entries, one per data block.
func (b *Block) EntryCount() int { return len(b.entries) }

// Entries returns a copy of the index entries in ascending order.
func (b *Block) Entries() []Entry {
	return append([]Entry{}, b.entries...)
}

// Lookup returns the index entry covering entryID: the one with the
// greatest FirstEntryID not above it. IDs outside [first block, ledger
// last entry] fail with ErrEntryOutOfRange.
func (b *Block) Lookup(entryID int64) (Entry, error) {
	if entryID > b.meta.LastEntryID {
		return Entry{}, errors.Wrapf(ErrEntryOutOfRange, "entry %d above last entry %d", entryID, b.meta.LastEntryID)
	}
	i := sort.Search(len(b.entries), func(i int) bool {
		return b.entries[i].FirstEntryID > entryID
	})
	if i == 0 {
		return Entry{}, errors.Wrapf(ErrEntryOutOfRange, "entry %d below first indexed entry %d", entryID, b.entries[0].FirstEntryID)
	}
	return b.entries[i-1], nil
}

// StreamSize returns the exact encoded size in bytes.
func (b *Block) StreamSize() int64 {
	return int64(fixedHeaderSize + len(b.metaBlob) + entrySize*len(b.entries))
}

// Reader returns a fresh reader over the encoded index. Each call restarts
// from the beginning, so a failed upload can simply be retried.
func (b *Block) Reader() io.Reader {
	buf := make([]byte, 0, b.StreamSize())
	buf = binary.BigEndian.AppendUint32(buf, indexMagic)
	buf = binary.BigEndian.AppendUint32(buf, FormatVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.entries)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(b.dataHeaderLength))
	buf = binary.BigEndian.AppendUint64(buf, uint64(b.dataObjectLength))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b.metaBlob)))
	buf = append(buf, b.metaBlob...)
	for _, e := range b.entries {
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.FirstEntryID))
		buf = binary.BigEndian.AppendUint32(buf, uint32(e.PartID))
		buf = binary.BigEndian.AppendUint64(buf, uint64(e.BlockOffset))
	}
	return bytes.NewReader(buf)
}

// Decode parses an index object. Any structural problem, including a
// metadata blob that fails to parse, reports ErrCorruptIndex.
func Decode(r io.Reader) (*Block, error) {
	header := make([]byte, fixedHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrapf(ErrCorruptIndex, "read header: %v", err)
	}
	if magic := binary.BigEndian.Uint32(header[0:4]); magic != indexMagic {
		return nil, errors.Wrapf(ErrCorruptIndex, "bad magic 0x%08X", magic)
	}
	if version := binary.BigEndian.Uint32(header[4:8]); version != FormatVersion {
		return nil, errors.Wrapf(ErrCorruptIndex, "unsupported version %d", version)
	}
	entryCount := int(int32(binary.BigEndian.Uint32(header[8:12])))
	dataHeaderLength := int32(binary.BigEndian.Uint32(header[12:16]))
	dataObjectLength := int64(binary.BigEndian.Uint64(header[16:24]))
	metaLen := int(int32(binary.BigEndian.Uint32(header[24:28])))

	if entryCount <= 0 {
		return nil, errors.Wrapf(ErrCorruptIndex, "non-positive entry count %d", entryCount)
	}
	if dataHeaderLength <= 0 || dataObjectLength <= 0 {
		return nil, errors.Wrapf(ErrCorruptIndex, "non-positive lengths: header %d, data object %d", dataHeaderLength, dataObjectLength)
	}
	if metaLen <= 0 || metaLen > maxMetadataSize {
		return nil, errors.Wrapf(ErrCorruptIndex, "metadata length %d out of bounds", metaLen)
	}

	metaBlob := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBlob); err != nil {
		return nil, errors.Wrapf(ErrCorruptIndex, "read ledger metadata: %v", err)
	}
	meta, err := ledger.DecodeMetadata(metaBlob)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptIndex, "decode ledger metadata: %v", err)
	}

	raw := make([]byte, entryCount*entrySize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.Wrapf(ErrCorruptIndex, "read %d index entries: %v", entryCount, err)
	}
	entries := make([]Entry, entryCount)
	for i := range entries {
		off := i * entrySize
		entries[i] = Entry{
			FirstEntryID: int64(binary.BigEndian.Uint64(raw[off : off+8])),
			PartID:       int32(binary.BigEndian.Uint32(raw[off+8 : off+12])),
			BlockOffset:  int64(binary.BigEndian.Uint64(raw[off+12 : off+20])),
		}
	}
	if err := validateEntries(entries, dataObjectLength); err != nil {
		return nil, errors.Wrapf(ErrCorruptIndex, "%v", err)
	}

	return &Block{
		meta:             meta,
		metaBlob:         metaBlob,
		dataObjectLength: dataObjectLength,
		dataHeaderLength: dataHeaderLength,
		entries:          entries,
	}, nil
}

// validateEntries enforces the ordering invariants every well-formed index
// satisfies: entry IDs, part IDs, and block offsets all strictly increase,
// and offsets stay inside the data object.
func validateEntries(entries []Entry, dataObjectLength int64) error {
	for i, e := range entries {
		if e.FirstEntryID < 0 || e.PartID < 1 || e.BlockOffset < 0 {
			return fmt.Errorf("index entry %d has negative fields (%d, %d, %d)", i, e.FirstEntryID, e.PartID, e.BlockOffset)
		}
		if e.BlockOffset >= dataObjectLength {
			return fmt.Errorf("index entry %d offset %d beyond data object length %d", i, e.BlockOffset, dataObjectLength)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if e.FirstEntryID <= prev.FirstEntryID || e.PartID <= prev.PartID || e.BlockOffset <= prev.BlockOffset {
			return fmt.Errorf("index entry %d (%d, %d, %d) not strictly above predecessor (%d, %d, %d)",
				i, e.FirstEntryID, e.PartID, e.BlockOffset, prev.FirstEntryID, prev.PartID, prev.BlockOffset)
		}
	}
	return nil
}
