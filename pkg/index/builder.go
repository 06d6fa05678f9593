// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"github.com/pkg/errors"

	"github.com/logtier/logtier/pkg/ledger"
)

// Builder assembles an index Block while the offload loop uploads data
// blocks. Block offsets are accumulated from the reported block sizes, so
// callers only name each block's first entry and part.
type Builder struct {
	meta             *ledger.Metadata
	dataHeaderLength int32
	dataObjectLength int64
	entries          []Entry
	nextOffset       int64
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithLedgerMetadata records the source ledger's metadata. Required.
func (b *Builder) WithLedgerMetadata(meta *ledger.Metadata) *Builder {
	b.meta = meta
	return b
}

// WithDataBlockHeaderLength records the data-block header size the writer
// used. Required.
func (b *Builder) WithDataBlockHeaderLength(h int32) *Builder {
	b.dataHeaderLength = h
	return b
}

// AddBlock appends the index entry for the next data block: it starts at
// firstEntryID, was uploaded as part partID, and occupies blockSize bytes
// at the current end of the data object.
func (b *Builder) AddBlock(firstEntryID int64, partID int32, blockSize int) *Builder {
	b.entries = append(b.entries, Entry{
		FirstEntryID: firstEntryID,
		PartID:       partID,
		BlockOffset:  b.nextOffset,
	})
	b.nextOffset += int64(blockSize)
	return b
}

// WithDataObjectLength records the final data object length. Optional; when
// set it must match the accumulated block sizes.
func (b *Builder) WithDataObjectLength(l int64) *Builder {
	b.dataObjectLength = l
	return b
}

// Build validates the accumulated state and returns the immutable Block.
func (b *Builder) Build() (*Block, error) {
	if b.meta == nil {
		return nil, errors.New("index builder: ledger metadata not set")
	}
	if b.dataHeaderLength <= 0 {
		return nil, errors.Errorf("index builder: data block header length %d not set", b.dataHeaderLength)
	}
	if len(b.entries) == 0 {
		return nil, errors.New("index builder: no blocks added")
	}
	length := b.dataObjectLength
	if length == 0 {
		length = b.nextOffset
	} else if length != b.nextOffset {
		return nil, errors.Errorf("index builder: data object length %d does not match %d accumulated block bytes",
			length, b.nextOffset)
	}
	if err := validateEntries(b.entries, length); err != nil {
		return nil, errors.Wrap(err, "index builder")
	}
	return &Block{
		meta:             b.meta,
		metaBlob:         b.meta.Encode(),
		dataObjectLength: length,
		dataHeaderLength: b.dataHeaderLength,
		entries:          append([]Entry{}, b.entries...),
	}, nil
}
