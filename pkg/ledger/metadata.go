// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// metadataFormatVersion tags the serialized metadata layout.
const metadataFormatVersion = 1

// Metadata describes a ledger as recorded by the system of record. It is
// carried verbatim inside the offload index object so that a read handle
// over offloaded data can answer the same metadata queries as the source.
type Metadata struct {
	EnsembleSize    int32
	WriteQuorumSize int32
	AckQuorumSize   int32
	Length          int64
	LastEntryID     int64
	Closed          bool
	CreationTime    time.Time
	CustomMetadata  map[string][]byte
}

// Encode serializes the metadata. All integers are big-endian; custom
// metadata entries are written in sorted key order so encoding is
// deterministic.
func (m *Metadata) Encode() []byte {
	keys := make([]string, 0, len(m.CustomMetadata))
	for k := range m.CustomMetadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 4 + 4 + 4 + 4 + 8 + 8 + 1 + 8 + 4
	for _, k := range keys {
		size += 4 + len(k) + 4 + len(m.CustomMetadata[k])
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, metadataFormatVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.EnsembleSize))
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.WriteQuorumSize))
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.AckQuorumSize))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Length))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.LastEntryID))
	if m.Closed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.CreationTime.UnixMilli()))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		v := m.CustomMetadata[k]
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// DecodeMetadata parses a metadata blob produced by Encode. Truncated or
// malformed input fails with a descriptive error.
func DecodeMetadata(b []byte) (*Metadata, error) {
	d := decoder{buf: b}

	version, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if version != metadataFormatVersion {
		return nil, errors.Errorf("unsupported ledger metadata version %d", version)
	}

	m := &Metadata{}
	var ensemble, wq, aq uint32
	if ensemble, err = d.uint32(); err != nil {
		return nil, err
	}
	if wq, err = d.uint32(); err != nil {
		return nil, err
	}
	if aq, err = d.uint32(); err != nil {
		return nil, err
	}
	m.EnsembleSize = int32(ensemble)
	m.WriteQuorumSize = int32(wq)
	m.AckQuorumSize = int32(aq)

	var length, lastEntry, created uint64
	if length, err = d.uint64(); err != nil {
		return nil, err
	}
	if lastEntry, err = d.uint64(); err != nil {
		return nil, err
	}
	m.Length = int64(length)
	m.LastEntryID = int64(lastEntry)

	state, err := d.byte()
	if err != nil {
		return nil, err
	}
	m.Closed = state == 1

	if created, err = d.uint64(); err != nil {
		return nil, err
	}
	m.CreationTime = time.UnixMilli(int64(created)).UTC()

	count, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if count > 0 {
		m.CustomMetadata = make(map[string][]byte, count)
	}
	for i := uint32(0); i < count; i++ {
		key, err := d.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		val, err := d.lengthPrefixed()
		if err != nil {
			return nil, err
		}
		m.CustomMetadata[string(key)] = val
	}
	if d.remaining() != 0 {
		return nil, errors.Errorf("ledger metadata has %d trailing bytes", d.remaining())
	}
	return m, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) take(n int) ([]byte, error) {
	if d.remaining() < n {
		return nil, errors.Errorf("ledger metadata truncated: need %d bytes at offset %d, have %d", n, d.off, d.remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) byte() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *decoder) uint64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *decoder) lengthPrefixed() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	b, err := d.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}
