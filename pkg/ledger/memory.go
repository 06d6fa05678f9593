// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// MemoryLedger is a ReadHandle over an in-memory entry slice. It backs the
// bench command's synthetic workloads and the engine tests.
type MemoryLedger struct {
	id       int64
	payloads [][]byte
	length   int64
	closed   bool
	meta     *Metadata
}

// NewMemoryLedger builds a closed ledger whose entry i carries payloads[i].
func NewMemoryLedger(id int64, payloads [][]byte) *MemoryLedger {
	return newMemoryLedger(id, payloads, true)
}

// NewOpenMemoryLedger builds a ledger that is still open for writes. Such
// a ledger cannot be offloaded.
func NewOpenMemoryLedger(id int64, payloads [][]byte) *MemoryLedger {
	return newMemoryLedger(id, payloads, false)
}

func newMemoryLedger(id int64, payloads [][]byte, closed bool) *MemoryLedger {
	var length int64
	for _, p := range payloads {
		length += int64(len(p))
	}
	return &MemoryLedger{
		id:       id,
		payloads: payloads,
		length:   length,
		closed:   closed,
		meta: &Metadata{
			EnsembleSize:    1,
			WriteQuorumSize: 1,
			AckQuorumSize:   1,
			Length:          length,
			LastEntryID:     int64(len(payloads)) - 1,
			Closed:          closed,
			CreationTime:    time.Now().UTC(),
		},
	}
}

func (l *MemoryLedger) ID() int64 { return l.id }

func (l *MemoryLedger) Length() int64 { return l.length }

func (l *MemoryLedger) IsClosed() bool { return l.closed }

func (l *MemoryLedger) LastAddConfirmed() int64 { return int64(len(l.payloads)) - 1 }

func (l *MemoryLedger) Metadata() *Metadata { return l.meta }

func (l *MemoryLedger) ReadEntries(ctx context.Context, firstEntry, lastEntry int64) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstEntry < 0 || lastEntry < firstEntry || lastEntry > l.LastAddConfirmed() {
		return nil, errors.Errorf("entry range [%d, %d] outside [0, %d]", firstEntry, lastEntry, l.LastAddConfirmed())
	}
	entries := make([]Entry, 0, lastEntry-firstEntry+1)
	for id := firstEntry; id <= lastEntry; id++ {
		data := make([]byte, len(l.payloads[id]))
		copy(data, l.payloads[id])
		entries = append(entries, Entry{ID: id, Data: data})
	}
	return entries, nil
}

func (l *MemoryLedger) Close() error { return nil }
