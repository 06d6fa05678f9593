// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package offload

import (
	"context"
	"sync/atomic"

	"github.com/logtier/logtier/pkg/ledger"
)

// Future is the result of an asynchronous offload or delete. It resolves
// exactly once; Wait can be called any number of times from any goroutine.
type Future struct {
	done     chan struct{}
	resolved uint32
	err      error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future. Only the first call wins, later calls are
// ignored.
func (f *Future) complete(err error) {
	if !atomic.CompareAndSwapUint32(&f.resolved, 0, 1) {
		return
	}
	f.err = err
	close(f.done)
}

// Done returns a channel closed once the operation has finished.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation finishes or ctx is canceled. Cancellation
// abandons the wait, not the operation itself.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadFuture is the result of an asynchronous read-handle open.
type ReadFuture struct {
	done     chan struct{}
	resolved uint32
	handle   ledger.ReadHandle
	err      error
}

func newReadFuture() *ReadFuture {
	return &ReadFuture{done: make(chan struct{})}
}

func (f *ReadFuture) complete(handle ledger.ReadHandle, err error) {
	if !atomic.CompareAndSwapUint32(&f.resolved, 0, 1) {
		return
	}
	f.handle = handle
	f.err = err
	close(f.done)
}

// Done returns a channel closed once the open has finished.
func (f *ReadFuture) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the handle is ready or ctx is canceled.
func (f *ReadFuture) Wait(ctx context.Context) (ledger.ReadHandle, error) {
	select {
	case <-f.done:
		return f.handle, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
