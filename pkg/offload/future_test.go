// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package offload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/logtier/logtier/pkg/ledger"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := newFuture()
	want := errors.New("first")
	f.complete(want)
	f.complete(errors.New("second"))

	require.ErrorIs(t, f.Wait(context.Background()), want)
	require.ErrorIs(t, f.Wait(context.Background()), want)

	select {
	case <-f.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestFutureWaitSupportsManyWaiters(t *testing.T) {
	f := newFuture()
	var wg sync.WaitGroup
	results := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.Wait(context.Background())
		}(i)
	}
	f.complete(nil)
	wg.Wait()
	for _, err := range results {
		require.NoError(t, err)
	}
}

func TestFutureWaitCanceled(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Abandoning a wait does not resolve the future.
	f.complete(nil)
	require.NoError(t, f.Wait(context.Background()))
}

func TestReadFutureResolvesOnce(t *testing.T) {
	f := newReadFuture()
	handle := ledger.NewMemoryLedger(1, nil)
	f.complete(handle, nil)
	f.complete(nil, errors.New("late"))

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	require.Same(t, handle, got)

	select {
	case <-f.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestReadFutureWaitCanceled(t *testing.T) {
	f := newReadFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
