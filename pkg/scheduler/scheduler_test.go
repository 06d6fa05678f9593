// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSameKeyRunsInOrder(t *testing.T) {
	s := NewOrdered("test", 4)
	defer s.Shutdown()

	const tasks = 200
	var mu sync.Mutex
	var got []int

	lane := s.Lane(42)
	for i := 0; i < tasks; i++ {
		i := i
		require.NoError(t, lane.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	s.Shutdown()

	require.Len(t, got, tasks)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestStableLaneMapping(t *testing.T) {
	s := NewOrdered("test", 8)
	defer s.Shutdown()

	for _, key := range []int64{0, 1, 7, 8, 63, -1, -9} {
		require.Same(t, s.Lane(key), s.Lane(key), "key %d", key)
	}
}

func TestDistinctKeysRunConcurrently(t *testing.T) {
	s := NewOrdered("test", 2)
	defer s.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Lane(0).Submit(func() {
		close(started)
		<-block
	}))
	<-started

	// Lane 1 must make progress while lane 0 is blocked.
	done := make(chan struct{})
	require.NoError(t, s.Lane(1).Submit(func() {
		close(done)
	}))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second lane starved by first")
	}
	close(block)
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	s := NewOrdered("test", 1)

	var mu sync.Mutex
	count := 0
	for i := 0; i < 50; i++ {
		require.NoError(t, s.Lane(7).Submit(func() {
			mu.Lock()
			count++
			mu.Unlock()
		}))
	}
	s.Shutdown()
	require.Equal(t, 50, count)
}

func TestSubmitAfterShutdown(t *testing.T) {
	s := NewOrdered("test", 2)
	s.Shutdown()
	s.Shutdown() // idempotent

	err := s.Lane(1).Submit(func() {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "shut down")
}

func TestNonPositiveParallelism(t *testing.T) {
	s := NewOrdered("test", 0)
	defer s.Shutdown()

	done := make(chan struct{})
	require.NoError(t, s.Lane(123).Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}
}
