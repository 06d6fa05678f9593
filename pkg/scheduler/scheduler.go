// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package scheduler provides an ordered executor: a fixed set of serial
// lanes, with work for the same key always landing on the same lane. Tasks
// sharing a key run in submission order; tasks on different keys run in
// parallel up to the lane count.
package scheduler

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// laneQueueDepth bounds queued tasks per lane; Submit blocks once a lane
// falls this far behind.
const laneQueueDepth = 128

// Ordered dispatches tasks onto hash-selected serial lanes.
type Ordered struct {
	name  string
	lanes []*Lane
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Lane is a single serial executor owned by an Ordered scheduler.
type Lane struct {
	sched *Ordered
	id    int
	tasks chan func()
}

// NewOrdered starts a scheduler with the given lane count. A non-positive
// parallelism is treated as one lane.
func NewOrdered(name string, parallelism int) *Ordered {
	if parallelism <= 0 {
		parallelism = 1
	}
	s := &Ordered{
		name:  name,
		lanes: make([]*Lane, parallelism),
	}
	for i := range s.lanes {
		lane := &Lane{
			sched: s,
			id:    i,
			tasks: make(chan func(), laneQueueDepth),
		}
		s.lanes[i] = lane
		s.wg.Add(1)
		go lane.run()
	}
	logrus.Debugf("scheduler %s started with %d lanes", name, parallelism)
	return s
}

func (l *Lane) run() {
	defer l.sched.wg.Done()
	for task := range l.tasks {
		task()
	}
}

// Lane returns the lane that serializes work for key. The mapping is
// stable for the scheduler's lifetime.
func (s *Ordered) Lane(key int64) *Lane {
	n := int64(len(s.lanes))
	idx := key % n
	if idx < 0 {
		idx += n
	}
	return s.lanes[idx]
}

// Submit queues task on the lane. It blocks when the lane's queue is full
// and fails after Shutdown.
func (l *Lane) Submit(task func()) error {
	l.sched.mu.RLock()
	defer l.sched.mu.RUnlock()
	if l.sched.closed {
		return errors.Errorf("scheduler %s is shut down", l.sched.name)
	}
	l.tasks <- task
	return nil
}

// Shutdown stops accepting work, runs everything already queued, and
// returns once all lanes are idle. Safe to call more than once.
func (s *Ordered) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	for _, lane := range s.lanes {
		close(lane.tasks)
	}
	s.wg.Wait()
	logrus.Debugf("scheduler %s shut down", s.name)
}
