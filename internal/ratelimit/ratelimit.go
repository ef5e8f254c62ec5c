// Copyright 2015 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit implements the three acquisition budgets the
// scheduler/budget manager owns: a worker-pool slot count, an open-file
// count, and an in-flight byte count. All three give back-pressure by
// blocking the caller until capacity is available; there is no soft
// memory target, matching the engine design exactly. The shapes here
// follow the teacher's CPURateLimiter/MemoryRateLimiter split (a fixed-unit
// counting semaphore for worker slots and open files, a variable-unit
// semaphore for bytes), generalized to take their capacities as
// constructor arguments instead of being wired to package-level flags.
package ratelimit

import "sync"

// Slots is a fixed-unit counting semaphore, used for the worker pool and
// the open-file budget: each acquisition is exactly one unit.
type Slots struct {
	c chan struct{}
}

// NewSlots returns a Slots semaphore with capacity n. A non-positive n
// means unlimited (Acquire never blocks) -- used when a budget is
// explicitly disabled.
func NewSlots(n int) *Slots {
	if n <= 0 {
		return &Slots{}
	}
	return &Slots{c: make(chan struct{}, n)}
}

// Acquire blocks until a unit is available.
func (s *Slots) Acquire() {
	if s.c == nil {
		return
	}
	s.c <- struct{}{}
}

// Release returns a unit.
func (s *Slots) Release() {
	if s.c == nil {
		return
	}
	<-s.c
}

// Bytes is a variable-unit semaphore bounding a total number of in-flight
// bytes. Unlike Slots, a single acquisition can consume any amount up to
// the full capacity, and acquisitions block until enough capacity frees
// up -- this needs a condition variable rather than a buffered channel,
// since the releasing side doesn't know in advance how large the next
// waiter's request is.
type Bytes struct {
	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int64
	available int64
}

// NewBytes returns a Bytes semaphore with the given total capacity. A
// non-positive capacity means unlimited.
func NewBytes(capacity int64) *Bytes {
	b := &Bytes{capacity: capacity, available: capacity}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Acquire blocks until n bytes of budget are available, then consumes
// them. If n exceeds the total capacity, Acquire still succeeds once the
// entire budget is free (a single oversized chunk is allowed to borrow the
// whole budget rather than deadlock).
func (b *Bytes) Acquire(n int64) {
	if b.capacity <= 0 || n <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	need := n
	if need > b.capacity {
		need = b.capacity
	}
	for b.available < need {
		b.cond.Wait()
	}
	b.available -= need
}

// Release returns n bytes of budget, waking any blocked Acquire callers.
func (b *Bytes) Release(n int64) {
	if b.capacity <= 0 || n <= 0 {
		return
	}
	b.mu.Lock()
	if n > b.capacity {
		n = b.capacity
	}
	b.available += n
	if b.available > b.capacity {
		b.available = b.capacity
	}
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Budgets groups the three budgets the scheduler owns: worker-pool slots,
// open input files, and in-flight bytes (the planner charges uncompressed
// source bytes only, not compressed output).
type Budgets struct {
	Workers   *Slots
	OpenFiles *Slots
	InFlight  *Bytes
}

// New builds the budget set from the engine's Options-derived capacities.
func New(threads, openFileBudget int, byteBudget int64) *Budgets {
	return &Budgets{
		Workers:   NewSlots(threads),
		OpenFiles: NewSlots(openFileBudget),
		InFlight:  NewBytes(byteBudget),
	}
}
