// Copyright 2026 The Nimbus Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package containers provides small generic, thread-safe container
// types shared by the job graph, router and checkpoint packages.
package containers

import (
	"sync"

	"github.com/edwingeng/deque"
)

// Deque is a thread-safe FIFO/LIFO double-ended queue over
// github.com/edwingeng/deque, which is not itself safe for concurrent
// use.
type Deque[T any] struct {
	mu    sync.RWMutex
	deque deque.Deque
}

// NewDeque creates an empty Deque.
func NewDeque[T any]() *Deque[T] {
	return &Deque[T]{deque: deque.NewDeque()}
}

// PushBack appends elem to the tail.
func (d *Deque[T]) PushBack(elem T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deque.PushBack(elem)
}

// PushFront prepends elem to the head; Frontier.Requeue uses it to put
// a job back at the head of the normal band.
func (d *Deque[T]) PushFront(elem T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deque.PushFront(elem)
}

// PopFront removes and returns the head element.
func (d *Deque[T]) PopFront() (T, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deque.Empty() {
		var zero T
		return zero, false
	}
	return d.deque.PopFront().(T), true
}

// Peek returns the head element without removing it.
func (d *Deque[T]) Peek() (T, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.deque.Empty() {
		var zero T
		return zero, false
	}
	return d.deque.Front().(T), true
}

// Len reports the number of elements currently queued.
func (d *Deque[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deque.Len()
}
