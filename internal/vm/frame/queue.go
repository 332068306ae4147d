// Copyright 2025 Google LLC
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

package frame

import "github.com/pintoskernel/pintosfs/internal/vm"

// lruList is a doubly-linked list of resident frames with a persistent
// clock cursor, supporting the O(1) add/remove and cursor-survives-calls
// semantics spec.md §4.7 requires of the global frame LRU list.
//
// This started as a copy of the teacher's common.Queue (a singly-linked
// FIFO) and was rewritten: try_to_free's del_from_lru needs to unlink an
// arbitrary middle element and advance the clock cursor if it pointed at
// the removed node, which a FIFO's PeekStart/Pop pair cannot express.
type node struct {
	prev, next *node
	frame      *vm.Frame
}

type lruList struct {
	root  node // sentinel; root.next is the head, root.prev is the tail
	size  int
	clock *node // persists between try_to_free calls (spec.md §4.7)
}

func newLRUList() *lruList {
	l := &lruList{}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// pushBack appends f and returns its node handle.
func (l *lruList) pushBack(f *vm.Frame) *node {
	n := &node{frame: f}
	last := l.root.prev
	last.next = n
	n.prev = last
	n.next = &l.root
	l.root.prev = n
	l.size++
	return n
}

// remove unlinks n, advancing the clock cursor first if it pointed at n.
func (l *lruList) remove(n *node) {
	if l.clock == n {
		l.clock = l.nextOf(n)
		if l.clock == n {
			l.clock = nil // list becomes empty
		}
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
	l.size--
}

func (l *lruList) isEmpty() bool { return l.size == 0 }

func (l *lruList) head() *node {
	if l.isEmpty() {
		return nil
	}
	return l.root.next
}

// nextOf returns the node after n, wrapping at the sentinel back to head
// (spec.md §4.7: "wrap at end by returning to list head").
func (l *lruList) nextOf(n *node) *node {
	next := n.next
	if next == &l.root {
		next = l.root.next
	}
	return next
}

// advanceClock moves the cursor to the next live element, initializing it
// to the head if it was nil (first call, or the list was emptied and
// refilled).
func (l *lruList) advanceClock() *node {
	if l.isEmpty() {
		l.clock = nil
		return nil
	}
	if l.clock == nil {
		l.clock = l.head()
		return l.clock
	}
	l.clock = l.nextOf(l.clock)
	return l.clock
}
