/*
Copyright 2025 The rtcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sched

import (
	"slices"
	"sort"
)

// level is the FIFO of ready threads sharing one priority.
type level struct {
	prio    int
	threads []*Thread
}

// runqueue holds the ready threads of a CPU, ordered by descending priority
// and, within a priority, by arrival or rotation order.
// Not thread-safe: guarded by the owning CPU's mutex.
type runqueue struct {
	levels []*level // descending priority, never empty
	size   int
}

func (rq *runqueue) find(prio int) (int, bool) {
	i := sort.Search(len(rq.levels), func(i int) bool {
		return rq.levels[i].prio <= prio
	})
	return i, i < len(rq.levels) && rq.levels[i].prio == prio
}

func (rq *runqueue) levelFor(prio int) *level {
	i, found := rq.find(prio)
	if !found {
		rq.levels = slices.Insert(rq.levels, i, &level{prio: prio})
	}
	return rq.levels[i]
}

// pushBack appends t behind every ready thread of its priority.
func (rq *runqueue) pushBack(t *Thread) {
	l := rq.levelFor(t.Priority())
	l.threads = append(l.threads, t)
	rq.size++
}

// pushFront puts t ahead of every ready thread of its priority.
func (rq *runqueue) pushFront(t *Thread) {
	l := rq.levelFor(t.Priority())
	l.threads = slices.Insert(l.threads, 0, t)
	rq.size++
}

// remove takes t out of the queue wherever it is.
func (rq *runqueue) remove(t *Thread) bool {
	for i, l := range rq.levels {
		if j := slices.Index(l.threads, t); j >= 0 {
			l.threads = slices.Delete(l.threads, j, j+1)
			if len(l.threads) == 0 {
				rq.levels = slices.Delete(rq.levels, i, i+1)
			}
			rq.size--
			return true
		}
	}
	return false
}

// peek returns the thread that would run next, or nil.
func (rq *runqueue) peek() *Thread {
	if len(rq.levels) == 0 {
		return nil
	}
	return rq.levels[0].threads[0]
}

// pop removes and returns the thread that runs next, or nil.
func (rq *runqueue) pop() *Thread {
	t := rq.peek()
	if t != nil {
		rq.remove(t)
	}
	return t
}

// highest returns the highest ready priority.
func (rq *runqueue) highest() (int, bool) {
	if len(rq.levels) == 0 {
		return 0, false
	}
	return rq.levels[0].prio, true
}

func (rq *runqueue) len() int {
	return rq.size
}

// threads returns the queue in dispatch order.
func (rq *runqueue) threads() []*Thread {
	out := make([]*Thread, 0, rq.size)
	for _, l := range rq.levels {
		out = append(out, l.threads...)
	}
	return out
}
