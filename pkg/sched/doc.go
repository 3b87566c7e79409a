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

// Package sched implements a per-CPU realtime priority scheduler.
//
// Every CPU owns a runqueue of the threads pinned to it and grants its
// baton to exactly one thread at a time. The highest-priority ready thread
// runs; threads of equal priority share the CPU round-robin, each for its
// time slice. A newly ready thread of strictly higher priority preempts the
// running one regardless of its remaining slice.
//
// Thread bodies run on goroutines and cooperate with the scheduler through
// preemption points:
//
//	var stop atomic.Bool
//	th, _ := s.NewThread(func(th *sched.Thread) {
//		for !stop.Load() {
//			work()
//			th.Checkpoint()
//		}
//	}, sched.Attr{Priority: 2, TimeSlice: 10 * time.Millisecond})
//	_ = th.Pin(cpu)
//	_ = th.Start()
//	...
//	stop.Store(true)
//	_ = th.Join(ctx)
//	_ = th.Destroy()
//
// Stopping is cooperative: the scheduler never cancels a thread.
package sched
