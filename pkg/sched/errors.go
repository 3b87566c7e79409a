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

import "errors"

// Contract violations. They are programming errors of the caller and are
// reported immediately, never downgraded to a no-op.
var (
	// ErrAlreadyStarted is returned when pinning or starting a thread that
	// has already been started.
	ErrAlreadyStarted = errors.New("sched: thread already started")
	// ErrNotPinned is returned when starting a thread without a CPU.
	ErrNotPinned = errors.New("sched: thread is not pinned to a CPU")
	// ErrInvalidPriority is returned for priorities below MinPriority.
	ErrInvalidPriority = errors.New("sched: realtime priority below minimum")
	// ErrInvalidTimeSlice is returned for negative time slices.
	ErrInvalidTimeSlice = errors.New("sched: negative time slice")
	// ErrThreadRunnable is returned when destroying a thread that is still
	// ready, running or waiting.
	ErrThreadRunnable = errors.New("sched: thread is still runnable")
	// ErrInvalidCPU is returned for unknown CPU ids or foreign CPUs.
	ErrInvalidCPU = errors.New("sched: invalid cpu")
	// ErrShutdown is returned when starting threads on a stopped scheduler.
	ErrShutdown = errors.New("sched: scheduler is shut down")
)
