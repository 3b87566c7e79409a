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

package workload

import (
	"sync/atomic"

	"github.com/rtcore/rtcore/pkg/sched"
)

// Fib computes the n-th Fibonacci number the slow way.
func Fib(n int) int {
	if n < 2 {
		return n
	}
	return Fib(n-1) + Fib(n-2)
}

// Spin returns a compute-bound Body: it computes Fib(n) and reaches a
// preemption point until stopped.
func Spin(n int) Body {
	return func(th *sched.Thread, stop *atomic.Bool) {
		for !stop.Load() {
			Fib(n)
			th.Checkpoint()
		}
	}
}
