//go:build linux

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
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// bindHostCPU locks the calling goroutine to its OS thread and restricts
// that thread to one host CPU: the cpu-th CPU (modulo) of the process's
// allowed set.
func bindHostCPU(cpu int) error {
	runtime.LockOSThread()

	var allowed unix.CPUSet
	if err := unix.SchedGetaffinity(0, &allowed); err != nil {
		return fmt.Errorf("sched_getaffinity: %w", err)
	}

	count := allowed.Count()
	if count == 0 {
		return fmt.Errorf("empty affinity mask")
	}
	host := nthCPU(&allowed, cpu%count)
	if host < 0 {
		return fmt.Errorf("no host cpu for cpu %d", cpu)
	}

	var set unix.CPUSet
	set.Set(host)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity(%d): %w", host, err)
	}

	return nil
}

// cpuSetSize is CPU_SETSIZE.
const cpuSetSize = 1024

func nthCPU(set *unix.CPUSet, n int) int {
	for i := range cpuSetSize {
		if !set.IsSet(i) {
			continue
		}
		if n == 0 {
			return i
		}
		n--
	}
	return -1
}
