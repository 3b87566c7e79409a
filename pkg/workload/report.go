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
	"context"
	"fmt"
	"io"

	"github.com/rtcore/rtcore/pkg/sched"
)

// Report prints one PASS or FAIL line per scenario and a summary.
type Report struct {
	w     io.Writer
	tests int
	fails int
}

// NewReport creates a Report writing to w.
func NewReport(w io.Writer) *Report {
	return &Report{w: w}
}

// Add records and prints a scenario result.
func (r *Report) Add(res *Result) {
	r.tests++
	status := "PASS"
	if !res.Passed {
		r.fails++
		status = "FAIL"
	}
	fmt.Fprintf(r.w, "%s: %s\n", status, res.Name)
}

// Summary prints the totals.
func (r *Report) Summary() {
	fmt.Fprintf(r.w, "SUMMARY: %d tests, %d failures\n", r.tests, r.fails)
}

// Failed reports whether any scenario failed.
func (r *Report) Failed() bool {
	return r.fails > 0
}

// Run runs every scenario in order, reports each result and the summary.
func Run(ctx context.Context, s *sched.Scheduler, cfg *Config, w io.Writer) (*Report, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	report := NewReport(w)
	for _, scenario := range []func(context.Context, *sched.Scheduler, *Config) (*Result, error){
		RuntimeEqualized,
		PriorityPrecedence,
	} {
		res, err := scenario(ctx, s, cfg)
		if err != nil {
			return report, err
		}
		report.Add(res)
	}
	report.Summary()

	return report, nil
}
