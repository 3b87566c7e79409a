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

package utils

// SliceMap applies a function to each element of a slice and returns a new
// slice with the results.
func SliceMap[Domain, Range any](slice []Domain, fn func(Domain) Range) []Range {
	if slice == nil {
		return nil
	}

	ans := make([]Range, len(slice))
	for idx, elt := range slice {
		ans[idx] = fn(elt)
	}

	return ans
}

// Number is a type that supports ordering and subtraction.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// Spread returns the difference between the largest and the smallest element
// of a slice. An empty slice has a spread of zero.
func Spread[T Number](slice []T) (spread T) {
	if len(slice) == 0 {
		return spread
	}

	lo, hi := slice[0], slice[0]
	for _, elt := range slice[1:] {
		lo = min(lo, elt)
		hi = max(hi, elt)
	}

	return hi - lo
}
