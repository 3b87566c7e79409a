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

// Package rcu implements read-copy-update protected snapshots.
//
// A Cache holds one published, immutable *T. Readers enter a read-side
// critical section with Read, which costs two atomic operations and never
// blocks. Writers replace the snapshot with Update or Modify; the previous
// snapshot is destroyed asynchronously, after a grace period of the Domain
// proves that no reader that could have observed it is still inside its
// critical section.
//
//	domain := rcu.NewDomain(nil)
//	cache, _ := rcu.New(domain, &routes)
//
//	ref := cache.Read()
//	defer ref.Release()
//	use(ref.Value())
//
// Grace periods use two phases of striped reader counters. Several caches
// may share one Domain.
package rcu
