// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mem implements the tagged pool manager.
//
// A pool is a single anonymous mapping whose base address equals
// tag<<TagShift, so every pointer handed out by the pool encodes its tag
// in bits 47..32. Within the region a conventional chunk allocator runs:
// power-of-two size classes with intrusive free lists for small requests,
// contiguous page runs for large ones. Pages are carved from the region
// with a bump pointer and recycled through a free-run list with
// coalescing.
//
// # Registry
//
// GetOrCreatePool serializes pool creation behind a process-wide mutex
// and records the pool in a table indexed by the full 16-bit tag space.
// The companion allocation-site table maps a tag back to the compile-time
// call-site identifier that minted it; the access instrumentation runtime
// reads it when reporting.
//
// Pools are created on first use, never at static-init time: sanitizer
// builds allocate before ordinary constructors have run.
//
// # Quarantine
//
// Pools whose tag lies in the quarantine band delay chunk reuse through a
// bounded lock-free MPMC ring. A freed chunk enters the ring; only when
// the ring overflows is the oldest entry actually returned to the free
// lists. This widens the window in which a use-after-free dereference
// still observes the stale tag.
//
// # Concurrency
//
// Registry access takes the process-wide mutex. Chunk operations take a
// per-pool mutex unless the fuzzalloc_st build tag selects the
// single-threaded variant, which compiles locking out entirely.
package mem
