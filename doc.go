// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fuzzalloc implements data-flow coverage for coverage-guided
// fuzzers: a tagged, pool-segregated memory allocator plus a program
// transformation pipeline that routes allocations through it and
// instruments memory accesses.
//
// Conventional fuzzers reward seeds that reach new control-flow edges.
// fuzzalloc instead rewards new definition→use pairs: every allocation
// call site receives a compact 16-bit tag, all allocations from that site
// are served out of a dedicated address-aligned pool, and every pointer
// the pool returns carries the tag in its upper bits. An instrumented
// dereference recovers the tag with a shift and a mask, no table lookup,
// and folds it with the access program counter into the fuzzer's coverage
// map.
//
// # Pointer layout
//
// On a 64-bit target with 48 usable virtual-address bits:
//
//	bits  47..32   tag (16 bits, identifies the allocation site)
//	bits  31..0    offset within the site's pool
//
// A pool serving tag t is a single mapped region based at t<<32 and
// strictly smaller than 1<<32, so no allocation can cross a tag boundary.
//
// # Packages
//
//	fuzzalloc   tag constants and address arithmetic (this package)
//	mem         pool manager: tag-aligned regions, per-pool sub-allocator
//	alloc       tagged allocator API and malloc/free interposers
//	cover       coverage-map update runtime (AFL bitmap, 8-bit counters)
//	ir          the SSA-IR abstraction the build-time passes operate on
//	taglog      the tag-site log build artifact
//	memfuncs    special-case list of user allocation wrappers
//	pass        the transformation passes: collect, tagalloc, heapify,
//	            instrument
//	cmd/fuzzalloc  command-line driver for the pass pipeline
//
// # Build-time flow
//
// The collection pass walks a translation unit and logs every allocator
// entry point and every global, alias, or struct field holding one. The
// tagging pass reads the log and rewrites each allocation call to the
// tagged equivalent with a fresh compile-time tag constant. The
// heapification pass relocates eligible fixed-size stack and global
// arrays onto the tagged allocator so their addresses carry tags too.
// The instrumentation pass finally emits, at every interesting memory
// access, the shift-mask-hash-update sequence that feeds the coverage map.
//
// # Runtime flow
//
// alloc.TaggedMalloc(tag, n) lazily creates the pool for tag on first use
// and serves the request from it; alloc.Free recovers the pool from the
// pointer's own bits. cover.OnAccess(tag) updates the fuzzer coverage
// map; accesses through DefaultTag pointers are ignored.
//
// # Architecture requirements
//
// A 64-bit CPU with at least 48 usable virtual-address bits is required
// (amd64, arm64, riscv64, loong64). 32-bit architectures are not
// supported: the tag would not fit above a pool-sized offset.
//
// # Thread safety
//
// Pool creation is serialized by a process-wide mutex; allocation within
// a pool takes a per-pool mutex unless the single-threaded build tag
// fuzzalloc_st is set. Coverage-map updates are intentionally racy: lost
// increments under contention are accepted fuzzer convention, and atomics
// on that path would ruin throughput.
package fuzzalloc
