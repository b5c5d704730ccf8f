// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cover updates the host fuzzer's coverage map from data-flow
// events: (allocation-site tag, use-site program counter) pairs.
//
// Three modes exist, selected once from FUZZALLOC_FUZZER:
//
//	AFL        hash the pair into a shared byte bitmap (the classic
//	           branch bitmap, reused for def-use signal)
//	libfuzzer  bump a function-local 8-bit counter at the compile-time
//	           slot the instrumentation pass assigned to the access
//	debug-log  print every access; development only
//
// Most instrumentation is inlined by the dereference instrumentation
// pass; OnAccess exists for the debug mode and as the reference
// semantics the inline sequence must match.
//
// The update path never allocates and never takes a lock. Bitmap
// increments are plain byte stores: lost updates under contention are
// accepted fuzzer convention and deliberately not "fixed" with atomics.
//
// The map is attached lazily, never from a static initializer: sanitizer
// builds allocate before ordinary constructors run.
package cover
