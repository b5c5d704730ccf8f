// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cover

import "code.hybscloud.com/fuzzalloc"

// Index folds a def site (tag) and a use site (program counter) into a
// coverage map index:
//
//	h = ((3·(tag − DefaultTag)) ^ use) − use
//
// The multiplier and the trailing subtraction break symmetry so that
// (a, b) and (b, a) land on distinct indices. The formula is frozen:
// changing it changes the coverage semantics and invalidates every
// existing corpus.
func Index(tag fuzzalloc.Tag, use uintptr) uintptr {
	h := 3 * uintptr(tag-fuzzalloc.DefaultTag)
	return (h ^ use) - use
}

// IndexWithOffset additionally folds the constant byte offset of the
// access into the def-site term, distinguishing field accesses through
// the same pointer. Used by the -offset sensitivity variants.
func IndexWithOffset(tag fuzzalloc.Tag, use, offset uintptr) uintptr {
	h := 3*uintptr(tag-fuzzalloc.DefaultTag) + offset
	return (h ^ use) - use
}
