// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package alloc exposes the tagged allocator entry points and the
// malloc-shaped interposers that route untagged allocations through the
// default pool.
//
// Instrumented programs call TaggedMalloc and friends with the
// compile-time tag constant the tagging transformation injected at each
// allocation call site. Code the transformation never saw goes through
// Malloc/Calloc/Realloc, which delegate with DefaultTag; its pointers
// carry no data-flow information and the coverage runtime ignores them.
//
// Free recovers the owning pool from the pointer's own upper bits; there
// is no per-chunk metadata beyond the tag embedded in the address.
package alloc

import (
	"fmt"
	"os"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/mem"
)

// strictFree selects the failure policy for freeing a pointer that
// belongs to no live pool. The default tolerates foreign pointers: they
// are treated as untracked allocations from uninstrumented code and
// ignored. Strict builds abort instead.
var strictFree = false

// SetStrictFree makes Free abort the process on a pointer outside any
// live pool instead of ignoring it.
func SetStrictFree(strict bool) { strictFree = strict }

// TaggedMalloc allocates size bytes from the pool serving tag, creating
// the pool on first use. The returned address encodes tag in its upper
// bits. A zero size yields address 0 with no error.
func TaggedMalloc(tag fuzzalloc.Tag, size uintptr) (uintptr, error) {
	p, err := poolFor(tag)
	if err != nil {
		return 0, err
	}
	return p.Alloc(size)
}

// TaggedCalloc allocates a zeroed array of nmemb elements of size bytes
// from the pool serving tag.
func TaggedCalloc(tag fuzzalloc.Tag, nmemb, size uintptr) (uintptr, error) {
	p, err := poolFor(tag)
	if err != nil {
		return 0, err
	}
	return p.Calloc(nmemb, size)
}

// TaggedRealloc resizes the chunk at ptr. With ptr == 0 it behaves as
// TaggedMalloc(tag, size). A non-null ptr is resized inside the pool
// that minted it, never migrated to another tag, so the result keeps
// the original upper bits even when tag disagrees with them.
func TaggedRealloc(tag fuzzalloc.Tag, ptr, size uintptr) (uintptr, error) {
	if ptr == 0 {
		return TaggedMalloc(tag, size)
	}
	p := mem.PoolForAddr(ptr)
	if p == nil {
		return 0, mem.ErrForeignPointer
	}
	return p.Realloc(ptr, size)
}

// Malloc allocates size bytes with DefaultTag semantics.
func Malloc(size uintptr) (uintptr, error) {
	return TaggedMalloc(fuzzalloc.DefaultTag, size)
}

// Calloc allocates a zeroed array with DefaultTag semantics.
func Calloc(nmemb, size uintptr) (uintptr, error) {
	return TaggedCalloc(fuzzalloc.DefaultTag, nmemb, size)
}

// Realloc resizes ptr using the tag embedded in ptr itself; with ptr == 0
// it behaves as Malloc.
func Realloc(ptr, size uintptr) (uintptr, error) {
	if ptr == 0 {
		return Malloc(size)
	}
	return TaggedRealloc(fuzzalloc.TagFromAddr(ptr), ptr, size)
}

// Free returns the chunk at ptr to the pool that minted it. Freeing
// address 0 is a no-op. A pointer outside any live pool is ignored under
// the default policy and aborts under SetStrictFree(true).
func Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	p := mem.PoolForAddr(ptr)
	if p == nil {
		if strictFree {
			fatalf("free of foreign pointer %#x", ptr)
		}
		return
	}
	if err := p.Free(ptr); err != nil && strictFree {
		fatalf("free(%#x): %v", ptr, err)
	}
}

// UsableSize returns the payload capacity of the chunk at ptr, or 0 for
// a foreign pointer.
func UsableSize(ptr uintptr) uintptr {
	p := mem.PoolForAddr(ptr)
	if p == nil {
		return 0
	}
	return p.UsableSize(ptr)
}

func poolFor(tag fuzzalloc.Tag) (*mem.Pool, error) {
	p, err := mem.GetOrCreatePool(tag)
	if err == mem.ErrAddressSpace {
		// Address-space fragmentation is unrecoverable: the tag identity
		// of every future pointer from this site would be wrong.
		fatalf("pool %#x: %v", tag, err)
	}
	return p, err
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fuzzalloc: fatal: "+format+"\n", args...)
	os.Exit(1)
}
