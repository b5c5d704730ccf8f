// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package alloc_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/alloc"
	"code.hybscloud.com/fuzzalloc/mem"
)

func setup(t *testing.T) {
	t.Helper()
	mem.SetPoolSizeForTest(1 << 22)
	t.Cleanup(mem.ResetRegistryForTest)
}

func TestTaggedMallocEncodesTag(t *testing.T) {
	setup(t)
	const tag = fuzzalloc.Tag(0x00AB)

	ptr, err := alloc.TaggedMalloc(tag, 16)
	if err != nil {
		t.Fatal(err)
	}
	if got := ptr >> 32; got != uintptr(tag) {
		t.Errorf("ptr>>32 = %#x, want %#x", got, tag)
	}
}

func TestFreeReturnsToSamePool(t *testing.T) {
	setup(t)

	// Free must release to pool 5, not the default pool.
	ptr, err := alloc.TaggedMalloc(5, 8)
	if err != nil {
		t.Fatal(err)
	}
	alloc.Free(ptr)

	again, err := alloc.TaggedMalloc(5, 8)
	if err != nil {
		t.Fatal(err)
	}
	if fuzzalloc.TagFromAddr(again) != 5 {
		t.Errorf("recycled pointer lost its tag: %#x", again)
	}
	if again != ptr {
		t.Errorf("chunk not recycled by its own pool: %#x vs %#x", again, ptr)
	}
	if pool := mem.LookupPool(fuzzalloc.DefaultTag); pool != nil && pool.Allocs() != 0 {
		t.Error("default pool received the freed chunk")
	}
}

func TestReallocKeepsTag(t *testing.T) {
	setup(t)
	const tag = fuzzalloc.Tag(0x0030)

	ptr, err := alloc.TaggedMalloc(tag, 32)
	if err != nil {
		t.Fatal(err)
	}
	for i := uintptr(0); i < 32; i++ {
		*(*byte)(unsafe.Pointer(ptr + i)) = byte(i)
	}

	grown, err := alloc.TaggedRealloc(tag, ptr, 1<<14)
	if err != nil {
		t.Fatal(err)
	}
	if fuzzalloc.TagFromAddr(grown) != tag {
		t.Errorf("realloc changed tag: %#x", grown)
	}
	for i := uintptr(0); i < 32; i++ {
		if *(*byte)(unsafe.Pointer(grown + i)) != byte(i) {
			t.Fatalf("payload lost at %d", i)
		}
	}
}

func TestReallocNullActsAsMalloc(t *testing.T) {
	setup(t)

	ptr, err := alloc.Realloc(0, 64)
	if err != nil {
		t.Fatal(err)
	}
	if fuzzalloc.TagFromAddr(ptr) != fuzzalloc.DefaultTag {
		t.Errorf("realloc(0) tag = %#x, want DefaultTag", fuzzalloc.TagFromAddr(ptr))
	}
}

func TestMallocUsesDefaultTag(t *testing.T) {
	setup(t)

	ptr, err := alloc.Malloc(100)
	if err != nil {
		t.Fatal(err)
	}
	if fuzzalloc.TagFromAddr(ptr) != fuzzalloc.DefaultTag {
		t.Errorf("malloc tag = %#x", fuzzalloc.TagFromAddr(ptr))
	}
}

func TestCallocZeroes(t *testing.T) {
	setup(t)

	ptr, err := alloc.Calloc(8, 16)
	if err != nil {
		t.Fatal(err)
	}
	for i := uintptr(0); i < 128; i++ {
		if *(*byte)(unsafe.Pointer(ptr + i)) != 0 {
			t.Fatalf("calloc byte %d nonzero", i)
		}
	}
}

func TestFreeNullAndForeign(t *testing.T) {
	setup(t)

	alloc.Free(0) // no-op

	var local int64
	alloc.Free(uintptr(unsafe.Pointer(&local))) // foreign: ignored by default

	if got := alloc.UsableSize(uintptr(unsafe.Pointer(&local))); got != 0 {
		t.Errorf("UsableSize(foreign) = %d", got)
	}
}

func TestTaggedReallocNeverMigrates(t *testing.T) {
	setup(t)

	ptr, err := alloc.TaggedMalloc(0x0040, 32)
	if err != nil {
		t.Fatal(err)
	}
	// Even when the tag argument disagrees, the chunk stays in the pool
	// that minted it.
	moved, err := alloc.TaggedRealloc(0x0041, ptr, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if fuzzalloc.TagFromAddr(moved) != 0x0040 {
		t.Errorf("realloc migrated pools: %#x", moved)
	}
}
