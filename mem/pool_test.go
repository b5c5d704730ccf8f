// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/mem"
)

func newTestPool(t *testing.T, tag fuzzalloc.Tag) *mem.Pool {
	t.Helper()
	mem.SetPoolSizeForTest(1 << 22)
	p, err := mem.GetOrCreatePool(tag)
	if err != nil {
		t.Fatalf("GetOrCreatePool(%#x): %v", tag, err)
	}
	return p
}

func TestPoolAddressesCarryTag(t *testing.T) {
	defer mem.ResetRegistryForTest()
	const tag = fuzzalloc.Tag(0x00AB)
	p := newTestPool(t, tag)

	for _, size := range []uintptr{1, 8, 16, 17, 100, 2048, 4096, 1 << 16} {
		addr, err := p.Alloc(size)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", size, err)
		}
		if got := fuzzalloc.TagFromAddr(addr); got != tag {
			t.Errorf("Alloc(%d) = %#x, tag %#x, want %#x", size, addr, got, tag)
		}
		if !p.Contains(addr) || !p.Contains(addr+size-1) {
			t.Errorf("chunk [%#x, %#x) escapes the pool region", addr, addr+size)
		}
	}
}

func TestPoolAllocFreeReuse(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0100)

	addr, err := p.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Free(addr); err != nil {
		t.Fatal(err)
	}
	again, err := p.Alloc(64)
	if err != nil {
		t.Fatal(err)
	}
	if again != addr {
		t.Errorf("freed chunk not recycled: first %#x, second %#x", addr, again)
	}
	if p.Allocs() != 1 {
		t.Errorf("live chunks = %d, want 1", p.Allocs())
	}
}

func TestPoolCallocZeroes(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0101)

	// Dirty a chunk, free it, then calloc the same class.
	addr, err := p.Alloc(128)
	if err != nil {
		t.Fatal(err)
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 128)
	for i := range b {
		b[i] = 0xA5
	}
	if err := p.Free(addr); err != nil {
		t.Fatal(err)
	}

	caddr, err := p.Calloc(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	cb := unsafe.Slice((*byte)(unsafe.Pointer(caddr)), 128)
	for i, v := range cb {
		if v != 0 {
			t.Fatalf("calloc chunk dirty at %d: %#x", i, v)
		}
	}
}

func TestPoolCallocOverflow(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0102)

	if _, err := p.Calloc(^uintptr(0), 2); err != mem.ErrOutOfMemory {
		t.Errorf("overflowing calloc: err = %v, want ErrOutOfMemory", err)
	}
}

func TestPoolReallocStaysInPool(t *testing.T) {
	defer mem.ResetRegistryForTest()
	const tag = fuzzalloc.Tag(0x0103)
	p := newTestPool(t, tag)

	addr, err := p.Alloc(32)
	if err != nil {
		t.Fatal(err)
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 32)
	for i := range b {
		b[i] = byte(i)
	}

	grown, err := p.Realloc(addr, 1<<15)
	if err != nil {
		t.Fatal(err)
	}
	if got := fuzzalloc.TagFromAddr(grown); got != tag {
		t.Errorf("realloc moved across tags: %#x", got)
	}
	gb := unsafe.Slice((*byte)(unsafe.Pointer(grown)), 32)
	for i := range gb {
		if gb[i] != byte(i) {
			t.Fatalf("realloc lost byte %d", i)
		}
	}

	// Shrinking within the same class keeps the chunk in place.
	same, err := p.Realloc(grown, 1<<15-100)
	if err != nil {
		t.Fatal(err)
	}
	if same != grown {
		t.Errorf("in-class shrink moved the chunk: %#x -> %#x", grown, same)
	}
}

func TestPoolLargeChunkRoundTrip(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0104)

	first, err := p.Alloc(3 * mem.PageSizeForTest)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Alloc(3 * mem.PageSizeForTest)
	if err != nil {
		t.Fatal(err)
	}
	// Barrier keeps the bump pointer above the freed runs.
	barrier, err := p.Alloc(mem.PageSizeForTest)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Free(first); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(second); err != nil {
		t.Fatal(err)
	}
	// The two adjacent 4-page runs coalesce; a request spanning both
	// must land back on the first run's base.
	big, err := p.Alloc(7*mem.PageSizeForTest - mem.HeaderSizeForTest)
	if err != nil {
		t.Fatal(err)
	}
	if big != first {
		t.Errorf("coalesced run not reused: got %#x, want %#x", big, first)
	}
	if err := p.Free(big); err != nil {
		t.Fatal(err)
	}
	if err := p.Free(barrier); err != nil {
		t.Fatal(err)
	}
}

func TestPoolExhaustion(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0105)

	if _, err := p.Alloc(p.Size() * 2); err != mem.ErrOutOfMemory {
		t.Errorf("oversized alloc: err = %v, want ErrOutOfMemory", err)
	}
	// Exhaust the region page by page.
	var live []uintptr
	for {
		addr, err := p.Alloc(mem.PageSizeForTest)
		if err == mem.ErrOutOfMemory {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		live = append(live, addr)
	}
	if len(live) == 0 {
		t.Fatal("no allocations before exhaustion")
	}
	for _, addr := range live {
		if err := p.Free(addr); err != nil {
			t.Fatal(err)
		}
	}
	if p.InUse() != 0 {
		t.Errorf("in-use bytes after full free: %d", p.InUse())
	}
}

func TestPoolFreeForeignPointer(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0106)

	var local int
	if err := p.Free(uintptr(unsafe.Pointer(&local))); err != mem.ErrForeignPointer {
		t.Errorf("foreign free: err = %v, want ErrForeignPointer", err)
	}
}

func TestPoolUsableSize(t *testing.T) {
	defer mem.ResetRegistryForTest()
	p := newTestPool(t, 0x0107)

	small, err := p.Alloc(20)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.UsableSize(small); got != 32 {
		t.Errorf("usable(20-byte chunk) = %d, want 32", got)
	}
	large, err := p.Alloc(2 * mem.PageSizeForTest)
	if err != nil {
		t.Fatal(err)
	}
	want := uintptr(3*mem.PageSizeForTest - mem.HeaderSizeForTest)
	if got := p.UsableSize(large); got != want {
		t.Errorf("usable(2-page chunk) = %d, want %d", got, want)
	}
}
