// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import (
	"math/bits"
	"unsafe"

	"code.hybscloud.com/fuzzalloc"
)

// page is the header at the start of every carved page or page run.
//
// For shared pages (log > 0) the payload is split into 1<<log byte slots;
// used counts live slots and brk is the next never-handed-out slot index.
// For page runs (log == 0) npages records the run length and the payload
// is a single chunk starting at headerSize.
type page struct {
	log    uint32
	npages uint32
	used   uint32
	brk    uint32
}

// node is the intrusive free-list link stored inside a free slot.
type node struct {
	prev, next uintptr
}

// runNode is the intrusive free page-run link stored at the start of a
// free run. Runs are kept sorted by address so adjacent runs coalesce.
type runNode struct {
	next   uintptr
	npages uintptr
}

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Pool is a tag-aligned memory region with a private chunk allocator.
// Every address it returns satisfies addr>>TagShift == Tag().
//
// A Pool must be obtained from GetOrCreatePool and must not be copied.
type Pool struct {
	_ noCopy

	tag  fuzzalloc.Tag
	base uintptr
	size uintptr

	mu poolMutex

	brk      uintptr // next never-carved page address
	lists    [pageLog + 1]uintptr
	pages    [pageLog + 1]uintptr
	freeRuns uintptr

	quarantine *Quarantine

	allocs int
	inuse  uintptr
}

func pageAt(addr uintptr) *page       { return (*page)(unsafe.Pointer(addr)) }
func nodeAt(addr uintptr) *node       { return (*node)(unsafe.Pointer(addr)) }
func runAt(addr uintptr) *runNode     { return (*runNode)(unsafe.Pointer(addr)) }
func memclr(addr, n uintptr)          { clear(unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)) }
func memmove(dst, src, n uintptr) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), n), unsafe.Slice((*byte)(unsafe.Pointer(src)), n))
}

// Tag returns the tag every chunk of this pool encodes.
func (p *Pool) Tag() fuzzalloc.Tag { return p.tag }

// Base returns the lowest address of the pool region.
func (p *Pool) Base() uintptr { return p.base }

// Size returns the byte length of the pool region.
func (p *Pool) Size() uintptr { return p.size }

// Contains reports whether addr lies inside the pool region.
func (p *Pool) Contains(addr uintptr) bool {
	return addr >= p.base && addr < p.base+p.size
}

// Alloc returns the address of an uninitialized chunk of at least size
// bytes, or ErrOutOfMemory when the region is exhausted. Zero size
// returns address 0 with no error.
func (p *Pool) Alloc(size uintptr) (uintptr, error) {
	if size == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alloc(size)
}

// Calloc returns the address of a zeroed chunk of nmemb*size bytes.
// The multiplication is overflow-checked.
func (p *Pool) Calloc(nmemb, size uintptr) (uintptr, error) {
	hi, total := bits.Mul64(uint64(nmemb), uint64(size))
	if hi != 0 || uintptr(total) > p.size {
		return 0, ErrOutOfMemory
	}
	if total == 0 {
		return 0, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, err := p.alloc(uintptr(total))
	if err != nil {
		return 0, err
	}
	// Chunks recycled from the free lists are dirty.
	memclr(addr, uintptr(total))
	return addr, nil
}

// Realloc resizes the chunk at addr to size bytes, allocating fresh and
// copying when the chunk cannot be resized in place. The result always
// stays inside this pool: a chunk never migrates to another tag.
//
// Realloc(0, size) behaves as Alloc(size); Realloc(addr, 0) frees the
// chunk and returns address 0.
func (p *Pool) Realloc(addr, size uintptr) (uintptr, error) {
	if addr == 0 {
		return p.Alloc(size)
	}
	if size == 0 {
		return 0, p.Free(addr)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	old := p.usable(addr)
	if size <= old && chunkClass(old) == chunkClass(roundPayload(size)) {
		return addr, nil
	}
	next, err := p.alloc(size)
	if err != nil {
		return 0, err
	}
	memmove(next, addr, min(old, size))
	p.free(addr)
	return next, nil
}

// Free returns the chunk at addr to the pool. Freeing address 0 is a
// no-op. For quarantine-band pools the chunk is parked in the quarantine
// ring and only the evicted oldest entry, if any, is actually recycled.
func (p *Pool) Free(addr uintptr) error {
	if addr == 0 {
		return nil
	}
	if !p.Contains(addr) {
		return ErrForeignPointer
	}
	if p.quarantine != nil {
		evicted, recycle := p.quarantine.Exchange(addr)
		if !recycle {
			return nil
		}
		addr = evicted
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free(addr)
	return nil
}

// UsableSize returns the payload capacity of the chunk at addr.
func (p *Pool) UsableSize(addr uintptr) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usable(addr)
}

// Allocs returns the number of live chunks.
func (p *Pool) Allocs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs
}

// InUse returns the payload bytes currently handed out.
func (p *Pool) InUse() uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inuse
}

// roundPayload rounds a request up to its served capacity.
func roundPayload(size uintptr) uintptr {
	if size > maxSlotSize {
		return pagesFor(size)<<pageLog - headerSize
	}
	return 1 << sizeLog(size)
}

// chunkClass folds a served capacity into a comparable class identity:
// the slot log for small chunks, pageLog+npages for runs.
func chunkClass(capacity uintptr) uintptr {
	if capacity > maxSlotSize {
		return uintptr(pageLog) + (capacity+headerSize)>>pageLog
	}
	return uintptr(sizeLog(capacity))
}

func (p *Pool) alloc(size uintptr) (uintptr, error) {
	if size > maxSlotSize {
		return p.allocLarge(size)
	}
	log := sizeLog(size)
	if head := p.lists[log]; head != 0 {
		nd := nodeAt(head)
		p.lists[log] = nd.next
		if nd.next != 0 {
			nodeAt(nd.next).prev = 0
		}
		pageAt(head&^pageMask).used++
		p.allocs++
		p.inuse += 1 << log
		return head, nil
	}

	pg := p.pages[log]
	if pg == 0 || pageAt(pg).brk == uint32(pageAvail>>log) {
		next, err := p.carveRun(1)
		if err != nil {
			return 0, err
		}
		hdr := pageAt(next)
		hdr.log, hdr.npages, hdr.used, hdr.brk = log, 1, 0, 0
		p.pages[log] = next
		pg = next
	}
	hdr := pageAt(pg)
	slot := pg + headerSize + uintptr(hdr.brk)<<log
	hdr.brk++
	hdr.used++
	p.allocs++
	p.inuse += 1 << log
	return slot, nil
}

func (p *Pool) allocLarge(size uintptr) (uintptr, error) {
	n := pagesFor(size)
	run, err := p.carveRun(n)
	if err != nil {
		return 0, err
	}
	hdr := pageAt(run)
	hdr.log, hdr.npages, hdr.used, hdr.brk = 0, uint32(n), 1, 0
	p.allocs++
	p.inuse += n<<pageLog - headerSize
	return run + headerSize, nil
}

func (p *Pool) free(addr uintptr) {
	pg := addr &^ uintptr(pageMask)
	hdr := pageAt(pg)
	if hdr.log == 0 {
		n := uintptr(hdr.npages)
		p.allocs--
		p.inuse -= n<<pageLog - headerSize
		p.freeRun(pg, n)
		return
	}

	log := hdr.log
	nd := nodeAt(addr)
	nd.prev, nd.next = 0, p.lists[log]
	if nd.next != 0 {
		nodeAt(nd.next).prev = addr
	}
	p.lists[log] = addr
	hdr.used--
	p.allocs--
	p.inuse -= 1 << log

	if hdr.used != 0 {
		return
	}
	// Fully free page: pull its remaining slots out of the class list and
	// recycle the page itself.
	for i := uint32(0); i < hdr.brk; i++ {
		slot := pg + headerSize + uintptr(i)<<log
		sn := nodeAt(slot)
		switch {
		case sn.prev == 0:
			p.lists[log] = sn.next
			if sn.next != 0 {
				nodeAt(sn.next).prev = 0
			}
		case sn.next == 0:
			nodeAt(sn.prev).next = 0
		default:
			nodeAt(sn.prev).next = sn.next
			nodeAt(sn.next).prev = sn.prev
		}
	}
	if p.pages[log] == pg {
		p.pages[log] = 0
	}
	p.freeRun(pg, 1)
}

// carveRun returns the base address of n contiguous pages, preferring
// recycled runs over advancing the bump pointer.
func (p *Pool) carveRun(n uintptr) (uintptr, error) {
	var prev uintptr
	for cur := p.freeRuns; cur != 0; cur = runAt(cur).next {
		r := runAt(cur)
		if r.npages < n {
			prev = cur
			continue
		}
		if r.npages == n {
			if prev == 0 {
				p.freeRuns = r.next
			} else {
				runAt(prev).next = r.next
			}
			return cur, nil
		}
		// Split: the tail of the run stays free.
		rest := cur + n<<pageLog
		rn := runAt(rest)
		rn.next, rn.npages = r.next, r.npages-n
		if prev == 0 {
			p.freeRuns = rest
		} else {
			runAt(prev).next = rest
		}
		return cur, nil
	}

	next := p.brk + n<<pageLog
	if next > p.base+p.size {
		return 0, ErrOutOfMemory
	}
	run := p.brk
	p.brk = next
	return run, nil
}

// freeRun returns n pages at addr to the free-run list, coalescing with
// address-adjacent runs and retreating the bump pointer when the run is
// the topmost carved region.
func (p *Pool) freeRun(addr, n uintptr) {
	if addr+n<<pageLog == p.brk {
		p.brk = addr
		return
	}
	var prev uintptr
	cur := p.freeRuns
	for cur != 0 && cur < addr {
		prev = cur
		cur = runAt(cur).next
	}
	rn := runAt(addr)
	rn.next, rn.npages = cur, n
	if prev == 0 {
		p.freeRuns = addr
	} else {
		runAt(prev).next = addr
	}
	if cur != 0 && addr+rn.npages<<pageLog == cur {
		rn.npages += runAt(cur).npages
		rn.next = runAt(cur).next
	}
	if prev != 0 && prev+runAt(prev).npages<<pageLog == addr {
		pr := runAt(prev)
		pr.npages += rn.npages
		pr.next = rn.next
	}
}

func (p *Pool) usable(addr uintptr) uintptr {
	hdr := pageAt(addr &^ uintptr(pageMask))
	if hdr.log == 0 {
		return uintptr(hdr.npages)<<pageLog - headerSize
	}
	return 1 << hdr.log
}
