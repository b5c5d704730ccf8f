// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import (
	"math"
	"sync/atomic"
	"unsafe"

	"code.hybscloud.com/fuzzalloc/internal"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// DefaultQuarantineDepth is the chunk count a quarantine ring holds
// before freed memory becomes eligible for reuse.
const DefaultQuarantineDepth = 256

// Quarantine is a bounded lock-free MPMC ring of freed chunk addresses.
//
// Pools in the sanitizer tag band park freed chunks here instead of
// recycling them immediately: a dangling pointer dereferenced while its
// chunk sits in the ring still reads the stale allocation, and the access
// instrumentation still observes the stale tag. Only when the ring
// overflows is the oldest chunk actually handed back to the free lists.
//
// The ring is a bounded FIFO over a fixed entry array with turn-stamped
// slots and head/tail cursors; consecutive cursor positions are remapped
// across cache lines to keep concurrent producers off the same line.
type Quarantine struct {
	_ noCopy

	entries   []atomic.Uint64
	capacity  uint32
	mask      uint32
	remapM    uint32
	remapN    uint32
	remapMask uint32

	head, tail atomic.Uint32
}

// NewQuarantine creates a ring holding up to depth addresses. The depth
// is rounded up to the next power of two and must stay below MaxUint32.
func NewQuarantine(depth int) *Quarantine {
	if depth < 1 || depth > math.MaxUint32 {
		panic("quarantine depth must be between 1 and MaxUint32")
	}
	depth--
	depth |= depth >> 1
	depth |= depth >> 2
	depth |= depth >> 4
	depth |= depth >> 8
	depth |= depth >> 16
	depth++

	remapM := min(internal.CacheLineSize/unsafe.Sizeof(atomic.Uint64{}), uintptr(depth))
	remapN := max(1, uintptr(depth)/remapM)

	q := Quarantine{
		entries:   make([]atomic.Uint64, depth),
		capacity:  uint32(depth),
		mask:      uint32(depth - 1),
		remapM:    uint32(remapM),
		remapN:    uint32(remapN),
		remapMask: uint32(remapN - 1),
	}
	for i := range q.entries {
		q.entries[i].Store(q.empty(0))
	}
	return &q
}

// Exchange parks addr in the ring. When the ring has room the call
// returns recycle == false and the caller must not reuse the chunk. When
// the ring is full the oldest parked address is evicted and returned with
// recycle == true; the caller recycles that chunk instead.
func (q *Quarantine) Exchange(addr uintptr) (evicted uintptr, recycle bool) {
	var aw iox.Backoff
	var held uintptr
	for {
		if err := q.tryPut(uint64(addr)); err == nil {
			if held != 0 {
				return held, true
			}
			return 0, false
		}
		if held == 0 {
			// Ring full: evict the oldest parked chunk, then park addr.
			if old, err := q.tryGet(); err == nil {
				held = uintptr(old)
				continue
			}
		}
		// Lost the freed slot to a concurrent producer; yield and retry.
		aw.Wait()
	}
}

// Drain pops every parked address, oldest first, and returns them. The
// pool itself never calls it; parked chunks stay parked until evicted.
func (q *Quarantine) Drain() []uintptr {
	var out []uintptr
	for {
		e, err := q.tryGet()
		if err != nil {
			return out
		}
		out = append(out, uintptr(e))
	}
}

// Len returns the number of parked addresses.
func (q *Quarantine) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the ring capacity.
func (q *Quarantine) Cap() int { return int(q.capacity) }

const (
	quarantineEntryEmpty    = 1 << 62
	quarantineEntryTurnMask = quarantineEntryEmpty>>32 - 1
)

func (q *Quarantine) tryGet() (entry uint64, err error) {
	sw := spin.Wait{}
	for {
		h, t := q.head.Load(), q.tail.Load()
		hi := q.remap(h & q.mask)
		e := q.entries[hi].Load()

		if h != q.head.Load() {
			sw.Once()
			continue
		}

		if h == t {
			return quarantineEntryEmpty, iox.ErrWouldBlock
		}

		nextTurn := (h/q.capacity + 1) & quarantineEntryTurnMask
		if e == q.empty(nextTurn) {
			q.head.CompareAndSwap(h, h+1)
			sw.Once()
			continue
		}
		ok := q.entries[hi].CompareAndSwap(e, q.empty(nextTurn))
		q.head.CompareAndSwap(h, h+1)
		if ok {
			return e, nil
		}
		sw.Once()
	}
}

func (q *Quarantine) tryPut(e uint64) error {
	sw := spin.Wait{}
	for {
		h, t := q.head.Load(), q.tail.Load()
		if t != q.tail.Load() {
			sw.Once()
			continue
		}
		if t == h+q.capacity {
			return iox.ErrWouldBlock
		}
		turn, ti := (t/q.capacity)&quarantineEntryTurnMask, q.remap(t&q.mask)
		ok := q.entries[ti].CompareAndSwap(q.empty(turn), e)
		q.tail.CompareAndSwap(t, t+1)
		if ok {
			return nil
		}
		sw.Once()
	}
}

func (q *Quarantine) remap(cursor uint32) int {
	p, r := cursor/q.remapN, cursor&q.remapMask
	return int(r*q.remapM + p%q.remapM)
}

func (q *Quarantine) empty(turn uint32) uint64 {
	return quarantineEntryEmpty | uint64(turn&quarantineEntryTurnMask)
}
