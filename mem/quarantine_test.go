// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/fuzzalloc/mem"
)

func TestQuarantineParksUntilFull(t *testing.T) {
	q := mem.NewQuarantine(4)
	if q.Cap() != 4 {
		t.Fatalf("Cap() = %d, want 4", q.Cap())
	}

	for i := uintptr(1); i <= 4; i++ {
		evicted, recycle := q.Exchange(i << 4)
		if recycle {
			t.Fatalf("Exchange(%d) evicted %#x before the ring filled", i, evicted)
		}
	}
	if q.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", q.Len())
	}

	// Fifth entry evicts the oldest, FIFO order.
	evicted, recycle := q.Exchange(5 << 4)
	if !recycle || evicted != 1<<4 {
		t.Fatalf("Exchange on full ring: evicted %#x, recycle %v", evicted, recycle)
	}
}

func TestQuarantineDrainOrder(t *testing.T) {
	q := mem.NewQuarantine(8)
	for i := uintptr(1); i <= 5; i++ {
		q.Exchange(i * 16)
	}
	got := q.Drain()
	if len(got) != 5 {
		t.Fatalf("Drain() returned %d entries, want 5", len(got))
	}
	for i, addr := range got {
		if addr != uintptr(i+1)*16 {
			t.Errorf("Drain()[%d] = %#x, want %#x", i, addr, (i+1)*16)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() after drain = %d", q.Len())
	}
}

func TestQuarantineDepthRounding(t *testing.T) {
	if got := mem.NewQuarantine(5).Cap(); got != 8 {
		t.Errorf("Cap(depth 5) = %d, want 8", got)
	}
	if got := mem.NewQuarantine(1).Cap(); got != 1 {
		t.Errorf("Cap(depth 1) = %d, want 1", got)
	}
}

func TestQuarantineConcurrentExchange(t *testing.T) {
	const goroutines = 8
	const iterations = 2000

	q := mem.NewQuarantine(64)
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := range goroutines {
		go func(id int) {
			defer wg.Done()
			for i := 1; i <= iterations; i++ {
				addr := uintptr(id*iterations+i) << 4
				evicted, recycle := q.Exchange(addr)
				if recycle && evicted == 0 {
					t.Errorf("goroutine %d: recycle with zero address", id)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if q.Len() != q.Cap() {
		t.Errorf("ring not full after saturation: %d/%d", q.Len(), q.Cap())
	}
	for _, addr := range q.Drain() {
		if addr == 0 {
			t.Error("drained zero address")
		}
	}
}
