// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cover

import "sync"

// CounterBlock is a function-local 8-bit counter array, the libFuzzer
// shape of the coverage map. The instrumentation pass creates one block
// per instrumented function and assigns every instrumented access a
// distinct slot; a generated constructor registers the block here, the
// moral equivalent of __sanitizer_cov_8bit_counters_init.
type CounterBlock struct {
	// Function is the symbol the block belongs to.
	Function string

	// Counters is the slot array. Updates are plain stores.
	Counters []uint8
}

var (
	countersMu sync.Mutex
	blocks     []*CounterBlock
)

// RegisterCounters adds a function's counter block to the process-wide
// section and returns its block index. Called from generated
// constructors before fuzzing starts; registration is not on the
// coverage update path.
func RegisterCounters(b *CounterBlock) int {
	countersMu.Lock()
	defer countersMu.Unlock()
	blocks = append(blocks, b)
	return len(blocks) - 1
}

// Counters returns the registered blocks in registration order.
func Counters() []*CounterBlock {
	countersMu.Lock()
	defer countersMu.Unlock()
	return blocks[:len(blocks):len(blocks)]
}

// BumpCounter increments the 8-bit counter at (block, slot). Out-of-range
// indices are ignored: a stale registration must not crash the target.
func BumpCounter(block, slot int) {
	bs := blocks
	if block < 0 || block >= len(bs) {
		return
	}
	c := bs[block].Counters
	if slot < 0 || slot >= len(c) {
		return
	}
	c[slot]++
}

// ResetCounters clears every registered block. Test helper.
func ResetCounters() {
	countersMu.Lock()
	defer countersMu.Unlock()
	for _, b := range blocks {
		clear(b.Counters)
	}
}

// DropCountersForTest unregisters all blocks.
func DropCountersForTest() {
	countersMu.Lock()
	defer countersMu.Unlock()
	blocks = nil
}
