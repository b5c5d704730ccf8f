// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cover

import "sync"

// MapSize is the default AFL bitmap length. The host fuzzer may supply a
// differently sized map through SetMap; the hash is reduced modulo the
// actual length.
const MapSize = 1 << 16

var (
	mapMu  sync.Mutex
	aflMap []byte
)

// SetMap installs the shared coverage bitmap. The embedding fuzzer calls
// this with the region it exposes to the target; tests call it with a
// local slice.
func SetMap(m []byte) {
	mapMu.Lock()
	aflMap = m
	mapMu.Unlock()
}

// Map returns the live coverage bitmap, attaching or creating one on
// first use. The attachment order is: an already installed map, the
// fuzzer's shared memory segment, a private in-process map.
func Map() []byte {
	if m := aflMap; m != nil {
		return m
	}
	mapMu.Lock()
	defer mapMu.Unlock()
	if aflMap == nil {
		if shared, err := attachSharedMap(); err == nil {
			aflMap = shared
		} else {
			aflMap = make([]byte, MapSize)
		}
	}
	return aflMap
}

// Reset zeroes the live bitmap. Test helper; fuzzers reset the map on
// their side of the shared segment.
func Reset() {
	m := Map()
	for i := range m {
		m[i] = 0
	}
}
