// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import (
	"sync"

	"code.hybscloud.com/fuzzalloc"
)

// SetPoolSizeForTest pins the pool region length, bypassing the one-shot
// environment parse.
func SetPoolSizeForTest(n uintptr) {
	poolSizeOnce.Do(func() {})
	poolSize = n
}

// ResetRegistryForTest unmaps every live pool and clears the registry so
// tests start from a clean tag space.
func ResetRegistryForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for i := range pools {
		if p := pools[i].Load(); p != nil {
			_ = unmapPoolRegion(p.base, p.size)
			pools[i].Store(nil)
		}
		sites[i].Store(0)
	}
}

// ResetPoolSizeForTest restores the environment-driven pool size parse.
func ResetPoolSizeForTest() {
	poolSizeOnce = sync.Once{}
	poolSize = 0
}

// Geometry constants re-exported for white-box assertions.
const (
	PageSizeForTest    = pageSize
	HeaderSizeForTest  = headerSize
	MaxSlotSizeForTest = maxSlotSize
)

// PoolBaseForTest returns the base a pool for tag must occupy.
func PoolBaseForTest(tag fuzzalloc.Tag) uintptr { return tag.PoolBase() }
