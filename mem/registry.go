// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/internal"
)

// DefaultPoolSize is the pool region length used when no environment
// override is present. It is strictly below 1<<TagShift so no chunk can
// cross a tag boundary.
const DefaultPoolSize = 500_000_000

// maxPoolSize keeps the topmost pool page below the next tag boundary.
const maxPoolSize = 1<<fuzzalloc.TagShift - pageSize

// Environment variables consulted once, at first pool creation.
const (
	envPoolSize       = "FUZZALLOC_POOL_SIZE"
	envPoolSizeLegacy = "POOL_SIZE"
)

var (
	registryMu sync.Mutex
	pools      [int(fuzzalloc.TagMax) + 1]atomic.Pointer[Pool]
	sites      [int(fuzzalloc.TagMax) + 1]atomic.Uint64

	poolSizeOnce sync.Once
	poolSize     uintptr
)

// PoolSize returns the region length used for new pools. The environment
// is consulted exactly once; a malformed value falls back to the default.
func PoolSize() uintptr {
	poolSizeOnce.Do(func() { poolSize = poolSizeFromEnv() })
	return poolSize
}

func poolSizeFromEnv() uintptr {
	for _, key := range []string{envPoolSize, envPoolSizeLegacy} {
		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || n < pageSize || n > maxPoolSize {
			if internal.DebugBuild {
				fmt.Fprintf(os.Stderr, "fuzzalloc: ignoring %s=%q: %v\n", key, raw, err)
			}
			continue
		}
		return uintptr(n)
	}
	return DefaultPoolSize
}

// GetOrCreatePool returns the pool serving tag, mapping its region on
// first use. Creation is serialized by a process-wide mutex; lookups of
// an existing pool are a single atomic load.
func GetOrCreatePool(tag fuzzalloc.Tag) (*Pool, error) {
	if tag == 0 || tag > fuzzalloc.TagMax {
		return nil, ErrBadTag
	}
	if p := pools[tag].Load(); p != nil {
		return p, nil
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if p := pools[tag].Load(); p != nil {
		return p, nil
	}

	base, length, err := mapPoolRegion(tag, PoolSize())
	if err != nil {
		return nil, err
	}
	p := &Pool{
		tag:  tag,
		base: base,
		size: length,
		brk:  base,
	}
	if tag.Quarantined() {
		p.quarantine = NewQuarantine(DefaultQuarantineDepth)
	}
	// The tag doubles as the call-site identifier unless the tagging
	// transformation registered a distinct one up front.
	sites[tag].CompareAndSwap(0, uint64(tag))
	pools[tag].Store(p)
	return p, nil
}

// LookupPool returns the live pool for tag, or nil.
func LookupPool(tag fuzzalloc.Tag) *Pool {
	if tag == 0 || tag > fuzzalloc.TagMax {
		return nil
	}
	return pools[tag].Load()
}

// PoolForAddr returns the pool whose region contains addr, or nil for a
// foreign address.
func PoolForAddr(addr uintptr) *Pool {
	p := LookupPool(fuzzalloc.TagFromAddr(addr))
	if p == nil || !p.Contains(addr) {
		return nil
	}
	return p
}

// SetAllocSite records the compile-time allocation-site identifier that
// minted tag. Multiple logical call sites may share a pool; the table
// keeps the mapping explicit instead of assuming site == tag.
func SetAllocSite(tag fuzzalloc.Tag, site uint64) {
	if tag == 0 || tag > fuzzalloc.TagMax {
		return
	}
	sites[tag].Store(site)
}

// AllocSite returns the allocation-site identifier recorded for tag.
// Zero means the tag never minted a pool.
func AllocSite(tag fuzzalloc.Tag) uint64 {
	if tag == 0 || tag > fuzzalloc.TagMax {
		return 0
	}
	return sites[tag].Load()
}
