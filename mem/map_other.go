// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build unix && !linux

package mem

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/fuzzalloc"
)

// mapPoolRegion maps an anonymous region based exactly at the tag's pool
// base. Without MAP_FIXED_NOREPLACE the hint is best-effort: a mapping
// that lands elsewhere is released and the carve reported as failed
// rather than risking a pointer whose upper bits lie about its pool.
func mapPoolRegion(tag fuzzalloc.Tag, size uintptr) (base, length uintptr, err error) {
	length = roundup(size, pageSize)
	hint := tag.PoolBase()

	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, 0, ErrOutOfMemory
	}
	if uintptr(p) != hint {
		_ = unix.MunmapPtr(p, length)
		return 0, 0, ErrAddressSpace
	}
	return hint, length, nil
}

func unmapPoolRegion(base, length uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(base), length)
}
