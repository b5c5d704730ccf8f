// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package mem

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"

	"code.hybscloud.com/fuzzalloc"
)

// mapPoolRegion maps an anonymous region whose base address encodes tag
// in its upper bits. The requested size is rounded up to whole pages.
//
// The kernel is first given the exact base as a plain hint, which
// succeeds on a quiet address space. If the hint is ignored the mapping
// is retried with MAP_FIXED_NOREPLACE, which either lands exactly or
// fails without clobbering an existing mapping.
func mapPoolRegion(tag fuzzalloc.Tag, size uintptr) (base, length uintptr, err error) {
	length = roundup(size, pageSize)
	hint := tag.PoolBase()
	const prot = unix.PROT_READ | unix.PROT_WRITE
	const flags = unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_NORESERVE

	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), length, prot, flags)
	if err == nil {
		if uintptr(p) == hint {
			return hint, length, nil
		}
		// Hint ignored; release the stray region and demand the base.
		_ = unix.MunmapPtr(p, length)
	}

	p, err = unix.MmapPtr(-1, 0, unsafe.Pointer(hint), length, prot,
		flags|unix.MAP_FIXED_NOREPLACE)
	switch {
	case err == nil && uintptr(p) == hint:
		return hint, length, nil
	case err == nil:
		// Pre-4.17 kernels fall back to hint behavior.
		_ = unix.MunmapPtr(p, length)
		return 0, 0, ErrAddressSpace
	case errors.Is(err, unix.EEXIST):
		return 0, 0, ErrAddressSpace
	default:
		return 0, 0, ErrOutOfMemory
	}
}

func unmapPoolRegion(base, length uintptr) error {
	return unix.MunmapPtr(unsafe.Pointer(base), length)
}
