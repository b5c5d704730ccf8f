// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import "errors"

var (
	// ErrOutOfMemory reports that a mapping failed or a pool region is
	// exhausted. Callers translate it to a nil pointer per allocator
	// convention.
	ErrOutOfMemory = errors.New("mem: out of memory")

	// ErrAddressSpace reports that the tag-aligned base for a pool could
	// not be carved out of the process address space. The condition does
	// not recover; callers are expected to abort.
	ErrAddressSpace = errors.New("mem: cannot obtain tag-aligned pool base")

	// ErrBadTag reports a pool request for a tag outside the usable range.
	ErrBadTag = errors.New("mem: tag outside usable range")

	// ErrForeignPointer reports an operation on an address that belongs to
	// no live pool.
	ErrForeignPointer = errors.New("mem: pointer outside any pool")
)
