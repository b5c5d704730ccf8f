// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mem

import "math/bits"

// Chunk geometry. Small requests are served from shared pages split into
// power-of-two slots; requests above maxSlotSize take a dedicated run of
// contiguous pages. The page header lives at the start of every page or
// run, so a chunk address recovers its header with a single mask.
const (
	pageLog  = 12
	pageSize = 1 << pageLog
	pageMask = pageSize - 1

	// headerSize is the page header footprint rounded to the chunk
	// alignment. Chunk payloads start at page+headerSize.
	headerSize = 32

	pageAvail = pageSize - headerSize

	// minLog is the smallest slot class: a free slot must hold the
	// intrusive list node.
	minLog      = 4
	minSlotSize = 1 << minLog

	maxSlotSize = pageAvail >> 1
)

// maxLog is the largest slot class log. Slots of 1<<maxLog still fit at
// least two per page.
var maxLog = uint32(bits.Len(uint(maxSlotSize))) - 1

// roundup rounds n up to a multiple of m. m must be a power of two.
func roundup(n, m uintptr) uintptr { return (n + m - 1) &^ (m - 1) }

// sizeLog returns the slot class for a small request: the ceiling log2 of
// size, clamped below by minLog. size must be in (0, maxSlotSize].
func sizeLog(size uintptr) uint32 {
	log := uint32(bits.Len(uint(size - 1)))
	if log < minLog {
		return minLog
	}
	return log
}

// pagesFor returns the page count needed for a large chunk of the given
// payload size, header included.
func pagesFor(size uintptr) uintptr {
	return roundup(size+headerSize, pageSize) >> pageLog
}
