// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"code.hybscloud.com/fuzzalloc"
)

// tagDraw hands out compile-time tag constants. The draw hashes a
// stable build seed with the site ordinal: random-looking, reproducible
// across rebuilds of the same input, distinct per call site within a
// build. Collisions probe linearly through the assignable range.
type tagDraw struct {
	seed string
	used map[fuzzalloc.Tag]bool
	seq  int

	// Sites lists assigned tags in assignment order.
	Sites []fuzzalloc.Tag
}

func newTagDraw(seed string) *tagDraw {
	return &tagDraw{seed: seed, used: map[fuzzalloc.Tag]bool{}}
}

func (d *tagDraw) fresh() fuzzalloc.Tag {
	span := uint64(fuzzalloc.TagMax-fuzzalloc.TagMin) + 1
	h := xxhash.Sum64String(d.seed + ":" + strconv.Itoa(d.seq))
	d.seq++
	tag := fuzzalloc.TagMin + fuzzalloc.Tag(h%span)
	for d.used[tag] {
		if tag == fuzzalloc.TagMax {
			tag = fuzzalloc.TagMin
		} else {
			tag++
		}
	}
	d.used[tag] = true
	d.Sites = append(d.Sites, tag)
	return tag
}
