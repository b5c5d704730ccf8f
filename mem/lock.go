// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !fuzzalloc_st

package mem

import "sync"

// poolMutex guards a single pool's chunk structures. The fuzzalloc_st
// build tag swaps in a no-op variant for single-threaded targets.
type poolMutex = sync.Mutex
