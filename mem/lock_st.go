// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build fuzzalloc_st

package mem

// poolMutex is compiled out in single-threaded builds.
type poolMutex struct{}

func (poolMutex) Lock()   {}
func (poolMutex) Unlock() {}
