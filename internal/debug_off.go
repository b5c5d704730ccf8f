// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !fuzzalloc_debug

package internal

// DebugBuild reports whether the fuzzalloc_debug build tag is set.
const DebugBuild = false
