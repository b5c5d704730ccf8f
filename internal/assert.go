// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package internal

import "fmt"

// AssertDebug panics with a formatted message when debug builds are
// enabled and cond is false. Release builds compile it to a no-op so
// transformation passes degrade to skip-with-warning on constructs they
// do not understand.
func AssertDebug(cond bool, format string, args ...any) {
	if DebugBuild && !cond {
		panic(fmt.Sprintf("fuzzalloc: assertion failed: "+format, args...))
	}
}
