// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cover

import (
	"os"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/mem"
)

// Mode selects how an access event reaches the fuzzer.
type Mode int

const (
	// ModeAFL hashes (tag, pc) into the shared bitmap.
	ModeAFL Mode = iota
	// ModeLibFuzzer bumps function-local 8-bit counters; the slot is
	// assigned at compile time, so the runtime callback only serves the
	// non-inlined debug path.
	ModeLibFuzzer
	// ModeDebugLog prints every access. Development only.
	ModeDebugLog
)

// envFuzzer selects the instrumentation mode: AFL, libfuzzer, debug-log.
const envFuzzer = "FUZZALLOC_FUZZER"

var (
	modeOnce sync.Once
	mode     Mode

	debugLog *zap.Logger
)

// CurrentMode returns the process instrumentation mode, parsing the
// environment exactly once. Unknown values fall back to ModeAFL.
func CurrentMode() Mode {
	modeOnce.Do(func() {
		switch os.Getenv(envFuzzer) {
		case "libfuzzer":
			mode = ModeLibFuzzer
		case "debug-log":
			mode = ModeDebugLog
			logger, err := zap.NewDevelopment()
			if err != nil {
				logger = zap.NewNop()
			}
			debugLog = logger
		default:
			mode = ModeAFL
		}
	})
	return mode
}

// SetModeForTest pins the mode, bypassing the one-shot environment parse.
func SetModeForTest(m Mode) {
	modeOnce.Do(func() {})
	mode = m
	if m == ModeDebugLog && debugLog == nil {
		debugLog = zap.NewNop()
	}
}

// OnAccess records a memory access through a pointer carrying tag. The
// use site is the caller's program counter. Accesses through DefaultTag
// pointers carry no data-flow information and are dropped.
//
// The AFL path performs no allocation and no locking: one hash, one
// racy byte increment.
func OnAccess(tag fuzzalloc.Tag) {
	pc, _, _, _ := runtime.Caller(1)
	OnAccessPC(tag, pc)
}

// OnAccessPC is OnAccess with an explicit use site. The inlined
// instrumentation sequence and tests use it directly.
func OnAccessPC(tag fuzzalloc.Tag, pc uintptr) {
	if tag == fuzzalloc.DefaultTag {
		return
	}
	switch CurrentMode() {
	case ModeAFL:
		m := Map()
		m[Index(tag, pc)%uintptr(len(m))]++
	case ModeDebugLog:
		debugLog.Info("access",
			zap.Uint16("tag", uint16(tag)),
			zap.Uintptr("pc", pc),
			zap.Uint64("allocSite", mem.AllocSite(tag)),
		)
	case ModeLibFuzzer:
		// Counter updates are emitted inline with compile-time slots;
		// the callback has no slot to bump.
	}
}

// OnAccessOffset folds the access's constant byte offset into the hash,
// the -offset sensitivity variants.
func OnAccessOffset(tag fuzzalloc.Tag, offset uintptr) {
	pc, _, _, _ := runtime.Caller(1)
	if tag == fuzzalloc.DefaultTag {
		return
	}
	if CurrentMode() == ModeAFL {
		m := Map()
		m[IndexWithOffset(tag, pc, offset)%uintptr(len(m))]++
	}
}
