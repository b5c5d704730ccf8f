// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"fmt"
	"os"
)

// Environment variables steering the instrumentation pass.
const (
	EnvFuzzer      = "FUZZALLOC_FUZZER"
	EnvSensitivity = "FUZZALLOC_SENSITIVITY"
)

// Fuzzer selects the coverage-map shape the instrumentation targets.
type Fuzzer int

const (
	// FuzzerAFL hashes into the shared AFL bitmap.
	FuzzerAFL Fuzzer = iota
	// FuzzerLibFuzzer bumps function-local 8-bit counters.
	FuzzerLibFuzzer
	// FuzzerDebugLog calls the runtime logging hook at every access.
	FuzzerDebugLog
)

// ParseFuzzer maps a FUZZALLOC_FUZZER value to a Fuzzer.
func ParseFuzzer(s string) (Fuzzer, error) {
	switch s {
	case "", "AFL":
		return FuzzerAFL, nil
	case "libfuzzer":
		return FuzzerLibFuzzer, nil
	case "debug-log":
		return FuzzerDebugLog, nil
	}
	return FuzzerAFL, fmt.Errorf("pass: unknown fuzzer %q", s)
}

// FuzzerFromEnv reads FUZZALLOC_FUZZER, defaulting to AFL.
func FuzzerFromEnv() (Fuzzer, error) {
	return ParseFuzzer(os.Getenv(EnvFuzzer))
}

// Sensitivity selects the instruction classes the instrumentation pass
// covers and whether the access's static byte offset joins the hash.
type Sensitivity struct {
	Reads  bool
	Writes bool
	Offset bool
}

var sensitivities = map[string]Sensitivity{
	"mem-read":          {Reads: true},
	"mem-write":         {Writes: true},
	"mem-access":        {Reads: true, Writes: true},
	"mem-read-offset":   {Reads: true, Offset: true},
	"mem-write-offset":  {Writes: true, Offset: true},
	"mem-access-offset": {Reads: true, Writes: true, Offset: true},
}

// ParseSensitivity maps a FUZZALLOC_SENSITIVITY value. Empty selects
// mem-access.
func ParseSensitivity(s string) (Sensitivity, error) {
	if s == "" {
		return sensitivities["mem-access"], nil
	}
	sense, ok := sensitivities[s]
	if !ok {
		return Sensitivity{}, fmt.Errorf("pass: unknown sensitivity %q", s)
	}
	return sense, nil
}

// SensitivityFromEnv reads FUZZALLOC_SENSITIVITY.
func SensitivityFromEnv() (Sensitivity, error) {
	return ParseSensitivity(os.Getenv(EnvSensitivity))
}
