// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/memfuncs"
	"code.hybscloud.com/fuzzalloc/taglog"
)

// Options configures a full pipeline run over one translation unit.
type Options struct {
	// TagLogPath is the cross-unit tag log. Empty keeps the records in
	// memory only (single-unit builds, tests).
	TagLogPath string

	// MemFuncsPath is the special-case wrapper list. Empty consults the
	// environment; a path that cannot be read is fatal.
	MemFuncsPath string

	// Seed stabilizes tag assignment; the module name serves when empty.
	Seed string

	Fuzzer       Fuzzer
	Sense        Sensitivity
	MinArraySize int

	Log *zap.Logger
}

// FromEnv fills the unset options from the environment.
func (o *Options) FromEnv() error {
	if o.TagLogPath == "" {
		o.TagLogPath = os.Getenv(taglog.EnvPath)
	}
	var err error
	if o.Fuzzer, err = FuzzerFromEnv(); err != nil {
		return err
	}
	if o.Sense, err = SensitivityFromEnv(); err != nil {
		return err
	}
	return nil
}

// loadList resolves the wrapper list: an explicit path, else the
// environment. A named file that cannot be read fails the build.
func (o *Options) loadList() (*memfuncs.List, error) {
	if o.MemFuncsPath != "" {
		return memfuncs.Load(o.MemFuncsPath)
	}
	return memfuncs.FromEnv()
}

// Run executes collect → tagalloc → heapify → instrument over m.
func Run(m *ir.Module, o Options) error {
	if o.Log == nil {
		o.Log = Logger()
	}
	list, err := o.loadList()
	if err != nil {
		return fmt.Errorf("pass: wrapper list: %w", err)
	}

	collect := &Collect{List: list, LogPath: o.TagLogPath, Log: o.Log}
	if err := collect.Run(m); err != nil {
		return err
	}

	// The accumulated log carries records from earlier units; this
	// unit's records join them.
	records := collect.Records
	if o.TagLogPath != "" {
		if records, err = taglog.ReadFile(o.TagLogPath); err != nil {
			return err
		}
	}

	// One drawer across both tagging passes keeps every allocation site
	// in the unit on a distinct tag.
	seed := o.Seed
	if seed == "" {
		seed = m.Name
	}
	draw := newTagDraw(seed)

	tag := &TagAlloc{Records: records, Seed: seed, Log: o.Log, draw: draw}
	if err := tag.Run(m); err != nil {
		return err
	}

	heap := &Heapify{MinArraySize: o.MinArraySize, Seed: seed, Log: o.Log, draw: draw}
	if err := heap.Run(m); err != nil {
		return err
	}

	instr := &Instrument{Fuzzer: o.Fuzzer, Sense: o.Sense, Log: o.Log}
	return instr.Run(m)
}
