// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command fuzzalloc drives the transformation pipeline over a module in
// its textual form: collect tag sites, tag allocation calls, heapify
// static arrays, and instrument memory accesses for data-flow coverage.
//
// Flags shadow the corresponding environment variables, so the tool
// drops into compiler wrapper scripts that already configure the build
// through the environment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/memfuncs"
	"code.hybscloud.com/fuzzalloc/pass"
	"code.hybscloud.com/fuzzalloc/taglog"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fuzzalloc:", err)
		os.Exit(1)
	}
}

type flags struct {
	output   string
	tagLog   string
	memFuncs string
	seed     string

	fuzzer       string
	sensitivity  string
	minArraySize int
}

func newRoot() *cobra.Command {
	var fl flags

	root := &cobra.Command{
		Use:           "fuzzalloc",
		Short:         "data-flow coverage transformation pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&fl.output, "output", "o", "", "write the transformed module here (default stdout)")
	pf.StringVar(&fl.tagLog, "tag-log", os.Getenv(taglog.EnvPath), "tag log file accumulated across translation units")
	pf.StringVar(&fl.memFuncs, "mem-funcs", "", "special-case list of user allocation wrappers")
	pf.StringVar(&fl.seed, "seed", "", "stable seed for tag assignment (default module name)")

	root.AddCommand(
		newCollect(&fl),
		newTag(&fl),
		newHeapify(&fl),
		newInstrument(&fl),
		newPipeline(&fl),
	)
	return root
}

func loadModule(path string) (*ir.Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ir.Parse(string(src))
}

func emit(m *ir.Module, fl *flags) error {
	if fl.output == "" {
		_, err := fmt.Print(m.String())
		return err
	}
	return os.WriteFile(fl.output, []byte(m.String()), 0o644)
}

func loadList(fl *flags) (*memfuncs.List, error) {
	if fl.memFuncs != "" {
		return memfuncs.Load(fl.memFuncs)
	}
	return memfuncs.FromEnv()
}

func newCollect(fl *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "collect <module.ir>",
		Short: "log allocator entry points and their holders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			list, err := loadList(fl)
			if err != nil {
				return err
			}
			c := &pass.Collect{List: list, LogPath: fl.tagLog, Log: pass.Logger()}
			if err := c.Run(m); err != nil {
				return err
			}
			if fl.tagLog == "" {
				for _, rec := range c.Records {
					fmt.Println(rec.String())
				}
			}
			return nil
		},
	}
}

func newTag(fl *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <module.ir>",
		Short: "rewrite allocation calls to the tagged allocator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			records, err := taglog.ReadFile(fl.tagLog)
			if err != nil {
				return err
			}
			ta := &pass.TagAlloc{Records: records, Seed: fl.seed, Log: pass.Logger()}
			if err := ta.Run(m); err != nil {
				return err
			}
			return emit(m, fl)
		},
	}
}

func newHeapify(fl *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heapify <module.ir>",
		Short: "relocate static arrays onto the tagged allocator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			h := &pass.Heapify{MinArraySize: fl.minArraySize, Seed: fl.seed, Log: pass.Logger()}
			if err := h.Run(m); err != nil {
				return err
			}
			return emit(m, fl)
		},
	}
	cmd.Flags().IntVar(&fl.minArraySize, "min-array-size", 1, "smallest array byte size worth promoting")
	return cmd
}

func instrumentConfig(fl *flags) (pass.Fuzzer, pass.Sensitivity, error) {
	var fz pass.Fuzzer
	var err error
	if fl.fuzzer != "" {
		fz, err = pass.ParseFuzzer(fl.fuzzer)
	} else {
		fz, err = pass.FuzzerFromEnv()
	}
	if err != nil {
		return fz, pass.Sensitivity{}, err
	}
	var sense pass.Sensitivity
	if fl.sensitivity != "" {
		sense, err = pass.ParseSensitivity(fl.sensitivity)
	} else {
		sense, err = pass.SensitivityFromEnv()
	}
	return fz, sense, err
}

func newInstrument(fl *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instrument <module.ir>",
		Short: "instrument memory accesses with coverage updates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			fz, sense, err := instrumentConfig(fl)
			if err != nil {
				return err
			}
			in := &pass.Instrument{Fuzzer: fz, Sense: sense, Log: pass.Logger()}
			if err := in.Run(m); err != nil {
				return err
			}
			return emit(m, fl)
		},
	}
	addInstrumentFlags(cmd, fl)
	return cmd
}

func addInstrumentFlags(cmd *cobra.Command, fl *flags) {
	cmd.Flags().StringVar(&fl.fuzzer, "fuzzer", "", "coverage mode: AFL, libfuzzer, debug-log")
	cmd.Flags().StringVar(&fl.sensitivity, "sensitivity", "",
		"instruction classes: mem-read, mem-write, mem-access, with optional -offset suffix")
}

func newPipeline(fl *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline <module.ir>",
		Short: "run collect, tag, heapify, and instrument in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			fz, sense, err := instrumentConfig(fl)
			if err != nil {
				return err
			}
			opts := pass.Options{
				TagLogPath:   fl.tagLog,
				MemFuncsPath: fl.memFuncs,
				Seed:         fl.seed,
				Fuzzer:       fz,
				Sense:        sense,
				MinArraySize: fl.minArraySize,
				Log:          pass.Logger(),
			}
			if err := pass.Run(m, opts); err != nil {
				return err
			}
			return emit(m, fl)
		},
	}
	addInstrumentFlags(cmd, fl)
	cmd.Flags().IntVar(&fl.minArraySize, "min-array-size", 1, "smallest array byte size worth promoting")
	return cmd
}
