// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/pass"
)

// countSites counts emitted update sequences by their pc reads (AFL) in
// the whole function.
func countSites(f *ir.Func) int {
	return len(findCalls(f, pass.SymUseSitePC))
}

func TestInstrumentStoreAndLoad(t *testing.T) {
	m := mustParse(t, `module basic

define @g : void (i8*) params=[%p] {
entry:
  store 1:i8, %p
  %v = load %p
  ret
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Reads: true, Writes: true}}
	require.NoError(t, in.Run(m))
	f := m.Func("g")

	// Same underlying object twice in one block: one instrumented site.
	require.Equal(t, 1, countSites(f))
	require.NotNil(t, m.Global(pass.SymAFLArea))

	// The update is conditional on the tag differing from DefaultTag.
	entry := f.Blocks[0]
	term := entry.Terminator()
	require.Equal(t, ir.OpCondBr, term.Op)
	cond := term.Ops[0].(*ir.Instr)
	require.Equal(t, ir.OpICmp, cond.Op)
	require.Equal(t, "ne", cond.Sub)
	def := cond.Ops[1].(*ir.ConstInt)
	require.EqualValues(t, 1, def.V)

	// Tag extraction: ptrtoint, shift by 32, mask 0xFFFF; everything in
	// the emitted sequence is sanitizer-exempt.
	p2i := entry.Instrs[0]
	require.Equal(t, ir.OpPtrToInt, p2i.Op)
	require.True(t, p2i.Meta.NoSanitize)
	sh := entry.Instrs[1]
	require.Equal(t, "lshr", sh.Sub)
	require.EqualValues(t, 32, sh.Ops[1].(*ir.ConstInt).V)
	mask := entry.Instrs[2]
	require.Equal(t, "and", mask.Sub)
	require.EqualValues(t, 0xFFFF, mask.Ops[1].(*ir.ConstInt).V)

	// The update block hashes with the multiply-xor-subtract formula
	// and bumps one byte of the shared bitmap.
	upd := term.Blocks[0]
	var muls, xors, subs, loads, stores int
	for _, i2 := range upd.Instrs {
		require.True(t, i2.Meta.NoSanitize)
		switch {
		case i2.Op == ir.OpBin && i2.Sub == "mul":
			muls++
		case i2.Op == ir.OpBin && i2.Sub == "xor":
			xors++
		case i2.Op == ir.OpBin && i2.Sub == "sub":
			subs++
		case i2.Op == ir.OpLoad:
			loads++
		case i2.Op == ir.OpStore:
			stores++
		}
	}
	require.Equal(t, 1, muls)
	require.Equal(t, 1, xors)
	require.Equal(t, 2, subs)
	require.Equal(t, 2, loads, "map pointer and coverage byte")
	require.Equal(t, 1, stores)
}

func TestInstrumentCallResetsDedup(t *testing.T) {
	m := mustParse(t, `module resets

declare @opaque : void ()

define @g : void (i8*) params=[%p] {
entry:
  store 1:i8, %p
  call @opaque()
  store 2:i8, %p
  ret
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Writes: true}}
	require.NoError(t, in.Run(m))
	// The call may have touched the object; both stores count.
	require.Equal(t, 2, countSites(m.Func("g")))
}

func TestInstrumentSensitivityFilters(t *testing.T) {
	src := `module senses

define @g : i8 (i8*, i8*) params=[%p, %q] {
entry:
  store 1:i8, %p
  %v = load %q
  ret %v
}
`
	m := mustParse(t, src)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Reads: true}}
	require.NoError(t, in.Run(m))
	require.Equal(t, 1, countSites(m.Func("g")))

	m = mustParse(t, src)
	in = &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Writes: true}}
	require.NoError(t, in.Run(m))
	require.Equal(t, 1, countSites(m.Func("g")))

	m = mustParse(t, src)
	in = &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Reads: true, Writes: true}}
	require.NoError(t, in.Run(m))
	require.Equal(t, 2, countSites(m.Func("g")))
}

func TestInstrumentSkipsMarkedAndPromotable(t *testing.T) {
	m := mustParse(t, `module skips

define @g : i32 (i32*) params=[%p] {
entry:
  %slot = alloca i32
  store 7:i32, %slot
  %x = load %slot
  %v = load %p !noinstr
  ret %x
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Reads: true, Writes: true}}
	require.NoError(t, in.Run(m))
	// The scalar alloca promotes to a register; the marked load is the
	// heapifier's own access.
	require.Equal(t, 0, countSites(m.Func("g")))
}

func TestInstrumentSkipsProvablyInBounds(t *testing.T) {
	m := mustParse(t, `module bounds

define @g : i8 () params=[] {
entry:
  %a = alloca [4 x i8]
  %p = gep [4 x i8], %a, [0:i64, 2:i64]
  store 1:i8, %p
  %v = load %p
  ret %v
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Reads: true, Writes: true}}
	require.NoError(t, in.Run(m))
	require.Equal(t, 0, countSites(m.Func("g")))
}

func TestInstrumentMaskedAccessesNotDeduped(t *testing.T) {
	m := mustParse(t, `module masked

define @g : void (i64*, i64) params=[%p, %mask] {
entry:
  %a = masked.load %p, %mask
  %b = masked.load %p, %mask
  ret
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Reads: true}}
	require.NoError(t, in.Run(m))
	// Different masks may reach different elements; both sites count.
	require.Equal(t, 2, countSites(m.Func("g")))
}

func TestInstrumentLibFuzzerCounters(t *testing.T) {
	m := mustParse(t, `module counters

define @parse : void (i8*) params=[%p] {
entry:
  store 1:i8, %p
  ret
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerLibFuzzer, Sense: pass.Sensitivity{Writes: true}}
	require.NoError(t, in.Run(m))

	ctrs := m.Global("parse.dfcov")
	require.NotNil(t, ctrs)
	require.Equal(t, ir.Type(ir.Array(1, ir.I8)), ctrs.Ty)
	require.Equal(t, "__sancov_cntrs", ctrs.Section)

	// A constructor hands the block to the fuzzer.
	require.Len(t, m.Ctors, 1)
	regCall := m.Ctors[0].Fn.Entry().Instrs[0]
	require.Equal(t, ir.OpCall, regCall.Op)
	require.Equal(t, pass.SymCountersInit, regCall.Callee().(*ir.Func).Name)
}

func TestInstrumentDebugLog(t *testing.T) {
	m := mustParse(t, `module dbg

define @g : void (i8*) params=[%p] {
entry:
  store 1:i8, %p
  ret
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerDebugLog, Sense: pass.Sensitivity{Writes: true}}
	require.NoError(t, in.Run(m))
	require.Len(t, findCalls(m.Func("g"), pass.SymOnAccess), 1)
}

func TestInstrumentOffsetVariantFoldsOffset(t *testing.T) {
	m := mustParse(t, `module offsets

define @g : void ([64 x i8]*) params=[%p] {
entry:
  %q = gep [64 x i8], %p, [0:i64, 9:i64]
  store 1:i8, %q
  ret
}
`)
	in := &pass.Instrument{Fuzzer: pass.FuzzerAFL, Sense: pass.Sensitivity{Writes: true, Offset: true}}
	require.NoError(t, in.Run(m))
	f := m.Func("g")
	require.Equal(t, 1, countSites(f))

	// The static byte offset joins the hash as an add of 9.
	found := false
	for _, b := range f.Blocks {
		for _, i2 := range b.Instrs {
			if i2.Op == ir.OpBin && i2.Sub == "add" && len(i2.Ops) == 2 {
				if c, ok := i2.Ops[1].(*ir.ConstInt); ok && c.V == 9 {
					found = true
				}
			}
		}
	}
	require.True(t, found)
}
