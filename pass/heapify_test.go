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

// findCalls returns every call to the named function, in program order.
func findCalls(f *ir.Func, callee string) []*ir.Instr {
	var out []*ir.Instr
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Op != ir.OpCall {
				continue
			}
			if fn, ok := in.Callee().(*ir.Func); ok && fn.Name == callee {
				out = append(out, in)
			}
		}
	}
	return out
}

func TestHeapifyStackArray(t *testing.T) {
	m := mustParse(t, `module stack

define @f : i32 () params=[] {
entry:
  %a = alloca [32 x i32]
  %p = gep [32 x i32], %a, [0:i64, 7:i64]
  store 42:i32, %p
  %v = load %p
  ret %v
}
`)
	h := &pass.Heapify{}
	require.NoError(t, h.Run(m))
	f := m.Func("f")

	// The array is served by the tagged allocator now.
	mallocs := findCalls(f, pass.SymTaggedMalloc)
	require.Len(t, mallocs, 1)
	size := mallocs[0].Args()[1].(*ir.ConstInt)
	require.EqualValues(t, 128, size.V)
	require.True(t, mallocs[0].Meta.Tagged)
	require.True(t, mallocs[0].Meta.NoInstrument)

	// The slot is a pointer alloca; the element access drops the fixed
	// array's leading zero index.
	slot := f.Entry().Instrs[0]
	require.Equal(t, ir.OpAlloca, slot.Op)
	require.Equal(t, ir.Ptr(ir.I32), slot.Elem)

	var gep *ir.Instr
	for _, in := range f.Entry().Instrs {
		if in.Op == ir.OpGep && !in.Meta.NoInstrument {
			gep = in
		}
	}
	require.NotNil(t, gep)
	require.Equal(t, ir.Type(ir.I32), gep.Elem)
	require.Len(t, gep.Ops, 2, "leading zero index must disappear")
	idx := gep.Ops[1].(*ir.ConstInt)
	require.EqualValues(t, 7, idx.V)

	// Exactly one release, before the return.
	frees := findCalls(f, pass.SymFree)
	require.Len(t, frees, 1)
	blk := frees[0].Parent
	require.Equal(t, ir.OpRet, blk.Terminator().Op)
	require.Greater(t, blk.Index(blk.Terminator()), blk.Index(frees[0]))
}

func TestHeapifyLifetimeMarkers(t *testing.T) {
	m := mustParse(t, `module lifetimes

define @g : void () params=[] {
entry:
  %a = alloca [16 x i8]
  lifetime.start %a, 16
  %p = gep [16 x i8], %a, [0:i64, 3:i64]
  store 1:i8, %p
  lifetime.end %a, 16
  ret
}
`)
	h := &pass.Heapify{}
	require.NoError(t, h.Run(m))
	f := m.Func("g")
	entry := f.Entry()

	mallocs := findCalls(f, pass.SymTaggedMalloc)
	frees := findCalls(f, pass.SymFree)
	require.Len(t, mallocs, 1)
	require.Len(t, frees, 1, "lifetime end owns the release; no return free")

	var start, end *ir.Instr
	for _, in := range entry.Instrs {
		switch in.Op {
		case ir.OpLifetimeStart:
			start = in
		case ir.OpLifetimeEnd:
			end = in
		}
	}
	require.NotNil(t, start)
	require.NotNil(t, end)
	// The allocation is dominated by the start marker and the release
	// strictly precedes the end marker.
	require.Greater(t, entry.Index(mallocs[0]), entry.Index(start))
	require.Less(t, entry.Index(frees[0]), entry.Index(end))
}

func TestHeapifyMinArraySize(t *testing.T) {
	m := mustParse(t, `module small

define @h : void () params=[] {
entry:
  %a = alloca [4 x i8]
  %p = gep [4 x i8], %a, [0:i64, 1:i64]
  store 0:i8, %p
  ret
}
`)
	h := &pass.Heapify{MinArraySize: 64}
	require.NoError(t, h.Run(m))

	require.Empty(t, findCalls(m.Func("h"), pass.SymTaggedMalloc))
	require.Equal(t, ir.Type(ir.Array(4, ir.I8)), m.Func("h").Entry().Instrs[0].Elem)
}

func TestHeapifyStructWithArray(t *testing.T) {
	m := mustParse(t, `module structs

struct struct.frame = {i32, [64 x i8]}

define @k : void () params=[] {
entry:
  %s = alloca struct.frame
  %p = gep struct.frame, %s, [0:i64, 1:i64]
  ret
}
`)
	h := &pass.Heapify{}
	require.NoError(t, h.Run(m))
	f := m.Func("k")

	mallocs := findCalls(f, pass.SymTaggedMalloc)
	require.Len(t, mallocs, 1)
	size := mallocs[0].Args()[1].(*ir.ConstInt)
	require.EqualValues(t, ir.SizeOf(m.Struct("frame")), size.V)

	// Struct promotion keeps the index shape: the loaded pointer is
	// struct-typed and the leading zero stays.
	var gep *ir.Instr
	for _, in := range f.Entry().Instrs {
		if in.Op == ir.OpGep && !in.Meta.NoInstrument {
			gep = in
		}
	}
	require.NotNil(t, gep)
	require.Len(t, gep.Ops, 3)
}

func TestHeapifyGlobals(t *testing.T) {
	m := mustParse(t, `module globals

global @tab : [4 x i32] = array(1:i32, 2:i32, 0:i32, 4:i32):[4 x i32]
global @ztab : [8 x i8] = zero:[8 x i8] linkage=weak

define @use : i32 () params=[] {
entry:
  %p = gep [4 x i32], @tab, [0:i64, 2:i64]
  %v = load %p
  ret %v
}
`)
	h := &pass.Heapify{}
	require.NoError(t, h.Run(m))

	// Companion pointer globals, null-initialized.
	tabHeap := m.Global("tab.heap")
	require.NotNil(t, tabHeap)
	require.Equal(t, ir.Type(ir.Ptr(ir.I32)), tabHeap.Ty)
	require.True(t, ir.IsZeroInit(tabHeap.Init))

	ztabHeap := m.Global("ztab.heap")
	require.NotNil(t, ztabHeap)

	// The originals are gone once nothing references them.
	require.Nil(t, m.Global("tab"))
	require.Nil(t, m.Global("ztab"))

	// One constructor/destructor pair at the reserved priority.
	require.Len(t, m.Ctors, 1)
	require.Len(t, m.Dtors, 1)
	require.Equal(t, 0, m.Ctors[0].Priority)

	ctor := m.Ctors[0].Fn
	mallocs := findCalls(ctor, pass.SymTaggedMalloc)
	require.Len(t, mallocs, 2)

	// Non-zero initializer replicated element-wise; zero initializer
	// via memset.
	stores := 0
	memsets := 0
	for _, b := range ctor.Blocks {
		for _, in := range b.Instrs {
			switch in.Op {
			case ir.OpStore:
				if _, isConst := in.Ops[0].(*ir.ConstInt); isConst {
					stores++
				}
			case ir.OpMemSet:
				memsets++
			}
		}
	}
	require.Equal(t, 4, stores)
	require.GreaterOrEqual(t, memsets, 1)

	// Weak global's destructor free is null-guarded.
	dtor := m.Dtors[0].Fn
	require.Greater(t, len(dtor.Blocks), 1, "weak release needs a guard branch")
	require.Len(t, findCalls(dtor, pass.SymFree), 2)

	// The user access goes through the companion now.
	use := m.Func("use")
	var gep *ir.Instr
	for _, in := range use.Entry().Instrs {
		if in.Op == ir.OpGep {
			gep = in
		}
	}
	require.NotNil(t, gep)
	ld, ok := gep.Ops[0].(*ir.Instr)
	require.True(t, ok)
	require.Equal(t, ir.OpLoad, ld.Op)
	require.Equal(t, ir.Value(tabHeap), ld.Ops[0])
}

func TestHeapifyGlobalCrossReference(t *testing.T) {
	m := mustParse(t, `module crossref

global @tab : [4 x i32] = zero:[4 x i32]
global @cursor : i32* = gep(@tab, 0, 1):i32*
`)
	h := &pass.Heapify{}
	require.NoError(t, h.Run(m))

	// The constant reference cannot survive promotion: the initializer
	// is nulled and the constructor patches it after allocation.
	cursor := m.Global("cursor")
	require.NotNil(t, cursor)
	_, isNull := cursor.Init.(*ir.ConstNull)
	require.True(t, isNull, "initializer leaf must be detached")

	require.Len(t, m.Ctors, 1)
	ctor := m.Ctors[0].Fn
	patched := false
	for _, b := range ctor.Blocks {
		for _, in := range b.Instrs {
			if in.Op == ir.OpStore && in.Ops[1] == ir.Value(cursor) {
				patched = true
			}
		}
	}
	require.True(t, patched, "constructor must patch the detached reference")
	require.Nil(t, m.Global("tab"))
}

func TestHeapifySkipsConstantInternal(t *testing.T) {
	m := mustParse(t, `module constants

global @lut : [16 x i8] = zero:[16 x i8] const linkage=internal
`)
	h := &pass.Heapify{}
	require.NoError(t, h.Run(m))
	require.NotNil(t, m.Global("lut"))
	require.Nil(t, m.Global("lut.heap"))
}
