// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/pass"
	"code.hybscloud.com/fuzzalloc/taglog"
)

func mustParse(t *testing.T, src string) *ir.Module {
	t.Helper()
	m, err := ir.Parse(src)
	require.NoError(t, err, src)
	return m
}

// tagOf extracts the i16 tag constant a rewritten call carries.
func tagOf(t *testing.T, call *ir.Instr) fuzzalloc.Tag {
	t.Helper()
	require.True(t, call.Meta.Tagged)
	c, ok := call.Ops[1].(*ir.ConstInt)
	require.True(t, ok, "second operand is not a constant tag")
	return fuzzalloc.Tag(c.V)
}

func TestTagAllocDirectCalls(t *testing.T) {
	m := mustParse(t, `module direct

declare @malloc : i8* (i64)
declare @calloc : i8* (i64, i64)

define @two_sites : i8* () params=[] {
entry:
  %a = call @malloc(64:i64) attrs=[nounwind]
  %b = call @calloc(4:i64, 16:i64)
  ret %a
}
`)
	ta := &pass.TagAlloc{Records: []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindFunc, Name: "calloc"},
	}}
	require.NoError(t, ta.Run(m))

	entry := m.Func("two_sites").Entry()
	callA, callB := entry.Instrs[0], entry.Instrs[1]

	require.Equal(t, m.Func(pass.SymTaggedMalloc), callA.Callee())
	require.Equal(t, m.Func(pass.SymTaggedCalloc), callB.Callee())

	tagA, tagB := tagOf(t, callA), tagOf(t, callB)
	require.True(t, tagA.Assignable(), "tag %#x outside assignable range", tagA)
	require.True(t, tagB.Assignable())
	require.NotEqual(t, tagA, tagB, "call sites must get distinct tags")

	// Original arguments follow the tag; attributes survive.
	require.Len(t, callA.Args(), 2)
	require.Len(t, callB.Args(), 3)
	require.Equal(t, []string{"nounwind"}, callA.Attrs)
}

func TestTagAllocStableAcrossRebuilds(t *testing.T) {
	build := func() []fuzzalloc.Tag {
		m := mustParse(t, `module stable

declare @malloc : i8* (i64)

define @f : i8* () params=[] {
entry:
  %a = call @malloc(8:i64)
  %b = call @malloc(8:i64)
  ret %a
}
`)
		ta := &pass.TagAlloc{Records: []taglog.Record{{Kind: taglog.KindFunc, Name: "malloc"}}}
		require.NoError(t, ta.Run(m))
		return ta.Sites
	}
	require.Equal(t, build(), build())
}

func TestTagAllocWrapperVariant(t *testing.T) {
	m := mustParse(t, `module wrap

declare @malloc : i8* (i64)

define @my_alloc : i8* (i64) params=[%n] {
entry:
  %p = call @malloc(%n)
  ret %p
}

define @caller : i8* () params=[] {
entry:
  %p = call @my_alloc(10:i64)
  ret %p
}
`)
	ta := &pass.TagAlloc{Records: []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindFunc, Name: "my_alloc"},
	}}
	require.NoError(t, ta.Run(m))

	variant := m.Func("tagged_my_alloc")
	require.NotNil(t, variant)
	require.Equal(t, ir.I16, variant.Sig.Params[0])
	require.Len(t, variant.Sig.Params, 2)

	// The variant's inner allocation consumes the tag parameter, so the
	// caller's site identity flows through.
	inner := variant.Entry().Instrs[0]
	require.Equal(t, m.Func(pass.SymTaggedMalloc), inner.Callee())
	require.Equal(t, ir.Value(variant.Params[0]), inner.Ops[1])

	// Every direct call to the wrapper now targets the variant with a
	// fresh tag.
	call := m.Func("caller").Entry().Instrs[0]
	require.Equal(t, ir.Value(variant), call.Callee())
	require.True(t, tagOf(t, call).Assignable())

	// The original wrapper survives as an untagged forwarder.
	fwd := m.Func("my_alloc")
	require.False(t, fwd.IsDecl())
	fwdCall := fwd.Entry().Instrs[0]
	require.Equal(t, ir.Value(variant), fwdCall.Callee())
	c, ok := fwdCall.Ops[1].(*ir.ConstInt)
	require.True(t, ok)
	require.EqualValues(t, fuzzalloc.DefaultTag, c.V)
}

func TestTagAllocGlobalRetype(t *testing.T) {
	m := mustParse(t, `module gvs

declare @malloc : i8* (i64)
global @hook : i8* (i64)* = @malloc

define @through_hook : i8* () params=[] {
entry:
  %fn = load @hook
  %p = call %fn(32:i64)
  ret %p
}
`)
	ta := &pass.TagAlloc{Records: []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindGlobal, Name: "hook"},
	}}
	require.NoError(t, ta.Run(m))

	hook := m.Global("hook")
	// The slot now holds the tagged signature and the tagged symbol.
	ft := hook.Ty.(ir.PtrType).Elem.(*ir.FuncType)
	require.Equal(t, ir.I16, ft.Params[0])
	require.Equal(t, ir.Value(m.Func(pass.SymTaggedMalloc)), hook.Init.(ir.Value))

	// Indirect calls through the slot supply a site tag.
	call := m.Func("through_hook").Entry().Instrs[1]
	require.True(t, call.Meta.Tagged)
	require.True(t, tagOf(t, call).Assignable())
	require.Len(t, call.Args(), 2)
}

func TestTagAllocStructField(t *testing.T) {
	m := mustParse(t, `module fields

struct struct.allocator_ops = {i8* (i64)*, i32}

declare @malloc : i8* (i64)
global @ops : struct.allocator_ops

define @install : void () params=[] {
entry:
  %f = gep struct.allocator_ops, @ops, [0:i64, 0:i64]
  store @malloc, %f
  ret
}

define @use : i8* () params=[] {
entry:
  %f = gep struct.allocator_ops, @ops, [0:i64, 0:i64]
  %fn = load %f
  %p = call %fn(8:i64)
  ret %p
}
`)
	ta := &pass.TagAlloc{Records: []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindStruct, Name: "allocator_ops", Elem: 0, Func: "install"},
	}}
	require.NoError(t, ta.Run(m))

	// Field retyped to the tagged signature.
	s := m.Struct("allocator_ops")
	ft := s.Fields[0].(ir.PtrType).Elem.(*ir.FuncType)
	require.Equal(t, ir.I16, ft.Params[0])

	// The store now installs the tagged symbol.
	st := m.Func("install").Entry().Instrs[1]
	require.Equal(t, ir.Value(m.Func(pass.SymTaggedMalloc)), st.Ops[0])

	// The indirect call through the field carries a tag.
	call := m.Func("use").Entry().Instrs[2]
	require.True(t, call.Meta.Tagged)
	require.Len(t, call.Args(), 2)
}

func TestTagAllocAlias(t *testing.T) {
	m := mustParse(t, `module aliases

declare @malloc : i8* (i64)
alias @malloc_alias = @malloc

define @via_alias : i8* () params=[] {
entry:
  %p = call @malloc_alias(24:i64)
  ret %p
}
`)
	ta := &pass.TagAlloc{Records: []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindAlias, Name: "malloc_alias"},
	}}
	require.NoError(t, ta.Run(m))

	call := m.Func("via_alias").Entry().Instrs[0]
	require.Equal(t, ir.Value(m.Func(pass.SymTaggedMalloc)), call.Callee())
	require.True(t, tagOf(t, call).Assignable())

	// The alias itself now resolves to the tagged symbol for other
	// units.
	require.Equal(t, ir.Value(m.Func(pass.SymTaggedMalloc)), m.Alias("malloc_alias").Aliasee)
}
