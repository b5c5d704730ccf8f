// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/memfuncs"
	"code.hybscloud.com/fuzzalloc/pass"
	"code.hybscloud.com/fuzzalloc/taglog"
)

const collectSrc = `module unit_a

struct struct.allocator_ops = {i8* (i64)*, i32}

declare @malloc : i8* (i64)
global @hook : i8* (i64)* = @malloc
global @ops : struct.allocator_ops
alias @malloc_alias = @malloc

define @install : void () params=[] {
entry:
  %f = gep struct.allocator_ops, @ops, [0:i64, 0:i64]
  store @malloc, %f
  ret
}

define @direct : i8* () params=[] {
entry:
  %p = call @malloc(16:i64)
  ret %p
}
`

func TestCollectRecords(t *testing.T) {
	m, err := ir.Parse(collectSrc)
	require.NoError(t, err)

	c := &pass.Collect{}
	require.NoError(t, c.Run(m))

	require.Contains(t, c.Records, taglog.Record{Kind: taglog.KindFunc, Name: "malloc"})
	require.Contains(t, c.Records, taglog.Record{Kind: taglog.KindGlobal, Name: "hook"})
	require.Contains(t, c.Records, taglog.Record{Kind: taglog.KindAlias, Name: "malloc_alias"})
	require.Contains(t, c.Records, taglog.Record{Kind: taglog.KindStruct, Name: "allocator_ops", Elem: 0, Func: "install"})

	// Direct calls are tagged inline later, never logged.
	for _, rec := range c.Records {
		require.NotEqual(t, "direct", rec.Func)
	}
}

func TestCollectWhitelistWrapper(t *testing.T) {
	src := `module unit_b

declare @malloc : i8* (i64)

define @my_alloc : i8* (i64) params=[%n] {
entry:
  %p = call @malloc(%n)
  ret %p
}
`
	m, err := ir.Parse(src)
	require.NoError(t, err)

	c := &pass.Collect{List: &memfuncs.List{Funcs: []string{"my_alloc"}}}
	require.NoError(t, c.Run(m))
	require.Contains(t, c.Records, taglog.Record{Kind: taglog.KindFunc, Name: "my_alloc"})
}

func TestCollectAppendsLog(t *testing.T) {
	m, err := ir.Parse(collectSrc)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tags.log")
	c := &pass.Collect{LogPath: path}
	require.NoError(t, c.Run(m))
	// Second run over the same unit appends a duplicate set; readers
	// dedup.
	require.NoError(t, c.Run(m))

	all, err := taglog.ReadFile(path)
	require.NoError(t, err)
	deduped := taglog.Dedup(all)
	require.Len(t, all, 2*len(deduped))
}

func TestCollectStructAccessMetadata(t *testing.T) {
	src := `module unit_c

struct struct.inner = {i32, i8* (i64)*}
struct struct.holder = {i64, struct.inner}

declare @malloc : i8* (i64)

define @wire : void (i8**) params=[%slot] {
entry:
  store @malloc, %slot !access(holder, 16)
  ret
}
`
	m, err := ir.Parse(src)
	require.NoError(t, err)

	c := &pass.Collect{}
	require.NoError(t, c.Run(m))
	// Byte offset 16 resolves through the nested struct to its second
	// element; the record names the innermost struct.
	var got *taglog.Record
	for i := range c.Records {
		if c.Records[i].Kind == taglog.KindStruct {
			got = &c.Records[i]
		}
	}
	require.NotNil(t, got)
	require.Equal(t, "inner", got.Name)
	require.Equal(t, 1, got.Elem)
	require.Equal(t, "wire", got.Func)
}

func TestCollectSkipsVariadicWrapper(t *testing.T) {
	src := `module unit_d

declare @malloc : i8* (i64)
declare @my_valloc : i8* (i64, ...)
`
	m, err := ir.Parse(src)
	require.NoError(t, err)

	c := &pass.Collect{List: &memfuncs.List{Funcs: []string{"my_valloc"}}}
	require.NoError(t, c.Run(m))
	for _, rec := range c.Records {
		require.NotEqual(t, "my_valloc", rec.Name)
	}
}
