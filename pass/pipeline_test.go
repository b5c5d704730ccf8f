// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/pass"
)

const pipelineSrc = `module target

declare @malloc : i8* (i64)

define @my_alloc : i8* (i64) params=[%n] {
entry:
  %p = call @malloc(%n)
  ret %p
}

define @main : i32 () params=[] {
entry:
  %buf = call @malloc(16:i64)
  store 1:i8, %buf
  %local = alloca [32 x i32]
  %slot = gep [32 x i32], %local, [0:i64, 7:i64]
  store 42:i32, %slot
  %wrapped = call @my_alloc(10:i64)
  store 2:i8, %wrapped
  ret 0:i32
}
`

func TestPipelineEndToEnd(t *testing.T) {
	m := mustParse(t, pipelineSrc)

	logPath := filepath.Join(t.TempDir(), "tags.log")
	wrappers := filepath.Join(t.TempDir(), "wrappers")
	require.NoError(t, os.WriteFile(wrappers, []byte("fuzzalloc,fun,my_alloc\n"), 0o644))

	err := pass.Run(m, pass.Options{
		TagLogPath:   logPath,
		MemFuncsPath: wrappers,
		Fuzzer:       pass.FuzzerAFL,
		Sense:        pass.Sensitivity{Reads: true, Writes: true},
	})
	require.NoError(t, err)

	main := m.Func("main")

	// Every allocation site reaches the tagged allocator with its own
	// assignable tag: the direct malloc, the wrapper call, and the
	// heapified local array.
	var tags []fuzzalloc.Tag
	for _, call := range findCalls(main, pass.SymTaggedMalloc) {
		c, ok := call.Ops[1].(*ir.ConstInt)
		require.True(t, ok)
		tags = append(tags, fuzzalloc.Tag(c.V))
	}
	for _, call := range findCalls(main, "tagged_my_alloc") {
		c, ok := call.Ops[1].(*ir.ConstInt)
		require.True(t, ok)
		tags = append(tags, fuzzalloc.Tag(c.V))
	}
	require.Len(t, tags, 3)
	seen := map[fuzzalloc.Tag]bool{}
	for _, tag := range tags {
		require.True(t, tag.Assignable(), "tag %#x", tag)
		require.False(t, seen[tag], "duplicate tag %#x", tag)
		seen[tag] = true
	}

	// No untagged malloc calls survive.
	require.Empty(t, findCalls(main, pass.SymMalloc))

	// The heapified array is released on function exit.
	require.NotEmpty(t, findCalls(main, pass.SymFree))

	// Exactly the three user stores are instrumented; the heapifier's
	// own slot accesses and releases stay uninstrumented.
	require.Equal(t, 3, countSites(main))

	// The whole transformed module still round-trips through the text
	// form.
	back, err := ir.Parse(m.String())
	require.NoError(t, err, m.String())
	require.Equal(t, m.String(), back.String())
}

func TestPipelineMissingWrapperListFails(t *testing.T) {
	m := mustParse(t, pipelineSrc)
	err := pass.Run(m, pass.Options{
		MemFuncsPath: filepath.Join(t.TempDir(), "absent"),
	})
	require.Error(t, err)
}
