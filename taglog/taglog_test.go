// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taglog_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"code.hybscloud.com/fuzzalloc/taglog"
)

func TestRecordRoundTrip(t *testing.T) {
	records := []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindGlobal, Name: "alloc_hook"},
		{Kind: taglog.KindAlias, Name: "my_malloc_alias"},
		{Kind: taglog.KindStruct, Name: "allocator_ops", Elem: 2, Func: "init_ops"},
	}
	for _, rec := range records {
		got, err := taglog.ParseRecord(rec.String())
		require.NoError(t, err, rec.String())
		require.Equal(t, rec, got)
	}
}

func TestParseRejectsMalformedLines(t *testing.T) {
	for _, line := range []string{
		"fun",
		"fun,",
		"gv,a,b",
		"struct,ops,notanumber,f",
		"struct,ops,-1,f",
		"struct,ops,2",
		"bogus,name",
	} {
		_, err := taglog.ParseRecord(line)
		require.Error(t, err, line)
	}
}

func TestParseSkipsCommentsAndBlanks(t *testing.T) {
	in := strings.NewReader("# run one\n\nfun,malloc\n  \n# run two\ngv,hook\n")
	got, err := taglog.Parse(in)
	require.NoError(t, err)
	require.Equal(t, []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindGlobal, Name: "hook"},
	}, got)
}

func TestAppendAccumulatesRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.log")

	first := []taglog.Record{{Kind: taglog.KindFunc, Name: "malloc"}}
	require.NoError(t, taglog.Append(path, "unit a", first))

	second := []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindStruct, Name: "ops", Elem: 1, Func: "setup"},
	}
	require.NoError(t, taglog.Append(path, "unit b", second))

	all, err := taglog.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, all, 3)

	// Duplicate-line tolerance: consumers dedup, appends do not.
	deduped := taglog.Dedup(all)
	require.Equal(t, []taglog.Record{
		{Kind: taglog.KindFunc, Name: "malloc"},
		{Kind: taglog.KindStruct, Name: "ops", Elem: 1, Func: "setup"},
	}, deduped)
}

func TestReadFileMissingIsEmpty(t *testing.T) {
	got, err := taglog.ReadFile(filepath.Join(t.TempDir(), "absent.log"))
	require.NoError(t, err)
	require.Empty(t, got)
}
