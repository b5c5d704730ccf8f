// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"fmt"

	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc/internal"
	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/memfuncs"
	"code.hybscloud.com/fuzzalloc/taglog"
)

// Collect walks one translation unit and records every allocator entry
// point, plus every global, alias, and struct field observed to hold one,
// in the tag log. The tagging pass consumes the accumulated log.
type Collect struct {
	// List is the special-case list of user allocation wrappers.
	List *memfuncs.List

	// LogPath is the tag log file; empty disables writing (the records
	// remain available through Records).
	LogPath string

	// Comment labels this run's append in the log.
	Comment string

	Log *zap.Logger

	// Records is the set collected by the last Run.
	Records []taglog.Record
}

func (c *Collect) Name() string { return "collect" }

// Run gathers the tag-site records for m and appends them to the log.
func (c *Collect) Run(m *ir.Module) error {
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	if c.List == nil {
		c.List = &memfuncs.List{}
	}
	c.Records = c.Records[:0]

	for _, f := range m.Funcs {
		if !c.isSeed(f.Name) {
			continue
		}
		if f.Variadic {
			// Variadic wrappers stay untagged; DefaultTag applies at
			// runtime.
			c.Log.Warn("skipping variadic allocation wrapper", zap.String("func", f.Name))
			continue
		}
		c.add(taglog.Record{Kind: taglog.KindFunc, Name: f.Name})
		c.collectUses(m, f)
	}

	if c.LogPath == "" {
		return nil
	}
	comment := c.Comment
	if comment == "" {
		comment = "module " + m.Name
	}
	if err := taglog.Append(c.LogPath, comment, c.Records); err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	return nil
}

func (c *Collect) isSeed(name string) bool {
	switch name {
	case SymMalloc, SymCalloc, SymRealloc:
		return true
	}
	return c.List.HasFunc(name)
}

// collectUses walks every use of the allocator symbol f.
func (c *Collect) collectUses(m *ir.Module, f *ir.Func) {
	// Globals whose initializer carries the symbol address.
	for _, g := range m.Globals {
		if g.Init != nil && ir.ContainsSymbol(g.Init, f) {
			c.add(taglog.Record{Kind: taglog.KindGlobal, Name: g.Name})
		}
	}
	// Global aliases of the symbol.
	for _, a := range m.Aliases {
		if a.Aliasee == ir.Value(f) {
			c.add(taglog.Record{Kind: taglog.KindAlias, Name: a.Name})
		}
	}
	// Listed globals are recorded even when this unit only declares
	// them; the store may live in another unit.
	for _, name := range c.List.Globals {
		if m.Global(name) != nil {
			c.add(taglog.Record{Kind: taglog.KindGlobal, Name: name})
		}
	}

	for _, fn := range m.Funcs {
		for _, b := range fn.Blocks {
			for _, in := range b.Instrs {
				c.collectInstrUse(m, fn, in, f)
			}
		}
	}
}

func (c *Collect) collectInstrUse(m *ir.Module, fn *ir.Func, in *ir.Instr, f *ir.Func) {
	switch in.Op {
	case ir.OpCall:
		// Direct calls are rewritten inline by the tagging pass.
		return
	case ir.OpStore:
		if in.Ops[0] != ir.Value(f) {
			return
		}
		// Stored into a global variable.
		if g, ok := in.Ops[1].(*ir.Global); ok {
			c.add(taglog.Record{Kind: taglog.KindGlobal, Name: g.Name})
			return
		}
		// Stored into a struct field: the access metadata names the
		// containing type and byte offset; the field geometry converts
		// the offset to an element index, recursing through nested
		// structs.
		if in.Meta.Access != nil {
			if rec, ok := structRecord(m, in.Meta.Access, fn.Name); ok {
				c.add(rec)
				return
			}
		}
		// A store through a struct-typed address computation carries
		// the field index directly.
		if gep, ok := in.Ops[1].(*ir.Instr); ok && gep.Op == ir.OpGep {
			if rec, ok := gepStructRecord(gep, fn.Name); ok {
				c.add(rec)
				return
			}
		}
		internal.AssertDebug(false, "allocator symbol %s stored through unrecognized target", f.Name)
		c.Log.Warn("unrecognized store of allocator symbol",
			zap.String("symbol", f.Name), zap.String("func", fn.Name))
	default:
		for _, op := range in.Ops {
			if op == ir.Value(f) {
				internal.AssertDebug(false, "unrecognized use of allocator symbol %s", f.Name)
				c.Log.Warn("unrecognized use of allocator symbol",
					zap.String("symbol", f.Name), zap.String("func", fn.Name))
				return
			}
		}
	}
}

// structRecord resolves type-based access metadata to the innermost
// struct type and field index holding the pointer.
func structRecord(m *ir.Module, acc *ir.StructAccess, fnName string) (taglog.Record, bool) {
	s := m.Struct(acc.TypeName)
	if s == nil {
		return taglog.Record{}, false
	}
	path, ok := ir.OffsetToIndex(s, acc.Offset)
	if !ok || len(path) == 0 {
		return taglog.Record{}, false
	}
	// Descend to the innermost struct along the path.
	cur, idx := s, path[0]
	for _, step := range path[1:] {
		ns, ok := cur.Fields[idx].(*ir.StructType)
		if !ok {
			break
		}
		cur, idx = ns, step
	}
	return taglog.Record{Kind: taglog.KindStruct, Name: cur.Name, Elem: idx, Func: fnName}, true
}

// gepStructRecord extracts (struct, field) from a constant-indexed
// field address computation.
func gepStructRecord(gep *ir.Instr, fnName string) (taglog.Record, bool) {
	s, ok := gep.Elem.(*ir.StructType)
	if !ok || s.Name == "" || len(gep.Ops) < 3 {
		return taglog.Record{}, false
	}
	idx, ok := gep.Ops[len(gep.Ops)-1].(*ir.ConstInt)
	if !ok {
		return taglog.Record{}, false
	}
	return taglog.Record{Kind: taglog.KindStruct, Name: s.Name, Elem: int(idx.V), Func: fnName}, true
}

func (c *Collect) add(rec taglog.Record) {
	for _, have := range c.Records {
		if have == rec {
			return
		}
	}
	c.Records = append(c.Records, rec)
}
