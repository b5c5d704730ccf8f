// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"fmt"

	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/ir"
	"code.hybscloud.com/fuzzalloc/taglog"
)

// TagAlloc consumes the tag log and rewrites every allocator entry point
// to its tagged counterpart: direct calls get a fresh compile-time tag
// constant prepended, wrapper functions get tagged variants threading a
// tag parameter, and function-pointer globals, aliases, and struct
// fields are retyped with indirect calls through them supplying a
// call-site tag.
type TagAlloc struct {
	// Records is the accumulated tag log.
	Records []taglog.Record

	// Seed is the stable per-build identity tags are drawn from; the
	// module name serves when empty. The draw is random-looking but
	// reproducible: rebuilding the same input yields the same tags.
	Seed string

	Log *zap.Logger

	// Sites lists the tags assigned by the last Run, in assignment
	// order.
	Sites []fuzzalloc.Tag

	draw *tagDraw

	rt       map[string]*ir.Func
	wrappers map[string]*ir.Func // wrapper name -> tagged variant
	globals  map[*ir.Global]bool
	fields   map[*ir.StructType]map[int]bool
	aliases  map[*ir.Alias]bool
}

func (t *TagAlloc) Name() string { return "tagalloc" }

// Run rewrites m.
func (t *TagAlloc) Run(m *ir.Module) error {
	if t.Log == nil {
		t.Log = zap.NewNop()
	}
	if t.Seed == "" {
		t.Seed = m.Name
	}
	if t.draw == nil {
		t.draw = newTagDraw(t.Seed)
	}
	t.Sites = nil
	t.rt = declareRuntime(m)
	t.wrappers = map[string]*ir.Func{}
	t.globals = map[*ir.Global]bool{}
	t.fields = map[*ir.StructType]map[int]bool{}
	t.aliases = map[*ir.Alias]bool{}

	if err := t.resolveRecords(m); err != nil {
		return err
	}
	t.buildWrapperVariants(m)
	t.retypeGlobals(m)
	t.retypeFields(m)
	t.rewriteCalls(m)
	t.retargetAliases(m)
	return nil
}

// resolveRecords indexes the log records against module symbols.
func (t *TagAlloc) resolveRecords(m *ir.Module) error {
	for _, rec := range taglog.Dedup(t.Records) {
		switch rec.Kind {
		case taglog.KindFunc:
			if _, builtin := taggedName[rec.Name]; builtin {
				continue
			}
			if f := m.Func(rec.Name); f != nil {
				t.wrappers[rec.Name] = nil // variant built below
			}
		case taglog.KindGlobal:
			if g := m.Global(rec.Name); g != nil {
				t.globals[g] = true
			}
		case taglog.KindAlias:
			if a := m.Alias(rec.Name); a != nil {
				t.aliases[a] = true
			}
		case taglog.KindStruct:
			s := m.Struct(rec.Name)
			if s == nil {
				t.Log.Warn("tag log names unknown struct", zap.String("struct", rec.Name))
				continue
			}
			if rec.Elem < 0 || rec.Elem >= len(s.Fields) {
				return fmt.Errorf("tagalloc: struct %s has no element %d", rec.Name, rec.Elem)
			}
			if t.fields[s] == nil {
				t.fields[s] = map[int]bool{}
			}
			t.fields[s][rec.Elem] = true
		}
	}
	return nil
}

func (t *TagAlloc) tagConst() ir.Value {
	tag := t.draw.fresh()
	t.Sites = append(t.Sites, tag)
	return ir.Int(ir.I16, int64(tag))
}

// counterpart resolves a callee value to the tagged function replacing
// it, or nil when the value is not a known allocator entry point.
func (t *TagAlloc) counterpart(v ir.Value) *ir.Func {
	switch s := v.(type) {
	case *ir.Func:
		if tn, ok := taggedName[s.Name]; ok {
			return t.rt[tn]
		}
		if variant, ok := t.wrappers[s.Name]; ok {
			return variant
		}
	case *ir.Alias:
		if t.aliases[s] {
			return t.counterpart(s.Aliasee)
		}
	}
	return nil
}

// buildWrapperVariants gives every defined wrapper a tagged variant
// carrying an extra leading tag parameter that its inner allocation
// calls consume. The original wrapper keeps its ABI as a thin forwarder
// passing DefaultTag, for callers the build never sees.
func (t *TagAlloc) buildWrapperVariants(m *ir.Module) {
	for name := range t.wrappers {
		f := m.Func(name)
		variant := &ir.Func{
			Name:    "tagged_" + name,
			Sig:     taggedSig(f.Sig),
			Attrs:   f.Attrs,
			Linkage: ir.Internal,
			Parent:  m,
		}
		tagParam := &ir.Param{Name: "tag", Ty: ir.I16, Parent: variant}
		variant.Params = append([]*ir.Param{tagParam}, f.Params...)
		for _, p := range f.Params {
			p.Parent = variant
		}
		t.wrappers[name] = variant
		m.Funcs = append(m.Funcs, variant)

		if f.IsDecl() {
			// Body lives in another unit; its own build tags it.
			continue
		}
		variant.Blocks = f.Blocks
		for _, b := range variant.Blocks {
			b.Parent = variant
		}

		// Inner allocation calls consume the wrapper's tag parameter so
		// the wrapper's caller decides the site identity.
		for _, b := range variant.Blocks {
			for _, in := range b.Instrs {
				if in.Op != ir.OpCall || in.Meta.Tagged {
					continue
				}
				if repl := t.counterpart(in.Callee()); repl != nil {
					in.Ops = append([]ir.Value{repl, tagParam}, in.Ops[1:]...)
					in.Meta.Tagged = true
				}
			}
		}

		// Rebuild the original as a forwarder.
		var fwdParams []*ir.Param
		for i, pt := range f.Sig.Params {
			fwdParams = append(fwdParams, &ir.Param{Name: fmt.Sprintf("a%d", i), Ty: pt, Parent: f})
		}
		f.Params = fwdParams
		entry := &ir.Block{Name: "entry", Parent: f}
		f.Blocks = []*ir.Block{entry}
		args := []ir.Value{ir.Int(ir.I16, int64(fuzzalloc.DefaultTag))}
		for _, p := range fwdParams {
			args = append(args, p)
		}
		call := entry.NewCall(variant, args...)
		call.Meta.Tagged = true
		if ir.Equal(f.Sig.Ret, ir.Void) {
			entry.NewRet(nil)
		} else {
			entry.NewRet(call)
		}
	}
}

// retypeGlobals rewrites logged function-pointer globals to the tagged
// signature and their initializers to the tagged symbol.
func (t *TagAlloc) retypeGlobals(m *ir.Module) {
	for g := range t.globals {
		pt, ok := g.Ty.(ir.PtrType)
		if !ok {
			t.Log.Warn("logged global is not function-typed", zap.String("global", g.Name))
			continue
		}
		ft, ok := pt.Elem.(*ir.FuncType)
		if !ok {
			t.Log.Warn("logged global is not function-typed", zap.String("global", g.Name))
			continue
		}
		g.Ty = ir.Ptr(ir.Type(taggedSig(ft)))
		if g.Init != nil {
			if repl := t.counterpart(g.Init.(ir.Value)); repl != nil {
				g.Init = repl
			}
		}
	}
}

// retypeFields rewrites logged struct fields to the tagged signature.
func (t *TagAlloc) retypeFields(m *ir.Module) {
	for s, elems := range t.fields {
		for idx := range elems {
			pt, ok := s.Fields[idx].(ir.PtrType)
			if !ok {
				continue
			}
			ft, ok := pt.Elem.(*ir.FuncType)
			if !ok {
				continue
			}
			s.Fields[idx] = ir.Ptr(ir.Type(taggedSig(ft)))
		}
	}
}

// rewriteCalls walks every call and store in the module, replacing
// direct allocator calls, stores of allocator symbols into retyped
// slots, and indirect calls through retyped slots.
func (t *TagAlloc) rewriteCalls(m *ir.Module) {
	for _, f := range m.Funcs {
		if isRuntimeHelper(f) {
			continue
		}
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				switch in.Op {
				case ir.OpCall:
					t.rewriteCall(in)
				case ir.OpStore:
					t.rewriteStore(in)
				}
			}
		}
	}
}

func (t *TagAlloc) rewriteCall(in *ir.Instr) {
	if in.Meta.Tagged {
		return
	}
	callee := in.Callee()

	// Direct call to an allocator entry point or logged alias.
	if repl := t.counterpart(callee); repl != nil {
		in.Ops = append([]ir.Value{repl, t.tagConst()}, in.Ops[1:]...)
		in.Meta.Tagged = true
		return
	}

	// Indirect call through a retyped global or struct field: the slot
	// now holds a tagged function, so the call supplies the site tag.
	if t.loadsRetypedSlot(callee) {
		in.Ops = append([]ir.Value{callee, t.tagConst()}, in.Ops[1:]...)
		in.Meta.Tagged = true
	}
}

// loadsRetypedSlot reports whether v is a load out of a retyped global
// or struct field.
func (t *TagAlloc) loadsRetypedSlot(v ir.Value) bool {
	ld, ok := v.(*ir.Instr)
	if !ok || ld.Op != ir.OpLoad {
		return false
	}
	switch ptr := ld.Ops[0].(type) {
	case *ir.Global:
		return t.globals[ptr]
	case *ir.Instr:
		if ptr.Op != ir.OpGep {
			return false
		}
		s, ok := ptr.Elem.(*ir.StructType)
		if !ok || t.fields[s] == nil {
			return false
		}
		idx, ok := ptr.Ops[len(ptr.Ops)-1].(*ir.ConstInt)
		return ok && t.fields[s][int(idx.V)]
	}
	return false
}

// rewriteStore redirects stores of allocator symbols into retyped slots
// to store the tagged counterpart instead.
func (t *TagAlloc) rewriteStore(in *ir.Instr) {
	repl := t.counterpart(in.Ops[0])
	if repl == nil {
		return
	}
	switch target := in.Ops[1].(type) {
	case *ir.Global:
		if t.globals[target] {
			in.Ops[0] = repl
		}
	case *ir.Instr:
		if target.Op == ir.OpGep {
			if s, ok := target.Elem.(*ir.StructType); ok && t.fields[s] != nil {
				if idx, ok := target.Ops[len(target.Ops)-1].(*ir.ConstInt); ok && t.fields[s][int(idx.V)] {
					in.Ops[0] = repl
				}
			}
		}
	}
}

// retargetAliases points logged aliases at the tagged counterpart of
// their aliasee, so cross-unit references resolve to the tagged form.
func (t *TagAlloc) retargetAliases(m *ir.Module) {
	for a := range t.aliases {
		if repl := t.counterpart(a.Aliasee); repl != nil {
			a.Aliasee = repl
		}
	}
}
