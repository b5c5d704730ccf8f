// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"strings"

	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/internal"
	"code.hybscloud.com/fuzzalloc/ir"
)

// Initializer priority for the heapification constructor/destructor:
// below every ordinary priority, so promoted globals exist before any
// user constructor runs and die after every user destructor.
const heapifyInitPriority = 0

// Heapify promotes eligible fixed-size stack and global arrays to
// dynamic allocations served by the tagged allocator, so their
// addresses carry allocation-site tags like heap objects do.
//
// A promoted alloca becomes a pointer slot: the array storage is
// allocated with tagged_malloc and freed on lifetime end (or on every
// function exit when no lifetime markers exist). A promoted global gets
// a companion pointer global populated by a module constructor and
// released by a module destructor. Every synthesized memory access is
// marked no-instrument so the dereference instrumentation skips it.
type Heapify struct {
	// MinArraySize is the smallest array byte size worth promoting.
	MinArraySize int

	// Seed is the stable identity heapification tags are drawn from.
	Seed string

	Log *zap.Logger

	// Sites lists the tags assigned to promoted objects.
	Sites []fuzzalloc.Tag

	draw *tagDraw
	rt   map[string]*ir.Func
	m    *ir.Module

	ctor, dtor         *ir.Func
	ctorBlock          *ir.Block
	dtorBlock          *ir.Block
	pendingGlobalInits []globalInitFix
}

// globalInitFix records a cross-reference from a surviving global's
// initializer to a promoted global, patched at runtime by the
// constructor once every companion is allocated.
type globalInitFix struct {
	ref      *ir.Global // the referring global
	path     []int      // element path inside ref's initializer
	expr     ir.Constant
	promoted *promotedGlobal
}

type promotedGlobal struct {
	orig      *ir.Global
	companion *ir.Global
	elemTy    ir.Type // pointee type of the companion slot
	isArray   bool
}

func (h *Heapify) Name() string { return "heapify" }

// Run rewrites m.
func (h *Heapify) Run(m *ir.Module) error {
	if h.Log == nil {
		h.Log = zap.NewNop()
	}
	if h.MinArraySize <= 0 {
		h.MinArraySize = 1
	}
	if h.Seed == "" {
		h.Seed = m.Name + "/heapify"
	}
	if h.draw == nil {
		h.draw = newTagDraw(h.Seed)
	}
	h.Sites = nil
	h.rt = declareRuntime(m)
	h.m = m
	h.ctor, h.dtor = nil, nil
	h.pendingGlobalInits = nil

	for _, f := range m.Funcs {
		if isRuntimeHelper(f) {
			continue
		}
		h.runFunc(f)
	}
	h.runGlobals(m)
	return nil
}

func (h *Heapify) fresh() fuzzalloc.Tag {
	tag := h.draw.fresh()
	h.Sites = append(h.Sites, tag)
	return tag
}

// eligibleType reports whether ty is worth promoting: an array of at
// least MinArraySize bytes, or a struct transitively containing one.
func (h *Heapify) eligibleType(ty ir.Type) bool {
	switch u := ty.(type) {
	case ir.ArrayType:
		return ir.SizeOf(u) >= h.MinArraySize
	case *ir.StructType:
		if isVarArgType(u) {
			return false
		}
		for _, f := range u.Fields {
			if h.eligibleType(f) {
				return true
			}
		}
	}
	return false
}

func isVarArgType(s *ir.StructType) bool {
	return s.Name == "va_list" || strings.HasPrefix(s.Name, "__va_list")
}

// ---- stack promotion ----

func (h *Heapify) runFunc(f *ir.Func) {
	// Snapshot: promotion inserts instructions while walking.
	var candidates []*ir.Instr
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Op == ir.OpAlloca && !in.Meta.NoInstrument && h.eligibleType(in.Elem) {
				candidates = append(candidates, in)
			}
		}
	}
	for _, a := range candidates {
		h.promoteAlloca(f, a)
	}
}

// slotElem returns the pointee type of the promotion slot: the element
// type for arrays (the leading zero GEP index disappears), the struct
// itself otherwise.
func slotElem(ty ir.Type) (ir.Type, bool) {
	if at, ok := ty.(ir.ArrayType); ok {
		return at.Elem, true
	}
	return ty, false
}

func (h *Heapify) promoteAlloca(f *ir.Func, a *ir.Instr) {
	m := h.m
	objTy := a.Elem
	elemTy, isArray := slotElem(objTy)
	ptrTy := ir.Ptr(elemTy)
	size := int64(ir.SizeOf(objTy))
	tag := h.fresh()

	// The alloca of the object becomes an alloca of a pointer slot.
	slot := &ir.Instr{Op: ir.OpAlloca, Name: m.FreshName(), Ty: ir.Ptr(ir.Type(ptrTy)), Elem: ptrTy}
	slot.Meta.NoInstrument = true
	slot.Meta.Debug = a.Meta.Debug
	blk := a.Parent
	slot.Parent = blk
	blk.Instrs[blk.Index(a)] = slot

	// Lifetime markers drive allocation placement when present.
	var starts, ends []*ir.Instr
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			switch in.Op {
			case ir.OpLifetimeStart:
				if in.Ops[0] == ir.Value(a) {
					starts = append(starts, in)
				}
			case ir.OpLifetimeEnd:
				if in.Ops[0] == ir.Value(a) {
					ends = append(ends, in)
				}
			}
		}
	}

	if len(starts) > 0 {
		for _, s := range starts {
			s.Ops[0] = slot
			s.Meta.NoInstrument = true
			h.emitAllocInto(s.Parent, after(s), slot, ptrTy, size, tag)
		}
		for _, e := range ends {
			e.Ops[0] = slot
			e.Meta.NoInstrument = true
			h.emitFree(e.Parent, e, slot)
		}
		// Lifetime ends own the releases; return-based frees would
		// double free.
	} else {
		h.emitAllocInto(blk, after(slot), slot, ptrTy, size, tag)
		for _, b := range f.Blocks {
			if term := b.Terminator(); term != nil && term.Op == ir.OpRet {
				h.emitFree(b, term, slot)
			}
		}
	}

	h.rewriteUsers(f, a, slot, objTy, elemTy, isArray)
}

// after is a placement cursor: insert following this instruction.
type placement struct {
	pos   *ir.Instr
	isAft bool
}

func after(pos *ir.Instr) placement  { return placement{pos: pos, isAft: true} }
func before(pos *ir.Instr) placement { return placement{pos: pos} }

func (h *Heapify) insertAt(b *ir.Block, at placement, in *ir.Instr) {
	if at.isAft {
		b.InsertAfter(at.pos, in)
	} else {
		b.InsertBefore(at.pos, in)
	}
}

// emitAllocInto places tagged_malloc + cast + store-to-slot at the
// given position.
func (h *Heapify) emitAllocInto(b *ir.Block, at placement, slot ir.Value, ptrTy ir.PtrType, size int64, tag fuzzalloc.Tag) {
	m := h.m
	call := &ir.Instr{
		Op:   ir.OpCall,
		Name: m.FreshName(),
		Ty:   bytePtr,
		Ops:  []ir.Value{h.rt[SymTaggedMalloc], ir.Int(ir.I16, int64(tag)), ir.Int(ir.I64, size)},
	}
	call.Meta.NoInstrument = true
	call.Meta.Tagged = true
	cast := &ir.Instr{Op: ir.OpBitcast, Name: m.FreshName(), Ty: ptrTy, Ops: []ir.Value{call}}
	cast.Meta.NoInstrument = true
	st := &ir.Instr{Op: ir.OpStore, Ty: ir.Void, Ops: []ir.Value{cast, slot}}
	st.Meta.NoInstrument = true

	h.insertAt(b, at, call)
	b.InsertAfter(call, cast)
	b.InsertAfter(cast, st)
}

// emitFree places load-slot + cast + free before pos.
func (h *Heapify) emitFree(b *ir.Block, pos *ir.Instr, slot ir.Value) {
	m := h.m
	ld := &ir.Instr{Op: ir.OpLoad, Name: m.FreshName(), Ty: slot.Type().(ir.PtrType).Elem, Ops: []ir.Value{slot}}
	ld.Meta.NoInstrument = true
	cast := &ir.Instr{Op: ir.OpBitcast, Name: m.FreshName(), Ty: bytePtr, Ops: []ir.Value{ld}}
	cast.Meta.NoInstrument = true
	call := &ir.Instr{Op: ir.OpCall, Ty: ir.Void, Ops: []ir.Value{h.rt[SymFree], cast}}
	call.Meta.NoInstrument = true

	b.InsertBefore(pos, ld)
	b.InsertBefore(pos, cast)
	b.InsertBefore(pos, call)
}

// loadSlot materializes the heap pointer before the given position.
func (h *Heapify) loadSlot(b *ir.Block, at placement, slot ir.Value) *ir.Instr {
	ld := &ir.Instr{Op: ir.OpLoad, Name: h.m.FreshName(), Ty: slot.Type().(ir.PtrType).Elem, Ops: []ir.Value{slot}}
	ld.Meta.NoInstrument = true
	h.insertAt(b, at, ld)
	return ld
}

// rewriteUsers redirects every user of the promoted object old to go
// through the slot. obj is the original object (alloca result or global
// address), whose type was Ptr(objTy).
func (h *Heapify) rewriteUsers(f *ir.Func, old ir.Value, slot ir.Value, objTy, elemTy ir.Type, isArray bool) {
	for _, b := range f.Blocks {
		// Snapshot: rewrites insert loads while walking.
		instrs := append([]*ir.Instr(nil), b.Instrs...)
		for _, in := range instrs {
			h.rewriteUser(b, in, old, slot, objTy, elemTy, isArray)
		}
	}
}

func (h *Heapify) rewriteUser(b *ir.Block, in *ir.Instr, old, slot ir.Value, objTy, elemTy ir.Type, isArray bool) {
	uses := false
	for _, op := range in.Ops {
		if op == old {
			uses = true
			break
		}
	}
	if !uses {
		return
	}

	switch in.Op {
	case ir.OpLifetimeStart, ir.OpLifetimeEnd:
		// Already retargeted by the placement rewrite.
		return

	case ir.OpGep:
		if in.Ops[0] == old {
			ld := h.loadSlot(b, before(in), slot)
			if isArray {
				// The loaded pointer already points at the element type;
				// the fixed-array leading zero index disappears.
				in.Ops = append([]ir.Value{ld}, in.Ops[2:]...)
				in.Elem = elemTy
			} else {
				in.Ops[0] = ld
			}
			return
		}

	case ir.OpPhi:
		// Thread a load + cast through each incoming edge.
		for k, op := range in.Ops {
			if op != old {
				continue
			}
			pred := in.Blocks[k]
			at := before(pred.Terminator())
			ld := h.loadSlot(pred, at, slot)
			cast := &ir.Instr{Op: ir.OpBitcast, Name: h.m.FreshName(), Ty: ir.Ptr(objTy), Ops: []ir.Value{ld}}
			cast.Meta.NoInstrument = true
			pred.InsertBefore(pred.Terminator(), cast)
			in.Ops[k] = cast
		}
		return

	case ir.OpMemCpy, ir.OpMemMove, ir.OpMemSet:
		// The heap pointer is only basic-aligned: a destination that
		// was the promoted object loses its static alignment.
		if in.Ops[0] == old {
			in.Align = 1
		}
	}

	// Default: load the slot, cast back to the original object type,
	// substitute.
	ld := h.loadSlot(b, before(in), slot)
	cast := &ir.Instr{Op: ir.OpBitcast, Name: h.m.FreshName(), Ty: ir.Ptr(objTy), Ops: []ir.Value{ld}}
	cast.Meta.NoInstrument = true
	b.InsertBefore(in, cast)
	in.ReplaceOperand(old, cast)
}

// ---- global promotion ----

func (h *Heapify) runGlobals(m *ir.Module) {
	var promoted []*promotedGlobal
	for _, g := range append([]*ir.Global(nil), m.Globals...) {
		if !h.eligibleGlobal(g) {
			continue
		}
		elemTy, isArray := slotElem(g.Ty)
		companion := m.NewGlobal(g.Name+".heap", ir.Ptr(elemTy), ir.Null(ir.Ptr(elemTy)))
		promoted = append(promoted, &promotedGlobal{orig: g, companion: companion, elemTy: elemTy, isArray: isArray})
	}
	if len(promoted) == 0 {
		return
	}

	h.ensureInitializers(m)

	// Preparatory rewrite: globals whose initializers reach a promoted
	// global cannot keep the constant reference; the leaf is nulled now
	// and patched by the constructor after every companion exists.
	for _, pg := range promoted {
		h.detachInitializerRefs(m, pg, promoted)
	}

	// Allocate every companion first, then replicate initializers, so
	// cross-references between promoted globals observe live storage.
	for _, pg := range promoted {
		h.emitGlobalAlloc(pg)
	}
	for _, pg := range promoted {
		h.emitGlobalInit(pg)
	}
	for _, fix := range h.pendingGlobalInits {
		h.emitInitFix(fix)
	}
	for _, pg := range promoted {
		h.emitGlobalFree(pg)
		h.rewriteGlobalUsers(m, pg)
	}
	h.sealInitializers()

	// Explicit use counting decides whether the original symbol dies;
	// nothing relies on a dead-constant sweep.
	for _, pg := range promoted {
		if h.useCount(m, pg.orig) == 0 {
			m.RemoveGlobal(pg.orig)
		} else {
			h.Log.Warn("promoted global still referenced", zap.String("global", pg.orig.Name))
		}
	}
}

func (h *Heapify) eligibleGlobal(g *ir.Global) bool {
	if g.Section != "" {
		return false
	}
	if strings.HasPrefix(g.Name, "llvm.") ||
		strings.HasPrefix(g.Name, "_ZTV") || // vtable
		strings.HasPrefix(g.Name, "_ZTI") || // RTTI
		strings.HasPrefix(g.Name, "_ZTS") { // type name
		return false
	}
	if g.Const && (g.Linkage == ir.Private || g.Linkage == ir.Internal) {
		return false
	}
	if strings.HasSuffix(g.Name, ".heap") {
		return false
	}
	return h.eligibleType(g.Ty)
}

func (h *Heapify) ensureInitializers(m *ir.Module) {
	if h.ctor != nil {
		return
	}
	sig := &ir.FuncType{Ret: ir.Void}
	h.ctor = m.NewFunc("fuzzalloc.init_globals", sig)
	h.ctor.Linkage = ir.Internal
	h.ctor.Section = RuntimeSection
	h.ctorBlock = h.ctor.Entry()

	h.dtor = m.NewFunc("fuzzalloc.fini_globals", sig)
	h.dtor.Linkage = ir.Internal
	h.dtor.Section = RuntimeSection
	h.dtorBlock = h.dtor.Entry()

	m.Ctors = append(m.Ctors, ir.Initializer{Priority: heapifyInitPriority, Fn: h.ctor})
	m.Dtors = append(m.Dtors, ir.Initializer{Priority: heapifyInitPriority, Fn: h.dtor})
}

func (h *Heapify) sealInitializers() {
	h.ctorBlock.NewRet(nil)
	h.dtorBlock.NewRet(nil)
	h.markRuntime(h.ctor)
	h.markRuntime(h.dtor)
}

func (h *Heapify) markRuntime(f *ir.Func) {
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			in.Meta.NoInstrument = true
		}
	}
}

func (h *Heapify) emitGlobalAlloc(pg *promotedGlobal) {
	b := h.ctorBlock
	size := int64(ir.SizeOf(pg.orig.Ty))
	tag := h.fresh()
	call := b.NewCall(h.rt[SymTaggedMalloc], ir.Int(ir.I16, int64(tag)), ir.Int(ir.I64, size))
	call.Meta.Tagged = true
	cast := b.NewBitcast(call, ir.Ptr(pg.elemTy))
	b.NewStore(cast, pg.companion)
}

// emitGlobalInit replicates the original initializer into the freshly
// allocated storage: memset for zero initializers, element-wise stores
// otherwise.
func (h *Heapify) emitGlobalInit(pg *promotedGlobal) {
	b := h.ctorBlock
	init := pg.orig.Init
	size := int64(ir.SizeOf(pg.orig.Ty))
	ld := b.NewLoad(pg.companion)

	if init == nil || ir.IsZeroInit(init) {
		cast := b.NewBitcast(ld, bytePtr)
		b.NewMemSet(cast, ir.Int(ir.I8, 0), ir.Int(ir.I64, size), 1)
		return
	}
	base := b.NewBitcast(ld, ir.Ptr(pg.orig.Ty))
	h.storeInit(b, base, pg.orig.Ty, init, nil)
}

// storeInit walks a constant aggregate and stores each non-zero leaf at
// its element path.
func (h *Heapify) storeInit(b *ir.Block, base ir.Value, ty ir.Type, c ir.Constant, path []int) {
	switch v := c.(type) {
	case *ir.ConstArray:
		for i, e := range v.Elems {
			h.storeInit(b, base, ty, e, append(append([]int(nil), path...), i))
		}
	case *ir.ConstStruct:
		for i, fld := range v.Fields {
			h.storeInit(b, base, ty, fld, append(append([]int(nil), path...), i))
		}
	case *ir.ConstZero:
		// Fresh pool chunks are not guaranteed zero; but the whole
		// object was memset only for all-zero initializers, so zero
		// leaves still need stores.
		h.storeZero(b, base, ty, path)
	default:
		addr := b.NewGepInto(ty, base, append([]int{0}, path...)...)
		b.NewStore(v, addr)
	}
}

func (h *Heapify) storeZero(b *ir.Block, base ir.Value, ty ir.Type, path []int) {
	addr := b.NewGepInto(ty, base, append([]int{0}, path...)...)
	leafTy := addr.Type().(ir.PtrType).Elem
	cast := b.NewBitcast(addr, bytePtr)
	b.NewMemSet(cast, ir.Int(ir.I8, 0), ir.Int(ir.I64, int64(ir.SizeOf(leafTy))), 1)
}

func (h *Heapify) emitGlobalFree(pg *promotedGlobal) {
	b := h.dtorBlock
	ld := b.NewLoad(pg.companion)

	if pg.orig.Linkage == ir.Weak {
		// Several module instances may share the symbol; only a live
		// pointer is released.
		f := h.dtor
		freeBlk := f.NewBlock(h.m.FreshName())
		contBlk := f.NewBlock(h.m.FreshName())
		null := ir.Null(ld.Type().(ir.PtrType))
		cond := b.NewICmp("ne", ld, null)
		b.NewCondBr(cond, freeBlk, contBlk)

		cast := freeBlk.NewBitcast(ld, bytePtr)
		freeBlk.NewCall(h.rt[SymFree], cast)
		freeBlk.NewStore(ir.Null(pg.companion.Ty.(ir.PtrType)), pg.companion)
		freeBlk.NewBr(contBlk)
		h.dtorBlock = contBlk
		return
	}
	cast := b.NewBitcast(ld, bytePtr)
	b.NewCall(h.rt[SymFree], cast)
	b.NewStore(ir.Null(pg.companion.Ty.(ir.PtrType)), pg.companion)
}

// detachInitializerRefs nulls out initializer leaves of other globals
// that reference pg and schedules constructor patch-ups.
func (h *Heapify) detachInitializerRefs(m *ir.Module, pg *promotedGlobal, all []*promotedGlobal) {
	for _, g := range m.Globals {
		if g == pg.orig || g == pg.companion || g.Init == nil {
			continue
		}
		if !ir.ContainsSymbol(g.Init, pg.orig) {
			continue
		}
		g.Init = h.detachConst(g, g.Init, pg, nil)
	}
}

func (h *Heapify) detachConst(g *ir.Global, c ir.Constant, pg *promotedGlobal, path []int) ir.Constant {
	switch v := c.(type) {
	case *ir.ConstArray:
		for i, e := range v.Elems {
			v.Elems[i] = h.detachConst(g, e, pg, append(append([]int(nil), path...), i))
		}
		return v
	case *ir.ConstStruct:
		for i, f := range v.Fields {
			v.Fields[i] = h.detachConst(g, f, pg, append(append([]int(nil), path...), i))
		}
		return v
	case *ir.ConstExpr:
		if !ir.ContainsSymbol(v, pg.orig) {
			return v
		}
		h.pendingGlobalInits = append(h.pendingGlobalInits, globalInitFix{
			ref: g, path: append([]int(nil), path...), expr: v, promoted: pg,
		})
		pt, ok := v.To.(ir.PtrType)
		if !ok {
			internal.AssertDebug(false, "non-pointer constant expression over promoted global %s", pg.orig.Name)
			return v
		}
		return ir.Null(pt)
	default:
		if ir.Value(c) == ir.Value(pg.orig) {
			h.pendingGlobalInits = append(h.pendingGlobalInits, globalInitFix{
				ref: g, path: append([]int(nil), path...), expr: c, promoted: pg,
			})
			if pt, ok := c.Type().(ir.PtrType); ok {
				return ir.Null(pt)
			}
		}
		return c
	}
}

// emitInitFix patches one nulled initializer leaf at constructor time.
func (h *Heapify) emitInitFix(fix globalInitFix) {
	b := h.ctorBlock
	val := h.expandConstInto(b, placement{}, fix.expr, fix.promoted)
	if val == nil {
		return
	}
	if len(fix.path) == 0 {
		// The referring global held the bare address.
		b.NewStore(val, fix.ref)
		return
	}
	addr := b.NewGepInto(fix.ref.Ty, fix.ref, append([]int{0}, fix.path...)...)
	b.NewStore(val, addr)
}

// expandConstInto lowers a constant expression over a promoted global
// into instructions: load the companion, then apply the expression.
// A zero placement appends at the block end (constructor body).
func (h *Heapify) expandConstInto(b *ir.Block, at placement, c ir.Constant, pg *promotedGlobal) ir.Value {
	appendMode := at.pos == nil
	load := func() *ir.Instr {
		if appendMode {
			ld := b.NewLoad(pg.companion)
			return ld
		}
		return h.loadSlot(b, at, pg.companion)
	}
	insert := func(in *ir.Instr) {
		if appendMode {
			in.Parent = b
			b.Instrs = append(b.Instrs, in)
		} else {
			h.insertAt(b, at, in)
		}
	}

	switch v := c.(type) {
	case *ir.Global:
		ld := load()
		cast := &ir.Instr{Op: ir.OpBitcast, Name: h.m.FreshName(), Ty: ir.Ptr(pg.orig.Ty), Ops: []ir.Value{ld}}
		cast.Meta.NoInstrument = !appendMode
		insert(cast)
		return cast
	case *ir.ConstExpr:
		ld := load()
		switch v.Kind {
		case ir.CEGep:
			indices := v.Indices
			elem := ir.Type(pg.elemTy)
			if pg.isArray && len(indices) > 0 && indices[0] == 0 {
				indices = indices[1:]
			} else if !pg.isArray {
				elem = pg.orig.Ty
			}
			ops := []ir.Value{ld}
			for _, idx := range indices {
				ops = append(ops, ir.Int(ir.I64, int64(idx)))
			}
			gep := &ir.Instr{Op: ir.OpGep, Name: h.m.FreshName(), Ty: v.To, Elem: elem, Ops: ops}
			gep.Meta.NoInstrument = !appendMode
			insert(gep)
			return gep
		case ir.CEBitcast:
			cast := &ir.Instr{Op: ir.OpBitcast, Name: h.m.FreshName(), Ty: v.To, Ops: []ir.Value{ld}}
			cast.Meta.NoInstrument = !appendMode
			insert(cast)
			return cast
		case ir.CEPtrToInt:
			conv := &ir.Instr{Op: ir.OpPtrToInt, Name: h.m.FreshName(), Ty: v.To, Ops: []ir.Value{ld}}
			conv.Meta.NoInstrument = !appendMode
			insert(conv)
			return conv
		}
	}
	internal.AssertDebug(false, "cannot expand constant over promoted global %s", pg.orig.Name)
	h.Log.Warn("unsupported constant reference to promoted global",
		zap.String("global", pg.orig.Name))
	return nil
}

// rewriteGlobalUsers redirects instruction uses of the promoted global:
// direct operands go through the companion, constant expressions are
// expanded into instructions at each use, including phi edges.
func (h *Heapify) rewriteGlobalUsers(m *ir.Module, pg *promotedGlobal) {
	for _, f := range m.Funcs {
		if f == h.ctor || f == h.dtor {
			continue
		}
		for _, b := range f.Blocks {
			instrs := append([]*ir.Instr(nil), b.Instrs...)
			for _, in := range instrs {
				h.rewriteGlobalUse(b, in, pg)
			}
		}
	}
}

func (h *Heapify) rewriteGlobalUse(b *ir.Block, in *ir.Instr, pg *promotedGlobal) {
	for k, op := range in.Ops {
		switch v := op.(type) {
		case *ir.Global:
			if v != pg.orig {
				continue
			}
		case *ir.ConstExpr:
			if !ir.ContainsSymbol(v, pg.orig) {
				continue
			}
			if in.Op == ir.OpPhi {
				pred := in.Blocks[k]
				val := h.expandConstInto(pred, before(pred.Terminator()), v, pg)
				if val != nil {
					in.Ops[k] = val
				}
				continue
			}
			val := h.expandConstInto(b, before(in), v, pg)
			if val != nil {
				in.Ops[k] = val
			}
			continue
		default:
			continue
		}

		// Direct reference to the promoted global's address.
		if in.Op == ir.OpGep && k == 0 {
			ld := h.loadSlot(b, before(in), pg.companion)
			if pg.isArray {
				in.Ops = append([]ir.Value{ld}, in.Ops[2:]...)
				in.Elem = pg.elemTy
			} else {
				in.Ops[0] = ld
			}
			return
		}
		if in.Op == ir.OpPhi {
			pred := in.Blocks[k]
			val := h.expandConstInto(pred, before(pred.Terminator()), pg.orig, pg)
			if val != nil {
				in.Ops[k] = val
			}
			continue
		}
		switch in.Op {
		case ir.OpMemCpy, ir.OpMemMove, ir.OpMemSet:
			if k == 0 {
				in.Align = 1
			}
		}
		val := h.expandConstInto(b, before(in), pg.orig, pg)
		if val != nil {
			in.Ops[k] = val
		}
	}
}

// useCount counts remaining references to g across instruction
// operands, global initializers, and aliases.
func (h *Heapify) useCount(m *ir.Module, g *ir.Global) int {
	n := 0
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				for _, op := range in.Ops {
					if op == ir.Value(g) {
						n++
					}
					if c, ok := op.(ir.Constant); ok && op != ir.Value(g) && ir.ContainsSymbol(c, g) {
						n++
					}
				}
			}
		}
	}
	for _, og := range m.Globals {
		if og != g && og.Init != nil && ir.ContainsSymbol(og.Init, g) {
			n++
		}
	}
	for _, a := range m.Aliases {
		if a.Aliasee == ir.Value(g) {
			n++
		}
	}
	return n
}
