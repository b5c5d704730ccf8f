// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package pass

import (
	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc"
	"code.hybscloud.com/fuzzalloc/cover"
	"code.hybscloud.com/fuzzalloc/ir"
)

// Priority for the counter-registration constructor: after the
// heapification constructor, before user constructors.
const countersInitPriority = 1

// Instrument emits the data-flow coverage update at every interesting
// memory access: extract the tag from the accessed pointer's upper
// bits, read the use-site program counter, hash, and bump the coverage
// byte, conditional on the tag not being DefaultTag.
//
// Accesses marked no-instrument (the heapifier's own loads and stores),
// accesses to SSA-promotable allocas, and accesses provably inside a
// known local object are skipped. Within one basic block only the first
// access to each underlying object is instrumented; any call that may
// touch memory resets that set, and masked accesses never enter it.
type Instrument struct {
	Fuzzer Fuzzer
	Sense  Sensitivity

	Log *zap.Logger

	m       *ir.Module
	aflArea *ir.Global
	pcFn    *ir.Func
	logFn   *ir.Func
}

func (p *Instrument) Name() string { return "instrument" }

// Run rewrites m.
func (p *Instrument) Run(m *ir.Module) error {
	if p.Log == nil {
		p.Log = zap.NewNop()
	}
	p.m = m

	switch p.Fuzzer {
	case FuzzerAFL:
		p.aflArea = m.Global(SymAFLArea)
		if p.aflArea == nil {
			p.aflArea = m.NewGlobal(SymAFLArea, bytePtr, nil)
		}
	case FuzzerDebugLog:
		p.logFn = m.DeclareFunc(SymOnAccess, &ir.FuncType{Ret: ir.Void, Params: []ir.Type{ir.I64}})
		p.logFn.Section = RuntimeSection
	}
	p.pcFn = m.DeclareFunc(SymUseSitePC, &ir.FuncType{Ret: ir.I64})
	p.pcFn.Section = RuntimeSection

	inits := map[*ir.Func]bool{}
	for _, c := range m.Ctors {
		inits[c.Fn] = true
	}
	for _, d := range m.Dtors {
		inits[d.Fn] = true
	}

	for _, f := range append([]*ir.Func(nil), m.Funcs...) {
		if f.IsDecl() || isRuntimeHelper(f) || inits[f] {
			continue
		}
		p.runFunc(f)
	}
	return nil
}

func (p *Instrument) runFunc(f *ir.Func) {
	sites := p.selectSites(f)
	if len(sites) == 0 {
		return
	}

	var counters *ir.Global
	if p.Fuzzer == FuzzerLibFuzzer {
		counters = p.m.NewGlobal(f.Name+".dfcov", ir.Array(len(sites), ir.I8), ir.Zero(ir.Array(len(sites), ir.I8)))
		counters.Linkage = ir.Private
		counters.Section = "__sancov_cntrs"
		p.registerCounters(f, counters, len(sites))
	}

	for slot, in := range sites {
		p.instrumentSite(f, in, counters, slot)
	}
}

// selectSites returns the accesses to instrument, in program order.
func (p *Instrument) selectSites(f *ir.Func) []*ir.Instr {
	promotable := promotableAllocas(f)
	var sites []*ir.Instr
	for _, b := range f.Blocks {
		seen := map[ir.Value]bool{}
		for _, in := range b.Instrs {
			if in.Op == ir.OpCall && !in.Meta.NoInstrument {
				// The callee may touch any object; prior knowledge dies.
				seen = map[ir.Value]bool{}
				continue
			}
			if !p.interesting(in) || in.Meta.NoInstrument {
				continue
			}
			ptr, ok := in.AccessedPointer()
			if !ok {
				continue
			}
			obj := underlyingObject(ptr)
			if a, ok := obj.(*ir.Instr); ok && a.Op == ir.OpAlloca && promotable[a] {
				continue
			}
			if provablyInBounds(ptr) {
				continue
			}
			masked := in.Op == ir.OpMaskedLoad || in.Op == ir.OpMaskedStore
			if !masked {
				if seen[obj] {
					continue
				}
				seen[obj] = true
			}
			sites = append(sites, in)
		}
	}
	return sites
}

func (p *Instrument) interesting(in *ir.Instr) bool {
	switch in.Op {
	case ir.OpLoad, ir.OpMaskedLoad:
		return p.Sense.Reads
	case ir.OpStore, ir.OpMaskedStore:
		return p.Sense.Writes
	case ir.OpAtomicRMW, ir.OpCmpXchg:
		// Read-modify-write counts for either sensitivity.
		return p.Sense.Reads || p.Sense.Writes
	}
	return false
}

// promotableAllocas returns the allocas mem2reg would lift into SSA
// registers: scalar slots only ever loaded from or stored to directly.
func promotableAllocas(f *ir.Func) map[*ir.Instr]bool {
	out := map[*ir.Instr]bool{}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			if in.Op != ir.OpAlloca || ir.IsArray(in.Elem) {
				continue
			}
			if _, isStruct := in.Elem.(*ir.StructType); isStruct {
				continue
			}
			out[in] = true
		}
	}
	for _, b := range f.Blocks {
		for _, in := range b.Instrs {
			for k, op := range in.Ops {
				a, ok := op.(*ir.Instr)
				if !ok || a.Op != ir.OpAlloca || !out[a] {
					continue
				}
				switch {
				case in.Op == ir.OpLoad && k == 0:
				case in.Op == ir.OpStore && k == 1:
				default:
					// Address escapes or is computed on; not promotable.
					delete(out, a)
				}
			}
		}
	}
	return out
}

// underlyingObject strips address computations and pointer casts.
func underlyingObject(v ir.Value) ir.Value {
	for {
		in, ok := v.(*ir.Instr)
		if !ok {
			return v
		}
		switch in.Op {
		case ir.OpGep, ir.OpBitcast:
			v = in.Ops[0]
		default:
			return v
		}
	}
}

// provablyInBounds reports whether ptr is a constant-indexed address
// into a stack object whose geometry is fully known at compile time.
func provablyInBounds(ptr ir.Value) bool {
	gep, ok := ptr.(*ir.Instr)
	if !ok || gep.Op != ir.OpGep {
		return false
	}
	base, ok := gep.Ops[0].(*ir.Instr)
	if !ok || base.Op != ir.OpAlloca {
		return false
	}
	t := gep.Elem
	for k, idx := range gep.Ops[1:] {
		ci, ok := idx.(*ir.ConstInt)
		if !ok {
			return false
		}
		if k == 0 {
			if ci.V != 0 {
				return false
			}
			continue
		}
		switch u := t.(type) {
		case ir.ArrayType:
			if ci.V < 0 || ci.V >= int64(u.Len) {
				return false
			}
			t = u.Elem
		case *ir.StructType:
			if ci.V < 0 || ci.V >= int64(len(u.Fields)) {
				return false
			}
			t = u.Fields[ci.V]
		default:
			return false
		}
	}
	return true
}

// staticOffset folds the constant byte offset of a constant-indexed
// address computation, for the -offset sensitivity variants.
func staticOffset(ptr ir.Value) int64 {
	gep, ok := ptr.(*ir.Instr)
	if !ok || gep.Op != ir.OpGep {
		return 0
	}
	var off int64
	t := gep.Elem
	for k, idx := range gep.Ops[1:] {
		ci, ok := idx.(*ir.ConstInt)
		if !ok {
			return off
		}
		if k == 0 {
			off += ci.V * int64(ir.SizeOf(t))
			continue
		}
		switch u := t.(type) {
		case ir.ArrayType:
			off += ci.V * int64(ir.SizeOf(u.Elem))
			t = u.Elem
		case *ir.StructType:
			off += int64(ir.FieldOffset(u, int(ci.V)))
			t = u.Fields[ci.V]
		default:
			return off
		}
	}
	return off
}

// instrumentSite emits the update sequence before access in.
func (p *Instrument) instrumentSite(f *ir.Func, in *ir.Instr, counters *ir.Global, slot int) {
	b := in.Parent
	ptr, _ := in.AccessedPointer()
	m := p.m

	mk := func(op ir.Op, sub string, ty ir.Type, ops ...ir.Value) *ir.Instr {
		n := &ir.Instr{Op: op, Sub: sub, Name: m.FreshName(), Ty: ty, Ops: ops}
		n.Meta.NoSanitize = true
		n.Meta.NoInstrument = true
		b.InsertBefore(in, n)
		return n
	}

	p2i := mk(ir.OpPtrToInt, "", ir.I64, ptr)
	sh := mk(ir.OpBin, "lshr", ir.I64, p2i, ir.Int(ir.I64, int64(fuzzalloc.TagShift)))
	tag := mk(ir.OpBin, "and", ir.I64, sh, ir.Int(ir.I64, int64(fuzzalloc.TagMask)))

	if p.Fuzzer == FuzzerDebugLog {
		call := mk(ir.OpCall, "", ir.Void, p.logFn, tag)
		call.Name = ""
		return
	}

	cond := mk(ir.OpICmp, "ne", ir.I1, tag, ir.Int(ir.I64, int64(fuzzalloc.DefaultTag)))

	upd, cont := p.splitBlock(f, b, in)
	term := &ir.Instr{Op: ir.OpCondBr, Ty: ir.Void, Ops: []ir.Value{cond}, Blocks: []*ir.Block{upd, cont}}
	term.Meta.NoSanitize = true
	term.Parent = b
	b.Instrs = append(b.Instrs, term)

	emit := func(op ir.Op, sub string, ty ir.Type, ops ...ir.Value) *ir.Instr {
		n := &ir.Instr{Op: op, Sub: sub, Name: m.FreshName(), Ty: ty, Ops: ops}
		n.Meta.NoSanitize = true
		n.Meta.NoInstrument = true
		n.Parent = upd
		upd.Instrs = append(upd.Instrs, n)
		return n
	}

	var slotAddr *ir.Instr
	switch p.Fuzzer {
	case FuzzerAFL:
		pc := emit(ir.OpCall, "", ir.I64, p.pcFn)
		delta := emit(ir.OpBin, "sub", ir.I64, tag, ir.Int(ir.I64, int64(fuzzalloc.DefaultTag)))
		h := emit(ir.OpBin, "mul", ir.I64, delta, ir.Int(ir.I64, 3))
		if p.Sense.Offset {
			if off := staticOffset(ptr); off != 0 {
				h = emit(ir.OpBin, "add", ir.I64, h, ir.Int(ir.I64, off))
			}
		}
		x := emit(ir.OpBin, "xor", ir.I64, h, pc)
		hash := emit(ir.OpBin, "sub", ir.I64, x, pc)
		idx := emit(ir.OpBin, "and", ir.I64, hash, ir.Int(ir.I64, cover.MapSize-1))
		area := emit(ir.OpLoad, "", bytePtr, p.aflArea)
		slotAddr = emit(ir.OpGep, "", bytePtr, area, idx)
		slotAddr.Elem = ir.I8
	case FuzzerLibFuzzer:
		slotAddr = emit(ir.OpGep, "", bytePtr, counters, ir.Int(ir.I64, 0), ir.Int(ir.I64, int64(slot)))
		slotAddr.Elem = counters.Ty
	}

	byte_ := emit(ir.OpLoad, "", ir.I8, slotAddr)
	inc := emit(ir.OpBin, "add", ir.I8, byte_, ir.Int(ir.I8, 1))
	st := emit(ir.OpStore, "", ir.Void, inc, slotAddr)
	st.Name = ""
	br := emit(ir.OpBr, "", ir.Void)
	br.Name = ""
	br.Blocks = []*ir.Block{cont}
}

// splitBlock cuts b before at: everything from at onward moves to the
// returned continuation block, and a fresh update block is threaded
// between them. Phi edges in the continuation's successors are repointed
// at the continuation.
func (p *Instrument) splitBlock(f *ir.Func, b *ir.Block, at *ir.Instr) (upd, cont *ir.Block) {
	idx := b.Index(at)
	upd = &ir.Block{Name: "dfcov." + p.m.FreshName(), Parent: f}
	cont = &ir.Block{Name: "dfcov." + p.m.FreshName(), Parent: f}

	cont.Instrs = append(cont.Instrs, b.Instrs[idx:]...)
	for _, in := range cont.Instrs {
		in.Parent = cont
	}
	b.Instrs = b.Instrs[:idx]

	// Keep textual order: b, upd, cont, rest.
	pos := 0
	for i, blk := range f.Blocks {
		if blk == b {
			pos = i + 1
			break
		}
	}
	rest := append([]*ir.Block{upd, cont}, f.Blocks[pos:]...)
	f.Blocks = append(f.Blocks[:pos:pos], rest...)

	// The edge into every successor now leaves cont, not b.
	if term := cont.Terminator(); term != nil {
		for _, succ := range term.Blocks {
			for _, in := range succ.Instrs {
				if in.Op != ir.OpPhi {
					continue
				}
				for k, pred := range in.Blocks {
					if pred == b {
						in.Blocks[k] = cont
					}
				}
			}
		}
	}
	return upd, cont
}

// registerCounters emits the constructor that hands the function's
// counter block to the fuzzer, the 8-bit-counters initialization
// protocol.
func (p *Instrument) registerCounters(f *ir.Func, counters *ir.Global, n int) {
	m := p.m
	initFn := m.DeclareFunc(SymCountersInit, &ir.FuncType{Ret: ir.Void, Params: []ir.Type{bytePtr, bytePtr}})
	initFn.Section = RuntimeSection

	ctor := m.NewFunc("fuzzalloc.cov_init."+f.Name, &ir.FuncType{Ret: ir.Void})
	ctor.Linkage = ir.Internal
	ctor.Section = RuntimeSection
	entry := ctor.Entry()
	start := &ir.ConstExpr{Kind: ir.CEGep, Base: counters, Indices: []int{0, 0}, To: bytePtr}
	end := &ir.ConstExpr{Kind: ir.CEGep, Base: counters, Indices: []int{0, n}, To: bytePtr}
	entry.NewCall(initFn, start, end)
	entry.NewRet(nil)
	m.Ctors = append(m.Ctors, ir.Initializer{Priority: countersInitPriority, Fn: ctor})
}
