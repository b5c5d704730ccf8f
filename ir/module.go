// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

// Linkage of a symbol.
type Linkage int

const (
	External Linkage = iota
	Internal
	Private
	Weak
)

var linkageNames = [...]string{"external", "internal", "private", "weak"}

func (l Linkage) String() string { return linkageNames[l] }

// Module is one translation unit.
type Module struct {
	Name    string
	Structs []*StructType
	Globals []*Global
	Aliases []*Alias
	Funcs   []*Func

	// Ctors and Dtors run before and after the program proper, ordered
	// by ascending priority.
	Ctors []Initializer
	Dtors []Initializer

	nameSeq int
}

// Initializer is a module constructor or destructor entry.
type Initializer struct {
	Priority int
	Fn       *Func
}

// Global is a module-level variable. Its value type is Ty; as an
// operand it is the address, of type Ty*.
type Global struct {
	Name    string
	Ty      Type
	Init    Constant // nil for external declarations
	Linkage Linkage
	Const   bool
	Section string
}

func (g *Global) Type() Type      { return Ptr(g.Ty) }
func (g *Global) operand() string { return "@" + g.Name }
func (g *Global) isConst()        {}

// Alias is a global alias of another symbol.
type Alias struct {
	Name    string
	Aliasee Value // *Global or *Func
	Linkage Linkage
}

func (a *Alias) Type() Type      { return a.Aliasee.Type() }
func (a *Alias) operand() string { return "@" + a.Name }
func (a *Alias) isConst()        {}

// Func is a function definition or declaration. As an operand it is the
// function address.
type Func struct {
	Name     string
	Sig      *FuncType
	Params   []*Param
	Blocks   []*Block // empty for declarations
	Attrs    []string
	Linkage  Linkage
	Section  string
	Variadic bool

	Parent *Module
}

func (f *Func) Type() Type      { return Ptr(Type(f.Sig)) }
func (f *Func) operand() string { return "@" + f.Name }
func (f *Func) isConst()        {}

// IsDecl reports whether f has no body.
func (f *Func) IsDecl() bool { return len(f.Blocks) == 0 }

// HasAttr reports whether f carries the named attribute.
func (f *Func) HasAttr(name string) bool {
	for _, a := range f.Attrs {
		if a == name {
			return true
		}
	}
	return false
}

// Entry returns the entry block.
func (f *Func) Entry() *Block { return f.Blocks[0] }

// Block is a basic block.
type Block struct {
	Name   string
	Instrs []*Instr
	Parent *Func
}

// NewModule creates an empty module.
func NewModule(name string) *Module { return &Module{Name: name} }

// local returns a fresh SSA name.
func (m *Module) local() string {
	m.nameSeq++
	return fmt.Sprintf("t%d", m.nameSeq)
}

// FreshName mints a fresh SSA name for callers that construct
// instructions directly, such as transformation passes inserting at
// arbitrary positions.
func (m *Module) FreshName() string { return m.local() }

// Struct returns the named struct type, or nil.
func (m *Module) Struct(name string) *StructType {
	for _, s := range m.Structs {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// DefineStruct registers a named struct type.
func (m *Module) DefineStruct(s *StructType) *StructType {
	m.Structs = append(m.Structs, s)
	return s
}

// Func returns the named function, or nil.
func (m *Module) Func(name string) *Func {
	for _, f := range m.Funcs {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Global returns the named global, or nil.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Alias returns the named alias, or nil.
func (m *Module) Alias(name string) *Alias {
	for _, a := range m.Aliases {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// NewGlobal adds a global variable.
func (m *Module) NewGlobal(name string, ty Type, init Constant) *Global {
	g := &Global{Name: name, Ty: ty, Init: init}
	m.Globals = append(m.Globals, g)
	return g
}

// NewAlias adds a global alias.
func (m *Module) NewAlias(name string, aliasee Value) *Alias {
	a := &Alias{Name: name, Aliasee: aliasee}
	m.Aliases = append(m.Aliases, a)
	return a
}

// NewFunc adds a function definition with an empty entry block.
func (m *Module) NewFunc(name string, sig *FuncType, paramNames ...string) *Func {
	f := m.newFunc(name, sig, paramNames...)
	f.Blocks = []*Block{{Name: "entry", Parent: f}}
	return f
}

// DeclareFunc adds a bodyless function declaration. Re-declaring an
// existing symbol returns it unchanged.
func (m *Module) DeclareFunc(name string, sig *FuncType) *Func {
	if f := m.Func(name); f != nil {
		return f
	}
	return m.newFunc(name, sig)
}

func (m *Module) newFunc(name string, sig *FuncType, paramNames ...string) *Func {
	f := &Func{Name: name, Sig: sig, Variadic: sig.Variadic, Parent: m}
	for i, pt := range sig.Params {
		pn := fmt.Sprintf("a%d", i)
		if i < len(paramNames) {
			pn = paramNames[i]
		}
		f.Params = append(f.Params, &Param{Name: pn, Ty: pt, Parent: f})
	}
	m.Funcs = append(m.Funcs, f)
	return f
}

// RemoveFunc deletes the named function from the module.
func (m *Module) RemoveFunc(f *Func) {
	for i, g := range m.Funcs {
		if g == f {
			m.Funcs = append(m.Funcs[:i], m.Funcs[i+1:]...)
			return
		}
	}
}

// RemoveGlobal deletes g from the module.
func (m *Module) RemoveGlobal(g *Global) {
	for i, h := range m.Globals {
		if h == g {
			m.Globals = append(m.Globals[:i], m.Globals[i+1:]...)
			return
		}
	}
}

// NewBlock appends a basic block to f.
func (f *Func) NewBlock(name string) *Block {
	b := &Block{Name: name, Parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// UsersOf returns every instruction in the module that takes v as an
// operand.
func (m *Module) UsersOf(v Value) []*Instr {
	var out []*Instr
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				for _, op := range in.Ops {
					if op == v {
						out = append(out, in)
						break
					}
				}
			}
		}
	}
	return out
}

// ReplaceAllUses substitutes new for old in every instruction operand.
// Global initializers are not touched; constant references are handled
// by the constant-expansion machinery.
func (m *Module) ReplaceAllUses(old, new Value) {
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				in.ReplaceOperand(old, new)
			}
		}
	}
}

// append adds an instruction at the end of the block.
func (b *Block) append(i *Instr) *Instr {
	i.Parent = b
	b.Instrs = append(b.Instrs, i)
	return i
}

// Index returns the position of i in the block, or -1.
func (b *Block) Index(i *Instr) int {
	for k, in := range b.Instrs {
		if in == i {
			return k
		}
	}
	return -1
}

// InsertBefore places n immediately before pos.
func (b *Block) InsertBefore(pos, n *Instr) {
	k := b.Index(pos)
	n.Parent = b
	b.Instrs = append(b.Instrs[:k], append([]*Instr{n}, b.Instrs[k:]...)...)
}

// InsertAfter places n immediately after pos.
func (b *Block) InsertAfter(pos, n *Instr) {
	k := b.Index(pos) + 1
	n.Parent = b
	b.Instrs = append(b.Instrs[:k], append([]*Instr{n}, b.Instrs[k:]...)...)
}

// Remove deletes i from the block.
func (b *Block) Remove(i *Instr) {
	if k := b.Index(i); k >= 0 {
		b.Instrs = append(b.Instrs[:k], b.Instrs[k+1:]...)
	}
}

// Terminator returns the block's final instruction when it terminates
// the block, or nil.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	if last := b.Instrs[len(b.Instrs)-1]; last.IsTerminator() {
		return last
	}
	return nil
}

func (b *Block) module() *Module { return b.Parent.Parent }

// Instruction constructors. Result-producing forms mint a fresh SSA
// name from the module sequence.

// NewAlloca appends a stack allocation of elem and returns the slot
// pointer.
func (b *Block) NewAlloca(elem Type) *Instr {
	return b.append(&Instr{Op: OpAlloca, Name: b.module().local(), Ty: Ptr(elem), Elem: elem})
}

// NewLoad appends a load through ptr.
func (b *Block) NewLoad(ptr Value) *Instr {
	pt := ptr.Type().(PtrType)
	return b.append(&Instr{Op: OpLoad, Name: b.module().local(), Ty: pt.Elem, Ops: []Value{ptr}})
}

// NewStore appends a store of val through ptr.
func (b *Block) NewStore(val, ptr Value) *Instr {
	return b.append(&Instr{Op: OpStore, Ty: Void, Ops: []Value{val, ptr}})
}

// NewGep appends an address computation over base, whose pointee type
// is elem. The result type follows the index path through elem.
func (b *Block) NewGep(elem Type, base Value, indices ...Value) *Instr {
	rt := gepResultType(elem, len(indices))
	return b.append(&Instr{Op: OpGep, Name: b.module().local(), Ty: rt, Elem: elem,
		Ops: append([]Value{base}, indices...)})
}

// gepResultType resolves the pointee reached after n indices: the first
// index steps over the base pointer, the rest descend into aggregates.
func gepResultType(elem Type, n int) Type {
	t := elem
	for range n - 1 {
		switch u := t.(type) {
		case ArrayType:
			t = u.Elem
		case *StructType:
			// Struct descent depends on the index value; the builders
			// that need it use NewGepInto.
			t = u.Fields[0]
		}
	}
	return Ptr(t)
}

// NewGepInto appends a struct-field address computation with constant
// indices, resolving the exact field type along the path.
func (b *Block) NewGepInto(elem Type, base Value, indices ...int) *Instr {
	t := elem
	vals := make([]Value, len(indices))
	for k, idx := range indices {
		vals[k] = Int(I64, int64(idx))
		if k == 0 {
			continue
		}
		switch u := t.(type) {
		case ArrayType:
			t = u.Elem
		case *StructType:
			t = u.Fields[idx]
		}
	}
	return b.append(&Instr{Op: OpGep, Name: b.module().local(), Ty: Ptr(t), Elem: elem,
		Ops: append([]Value{base}, vals...)})
}

// NewCall appends a call. RetTy is taken from the callee signature when
// it is a known function; otherwise the call is typed void.
func (b *Block) NewCall(callee Value, args ...Value) *Instr {
	var ret Type = Void
	if ft := calleeSig(callee); ft != nil {
		ret = ft.Ret
	}
	in := &Instr{Op: OpCall, Ty: ret, Ops: append([]Value{callee}, args...)}
	if !Equal(ret, Void) {
		in.Name = b.module().local()
	}
	return b.append(in)
}

func calleeSig(callee Value) *FuncType {
	if pt, ok := callee.Type().(PtrType); ok {
		if ft, ok := pt.Elem.(*FuncType); ok {
			return ft
		}
	}
	return nil
}

// NewBitcast appends a pointer reinterpretation.
func (b *Block) NewBitcast(v Value, to Type) *Instr {
	return b.append(&Instr{Op: OpBitcast, Name: b.module().local(), Ty: to, Ops: []Value{v}})
}

// NewPtrToInt appends a pointer-to-integer conversion.
func (b *Block) NewPtrToInt(v Value, to IntType) *Instr {
	return b.append(&Instr{Op: OpPtrToInt, Name: b.module().local(), Ty: to, Ops: []Value{v}})
}

// NewIntToPtr appends an integer-to-pointer conversion.
func (b *Block) NewIntToPtr(v Value, to PtrType) *Instr {
	return b.append(&Instr{Op: OpIntToPtr, Name: b.module().local(), Ty: to, Ops: []Value{v}})
}

// NewBin appends a binary operation.
func (b *Block) NewBin(op string, a, v Value) *Instr {
	return b.append(&Instr{Op: OpBin, Sub: op, Name: b.module().local(), Ty: a.Type(), Ops: []Value{a, v}})
}

// NewICmp appends an integer comparison.
func (b *Block) NewICmp(pred string, a, v Value) *Instr {
	return b.append(&Instr{Op: OpICmp, Sub: pred, Name: b.module().local(), Ty: I1, Ops: []Value{a, v}})
}

// NewPhi appends a phi node.
func (b *Block) NewPhi(ty Type) *Instr {
	return b.append(&Instr{Op: OpPhi, Name: b.module().local(), Ty: ty})
}

// AddIncoming adds an incoming edge to a phi node.
func (i *Instr) AddIncoming(v Value, from *Block) {
	i.Ops = append(i.Ops, v)
	i.Blocks = append(i.Blocks, from)
}

// NewSelect appends a select.
func (b *Block) NewSelect(cond, a, v Value) *Instr {
	return b.append(&Instr{Op: OpSelect, Name: b.module().local(), Ty: a.Type(), Ops: []Value{cond, a, v}})
}

// NewBr appends an unconditional branch.
func (b *Block) NewBr(to *Block) *Instr {
	return b.append(&Instr{Op: OpBr, Ty: Void, Blocks: []*Block{to}})
}

// NewCondBr appends a conditional branch.
func (b *Block) NewCondBr(cond Value, then, els *Block) *Instr {
	return b.append(&Instr{Op: OpCondBr, Ty: Void, Ops: []Value{cond}, Blocks: []*Block{then, els}})
}

// NewRet appends a return. v may be nil for void functions.
func (b *Block) NewRet(v Value) *Instr {
	in := &Instr{Op: OpRet, Ty: Void}
	if v != nil {
		in.Ops = []Value{v}
	}
	return b.append(in)
}

// NewMemCpy appends a memory copy intrinsic.
func (b *Block) NewMemCpy(dst, src, length Value, align int) *Instr {
	return b.append(&Instr{Op: OpMemCpy, Ty: Void, Ops: []Value{dst, src, length}, Align: align})
}

// NewMemSet appends a memory fill intrinsic.
func (b *Block) NewMemSet(dst, val, length Value, align int) *Instr {
	return b.append(&Instr{Op: OpMemSet, Ty: Void, Ops: []Value{dst, val, length}, Align: align})
}

// NewLifetimeStart appends a lifetime begin marker for ptr.
func (b *Block) NewLifetimeStart(ptr Value, size int64) *Instr {
	return b.append(&Instr{Op: OpLifetimeStart, Ty: Void, Ops: []Value{ptr}, Size: size})
}

// NewLifetimeEnd appends a lifetime end marker for ptr.
func (b *Block) NewLifetimeEnd(ptr Value, size int64) *Instr {
	return b.append(&Instr{Op: OpLifetimeEnd, Ty: Void, Ops: []Value{ptr}, Size: size})
}

// NewAtomicRMW appends an atomic read-modify-write.
func (b *Block) NewAtomicRMW(op string, ptr, val Value) *Instr {
	return b.append(&Instr{Op: OpAtomicRMW, Sub: op, Name: b.module().local(), Ty: val.Type(), Ops: []Value{ptr, val}})
}

// NewCmpXchg appends an atomic compare-exchange.
func (b *Block) NewCmpXchg(ptr, cmp, new Value) *Instr {
	return b.append(&Instr{Op: OpCmpXchg, Name: b.module().local(), Ty: cmp.Type(), Ops: []Value{ptr, cmp, new}})
}

// NewMaskedLoad appends a masked vector load.
func (b *Block) NewMaskedLoad(ptr, mask Value) *Instr {
	pt := ptr.Type().(PtrType)
	return b.append(&Instr{Op: OpMaskedLoad, Name: b.module().local(), Ty: pt.Elem, Ops: []Value{ptr, mask}})
}

// NewMaskedStore appends a masked vector store.
func (b *Block) NewMaskedStore(val, ptr, mask Value) *Instr {
	return b.append(&Instr{Op: OpMaskedStore, Ty: Void, Ops: []Value{val, ptr, mask}})
}

// NewUnreachable appends an unreachable terminator.
func (b *Block) NewUnreachable() *Instr {
	return b.append(&Instr{Op: OpUnreachable, Ty: Void})
}
