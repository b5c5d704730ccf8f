// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"
	"strings"
)

// String renders the module in its textual form. The form round-trips
// through Parse.
func (m *Module) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", m.Name)

	for _, s := range m.Structs {
		fmt.Fprintf(&b, "\nstruct %s = %s", s.String(), s.body())
	}
	if len(m.Structs) > 0 {
		b.WriteByte('\n')
	}
	for _, g := range m.Globals {
		b.WriteByte('\n')
		b.WriteString(g.decl())
	}
	for _, a := range m.Aliases {
		fmt.Fprintf(&b, "\nalias @%s = %s", a.Name, a.Aliasee.operand())
	}
	for _, c := range m.Ctors {
		fmt.Fprintf(&b, "\nctor %d @%s", c.Priority, c.Fn.Name)
	}
	for _, d := range m.Dtors {
		fmt.Fprintf(&b, "\ndtor %d @%s", d.Priority, d.Fn.Name)
	}
	for _, f := range m.Funcs {
		b.WriteByte('\n')
		b.WriteByte('\n')
		b.WriteString(f.decl())
	}
	b.WriteByte('\n')
	return b.String()
}

func (g *Global) decl() string {
	var b strings.Builder
	fmt.Fprintf(&b, "global @%s : %s", g.Name, g.Ty)
	if g.Init != nil {
		b.WriteString(" = ")
		b.WriteString(g.Init.operand())
	}
	if g.Const {
		b.WriteString(" const")
	}
	if g.Linkage != External {
		fmt.Fprintf(&b, " linkage=%s", g.Linkage)
	}
	if g.Section != "" {
		fmt.Fprintf(&b, " section=%q", g.Section)
	}
	return b.String()
}

func (f *Func) decl() string {
	var b strings.Builder
	if f.IsDecl() {
		fmt.Fprintf(&b, "declare @%s : %s", f.Name, f.Sig)
	} else {
		fmt.Fprintf(&b, "define @%s : %s", f.Name, f.Sig)
		names := make([]string, len(f.Params))
		for i, p := range f.Params {
			names[i] = "%" + p.Name
		}
		fmt.Fprintf(&b, " params=[%s]", strings.Join(names, ", "))
	}
	if f.Linkage != External {
		fmt.Fprintf(&b, " linkage=%s", f.Linkage)
	}
	if f.Section != "" {
		fmt.Fprintf(&b, " section=%q", f.Section)
	}
	if len(f.Attrs) > 0 {
		fmt.Fprintf(&b, " attrs=[%s]", strings.Join(f.Attrs, ", "))
	}
	if f.IsDecl() {
		return b.String()
	}
	b.WriteString(" {\n")
	for _, blk := range f.Blocks {
		fmt.Fprintf(&b, "%s:\n", blk.Name)
		for _, in := range blk.Instrs {
			b.WriteString("  ")
			b.WriteString(in.text())
			b.WriteByte('\n')
		}
	}
	b.WriteString("}")
	return b.String()
}

func (i *Instr) text() string {
	var b strings.Builder
	if i.Name != "" {
		fmt.Fprintf(&b, "%%%s = ", i.Name)
	}
	switch i.Op {
	case OpAlloca:
		fmt.Fprintf(&b, "alloca %s", i.Elem)
	case OpLoad:
		fmt.Fprintf(&b, "load %s", i.Ops[0].operand())
	case OpStore:
		fmt.Fprintf(&b, "store %s, %s", i.Ops[0].operand(), i.Ops[1].operand())
	case OpGep:
		fmt.Fprintf(&b, "gep %s, %s, [%s]", i.Elem, i.Ops[0].operand(), operands(i.Ops[1:]))
	case OpCall:
		fmt.Fprintf(&b, "call %s(%s)", i.Ops[0].operand(), operands(i.Ops[1:]))
		if len(i.Attrs) > 0 {
			fmt.Fprintf(&b, " attrs=[%s]", strings.Join(i.Attrs, ", "))
		}
	case OpBitcast, OpPtrToInt, OpIntToPtr:
		fmt.Fprintf(&b, "%s %s to %s", i.Op, i.Ops[0].operand(), i.Ty)
	case OpBin:
		fmt.Fprintf(&b, "%s %s, %s", i.Sub, i.Ops[0].operand(), i.Ops[1].operand())
	case OpICmp:
		fmt.Fprintf(&b, "icmp %s, %s, %s", i.Sub, i.Ops[0].operand(), i.Ops[1].operand())
	case OpPhi:
		fmt.Fprintf(&b, "phi %s", i.Ty)
		for k, op := range i.Ops {
			fmt.Fprintf(&b, ", [%s, %s]", op.operand(), i.Blocks[k].Name)
		}
	case OpSelect:
		fmt.Fprintf(&b, "select %s, %s, %s", i.Ops[0].operand(), i.Ops[1].operand(), i.Ops[2].operand())
	case OpBr:
		fmt.Fprintf(&b, "br %s", i.Blocks[0].Name)
	case OpCondBr:
		fmt.Fprintf(&b, "br %s, %s, %s", i.Ops[0].operand(), i.Blocks[0].Name, i.Blocks[1].Name)
	case OpRet:
		if len(i.Ops) == 0 {
			b.WriteString("ret")
		} else {
			fmt.Fprintf(&b, "ret %s", i.Ops[0].operand())
		}
	case OpMemCpy, OpMemMove, OpMemSet:
		fmt.Fprintf(&b, "%s %s, align=%d", i.Op, operands(i.Ops), i.Align)
	case OpLifetimeStart, OpLifetimeEnd:
		fmt.Fprintf(&b, "%s %s, %d", i.Op, i.Ops[0].operand(), i.Size)
	case OpAtomicRMW:
		fmt.Fprintf(&b, "atomicrmw %s, %s, %s", i.Sub, i.Ops[0].operand(), i.Ops[1].operand())
	case OpCmpXchg:
		fmt.Fprintf(&b, "cmpxchg %s", operands(i.Ops))
	case OpMaskedLoad:
		fmt.Fprintf(&b, "masked.load %s", operands(i.Ops))
	case OpMaskedStore:
		fmt.Fprintf(&b, "masked.store %s", operands(i.Ops))
	case OpUnreachable:
		b.WriteString("unreachable")
	}
	b.WriteString(i.Meta.text())
	return b.String()
}

func operands(ops []Value) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = op.operand()
	}
	return strings.Join(parts, ", ")
}

func (md Metadata) text() string {
	var b strings.Builder
	if md.NoInstrument {
		b.WriteString(" !noinstr")
	}
	if md.NoSanitize {
		b.WriteString(" !nosan")
	}
	if md.Tagged {
		b.WriteString(" !tagged")
	}
	if md.Access != nil {
		fmt.Fprintf(&b, " !access(%s, %d)", md.Access.TypeName, md.Access.Offset)
	}
	if md.Debug != nil {
		expr := md.Debug.Expr
		if expr == "" {
			expr = "_"
		}
		fmt.Fprintf(&b, " !dbg(%s, %s)", md.Debug.Variable, expr)
	}
	return b.String()
}
