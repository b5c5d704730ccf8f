// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

import "fmt"

var binOps = map[string]bool{
	"add": true, "sub": true, "mul": true, "udiv": true, "sdiv": true,
	"and": true, "or": true, "xor": true, "shl": true, "lshr": true, "ashr": true,
}

// instruction parses one instruction line.
func (p *parser) instruction(line string, env *funcEnv) (*Instr, error) {
	lx := lex(line)

	name := ""
	if lx.peekKind() == tLocal {
		n, _ := lx.local()
		name = n
		if err := lx.punct("="); err != nil {
			return nil, err
		}
	}

	op, err := lx.ident()
	if err != nil {
		return nil, err
	}

	in := &Instr{Name: name, Ty: Void}
	switch {
	case op == "alloca":
		in.Op = OpAlloca
		elem, err := p.parseType(lx)
		if err != nil {
			return nil, err
		}
		in.Elem = elem
		in.Ty = Ptr(elem)

	case op == "load":
		in.Op = OpLoad
		ptr, err := p.operand(lx, env)
		if err != nil {
			return nil, err
		}
		pt, ok := ptr.Type().(PtrType)
		if !ok {
			return nil, fmt.Errorf("load through non-pointer %s", ptr.Type())
		}
		in.Ops = []Value{ptr}
		in.Ty = pt.Elem

	case op == "store":
		in.Op = OpStore
		if in.Ops, err = p.operandList(lx, env, 2); err != nil {
			return nil, err
		}

	case op == "gep":
		in.Op = OpGep
		elem, err := p.parseType(lx)
		if err != nil {
			return nil, err
		}
		if err := lx.punct(","); err != nil {
			return nil, err
		}
		base, err := p.operand(lx, env)
		if err != nil {
			return nil, err
		}
		if err := lx.punct(","); err != nil {
			return nil, err
		}
		if err := lx.punct("["); err != nil {
			return nil, err
		}
		ops := []Value{base}
		for i := 0; !lx.accept("]"); i++ {
			if i > 0 {
				if err := lx.punct(","); err != nil {
					return nil, err
				}
			}
			idx, err := p.operand(lx, env)
			if err != nil {
				return nil, err
			}
			ops = append(ops, idx)
		}
		in.Elem = elem
		in.Ops = ops
		rt, err := gepType(elem, ops[1:])
		if err != nil {
			return nil, err
		}
		in.Ty = rt

	case op == "call":
		in.Op = OpCall
		callee, err := p.operand(lx, env)
		if err != nil {
			return nil, err
		}
		if err := lx.punct("("); err != nil {
			return nil, err
		}
		ops := []Value{callee}
		for i := 0; !lx.accept(")"); i++ {
			if i > 0 {
				if err := lx.punct(","); err != nil {
					return nil, err
				}
			}
			arg, err := p.operand(lx, env)
			if err != nil {
				return nil, err
			}
			ops = append(ops, arg)
		}
		in.Ops = ops
		if sig := calleeSig(callee); sig != nil {
			in.Ty = sig.Ret
		}
		if name == "" {
			in.Ty = Void
		}
		if lx.accept("attrs") {
			lx.punct("=")
			attrs, err := identList(lx)
			if err != nil {
				return nil, err
			}
			in.Attrs = attrs
		}

	case op == "bitcast" || op == "ptrtoint" || op == "inttoptr":
		switch op {
		case "bitcast":
			in.Op = OpBitcast
		case "ptrtoint":
			in.Op = OpPtrToInt
		default:
			in.Op = OpIntToPtr
		}
		v, err := p.operand(lx, env)
		if err != nil {
			return nil, err
		}
		lx.word("to")
		to, err := p.parseType(lx)
		if err != nil {
			return nil, err
		}
		in.Ops = []Value{v}
		in.Ty = to

	case binOps[op]:
		in.Op = OpBin
		in.Sub = op
		if in.Ops, err = p.operandList(lx, env, 2); err != nil {
			return nil, err
		}
		in.Ty = in.Ops[0].Type()

	case op == "icmp":
		in.Op = OpICmp
		pred, err := lx.ident()
		if err != nil {
			return nil, err
		}
		if err := lx.punct(","); err != nil {
			return nil, err
		}
		in.Sub = pred
		if in.Ops, err = p.operandList(lx, env, 2); err != nil {
			return nil, err
		}
		in.Ty = I1

	case op == "phi":
		in.Op = OpPhi
		ty, err := p.parseType(lx)
		if err != nil {
			return nil, err
		}
		in.Ty = ty
		for lx.accept(",") {
			if err := lx.punct("["); err != nil {
				return nil, err
			}
			v, err := p.parseOperand(lx, env)
			if err != nil {
				return nil, err
			}
			if err := lx.punct(","); err != nil {
				return nil, err
			}
			bn, err := lx.ident()
			if err != nil {
				return nil, err
			}
			if err := lx.punct("]"); err != nil {
				return nil, err
			}
			blk, ok := env.blocks[bn]
			if !ok {
				return nil, fmt.Errorf("phi references unknown block %q", bn)
			}
			if pv, pending := v.(pendingValue); pending {
				env.phiFixes = append(env.phiFixes, phiFix{instr: in, index: len(in.Ops), name: pv.name})
			}
			in.Ops = append(in.Ops, v)
			in.Blocks = append(in.Blocks, blk)
		}

	case op == "select":
		in.Op = OpSelect
		if in.Ops, err = p.operandList(lx, env, 3); err != nil {
			return nil, err
		}
		in.Ty = in.Ops[1].Type()

	case op == "br":
		if lx.peekKind() == tIdent {
			in.Op = OpBr
			bn, _ := lx.ident()
			blk, ok := env.blocks[bn]
			if !ok {
				return nil, fmt.Errorf("br to unknown block %q", bn)
			}
			in.Blocks = []*Block{blk}
		} else {
			in.Op = OpCondBr
			cond, err := p.operand(lx, env)
			if err != nil {
				return nil, err
			}
			if err := lx.punct(","); err != nil {
				return nil, err
			}
			tn, _ := lx.ident()
			if err := lx.punct(","); err != nil {
				return nil, err
			}
			en, _ := lx.ident()
			tb, ok1 := env.blocks[tn]
			eb, ok2 := env.blocks[en]
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("br to unknown block")
			}
			in.Ops = []Value{cond}
			in.Blocks = []*Block{tb, eb}
		}

	case op == "ret":
		in.Op = OpRet
		if lx.peekKind() != tEOF && lx.peekKind() != tMeta {
			v, err := p.operand(lx, env)
			if err != nil {
				return nil, err
			}
			in.Ops = []Value{v}
		}

	case op == "memcpy" || op == "memmove" || op == "memset":
		switch op {
		case "memcpy":
			in.Op = OpMemCpy
		case "memmove":
			in.Op = OpMemMove
		default:
			in.Op = OpMemSet
		}
		if in.Ops, err = p.operandList(lx, env, 3); err != nil {
			return nil, err
		}
		if err := lx.punct(","); err != nil {
			return nil, err
		}
		lx.word("align")
		lx.punct("=")
		a, err := lx.integer()
		if err != nil {
			return nil, err
		}
		in.Align = int(a)

	case op == "lifetime.start" || op == "lifetime.end":
		in.Op = OpLifetimeStart
		if op == "lifetime.end" {
			in.Op = OpLifetimeEnd
		}
		ptr, err := p.operand(lx, env)
		if err != nil {
			return nil, err
		}
		if err := lx.punct(","); err != nil {
			return nil, err
		}
		size, err := lx.integer()
		if err != nil {
			return nil, err
		}
		in.Ops = []Value{ptr}
		in.Size = size

	case op == "atomicrmw":
		in.Op = OpAtomicRMW
		sub, err := lx.ident()
		if err != nil {
			return nil, err
		}
		if err := lx.punct(","); err != nil {
			return nil, err
		}
		in.Sub = sub
		if in.Ops, err = p.operandList(lx, env, 2); err != nil {
			return nil, err
		}
		in.Ty = in.Ops[1].Type()

	case op == "cmpxchg":
		in.Op = OpCmpXchg
		if in.Ops, err = p.operandList(lx, env, 3); err != nil {
			return nil, err
		}
		in.Ty = in.Ops[1].Type()

	case op == "masked.load":
		in.Op = OpMaskedLoad
		if in.Ops, err = p.operandList(lx, env, 2); err != nil {
			return nil, err
		}
		pt, ok := in.Ops[0].Type().(PtrType)
		if !ok {
			return nil, fmt.Errorf("masked.load through non-pointer")
		}
		in.Ty = pt.Elem

	case op == "masked.store":
		in.Op = OpMaskedStore
		if in.Ops, err = p.operandList(lx, env, 3); err != nil {
			return nil, err
		}

	case op == "unreachable":
		in.Op = OpUnreachable

	default:
		return nil, fmt.Errorf("unknown instruction %q", op)
	}

	if err := p.metadata(lx, in); err != nil {
		return nil, err
	}
	return in, lx.end()
}

// operand parses a value reference, rejecting forward references.
func (p *parser) operand(lx *lexer, env *funcEnv) (Value, error) {
	v, err := p.parseOperand(lx, env)
	if err != nil {
		return nil, err
	}
	if pv, ok := v.(pendingValue); ok {
		return nil, fmt.Errorf("use of undefined %%%s", pv.name)
	}
	return v, nil
}

func (p *parser) operandList(lx *lexer, env *funcEnv, n int) ([]Value, error) {
	out := make([]Value, 0, n)
	for i := range n {
		if i > 0 {
			if err := lx.punct(","); err != nil {
				return nil, err
			}
		}
		v, err := p.operand(lx, env)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (p *parser) metadata(lx *lexer, in *Instr) error {
	for lx.peekKind() == tMeta {
		t := lx.next()
		switch t.s {
		case "noinstr":
			in.Meta.NoInstrument = true
		case "nosan":
			in.Meta.NoSanitize = true
		case "tagged":
			in.Meta.Tagged = true
		case "access":
			if err := lx.punct("("); err != nil {
				return err
			}
			tn, err := lx.ident()
			if err != nil {
				return err
			}
			if err := lx.punct(","); err != nil {
				return err
			}
			off, err := lx.integer()
			if err != nil {
				return err
			}
			if err := lx.punct(")"); err != nil {
				return err
			}
			in.Meta.Access = &StructAccess{TypeName: tn, Offset: int(off)}
		case "dbg":
			if err := lx.punct("("); err != nil {
				return err
			}
			v, err := lx.ident()
			if err != nil {
				return err
			}
			if err := lx.punct(","); err != nil {
				return err
			}
			e, err := lx.ident()
			if err != nil {
				return err
			}
			if err := lx.punct(")"); err != nil {
				return err
			}
			if e == "_" {
				e = ""
			}
			in.Meta.Debug = &DebugInfo{Variable: v, Expr: e}
		default:
			return fmt.Errorf("unknown metadata !%s", t.s)
		}
	}
	return nil
}

// gepType resolves the result pointer type of an address computation:
// the first index steps over the base pointer, later constant indices
// descend into aggregates.
func gepType(elem Type, indices []Value) (Type, error) {
	t := elem
	for k, idx := range indices {
		if k == 0 {
			continue
		}
		switch u := t.(type) {
		case ArrayType:
			t = u.Elem
		case *StructType:
			ci, ok := idx.(*ConstInt)
			if !ok {
				return nil, fmt.Errorf("struct index must be constant")
			}
			if int(ci.V) >= len(u.Fields) {
				return nil, fmt.Errorf("struct index %d out of range", ci.V)
			}
			t = u.Fields[ci.V]
		default:
			return nil, fmt.Errorf("cannot index into %s", t)
		}
	}
	return Ptr(t), nil
}
