// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

// Op is the instruction opcode.
type Op int

const (
	OpAlloca Op = iota
	OpLoad
	OpStore
	OpGep
	OpCall
	OpBitcast
	OpPtrToInt
	OpIntToPtr
	OpBin
	OpICmp
	OpPhi
	OpSelect
	OpBr
	OpCondBr
	OpRet
	OpMemCpy
	OpMemMove
	OpMemSet
	OpLifetimeStart
	OpLifetimeEnd
	OpAtomicRMW
	OpCmpXchg
	OpMaskedLoad
	OpMaskedStore
	OpUnreachable
)

var opNames = [...]string{
	OpAlloca:        "alloca",
	OpLoad:          "load",
	OpStore:         "store",
	OpGep:           "gep",
	OpCall:          "call",
	OpBitcast:       "bitcast",
	OpPtrToInt:      "ptrtoint",
	OpIntToPtr:      "inttoptr",
	OpBin:           "bin",
	OpICmp:          "icmp",
	OpPhi:           "phi",
	OpSelect:        "select",
	OpBr:            "br",
	OpCondBr:        "condbr",
	OpRet:           "ret",
	OpMemCpy:        "memcpy",
	OpMemMove:       "memmove",
	OpMemSet:        "memset",
	OpLifetimeStart: "lifetime.start",
	OpLifetimeEnd:   "lifetime.end",
	OpAtomicRMW:     "atomicrmw",
	OpCmpXchg:       "cmpxchg",
	OpMaskedLoad:    "masked.load",
	OpMaskedStore:   "masked.store",
	OpUnreachable:   "unreachable",
}

func (op Op) String() string { return opNames[op] }

// Instr is one SSA instruction. Operand layout per opcode:
//
//	alloca          (no operands; Elem is the allocated type)
//	load            [ptr]
//	store           [val, ptr]
//	gep             [base, idx...]; Elem is the indexed (pointee) type
//	call            [callee, args...]
//	bitcast &c      [val]
//	bin             [a, b]; Sub is the operator mnemonic
//	icmp            [a, b]; Sub is the predicate
//	phi             [incoming...] parallel to Blocks
//	select          [cond, a, b]
//	br              []; Blocks[0] is the target
//	condbr          [cond]; Blocks[0], Blocks[1]
//	ret             [] or [val]
//	memcpy/memmove  [dst, src, len]
//	memset          [dst, val, len]
//	lifetime.*      [ptr]; Size is the object size
//	atomicrmw       [ptr, val]; Sub is the operation
//	cmpxchg         [ptr, cmp, new]
//	masked.load     [ptr, mask]
//	masked.store    [val, ptr, mask]
type Instr struct {
	Op     Op
	Name   string // SSA result name; empty for void instructions
	Ty     Type   // result type; Void when none
	Ops    []Value
	Blocks []*Block // phi incoming edges, branch targets
	Elem   Type     // alloca allocated type, gep indexed type
	Sub    string   // bin operator, icmp predicate, atomicrmw operation
	Align  int      // memory intrinsic destination alignment
	Size   int64    // lifetime marker object size
	Attrs  []string // call attributes (noreturn, nounwind, ...)

	Meta   Metadata
	Parent *Block
}

// Type returns the result type.
func (i *Instr) Type() Type { return i.Ty }

func (i *Instr) operand() string { return "%" + i.Name }

// Callee returns the called value of a call instruction.
func (i *Instr) Callee() Value { return i.Ops[0] }

// Args returns the argument operands of a call instruction.
func (i *Instr) Args() []Value { return i.Ops[1:] }

// IsTerminator reports whether the instruction ends a basic block.
func (i *Instr) IsTerminator() bool {
	switch i.Op {
	case OpBr, OpCondBr, OpRet, OpUnreachable:
		return true
	}
	return false
}

// AccessedPointer returns the pointer operand of a memory access and
// true, or nil and false for non-access instructions.
func (i *Instr) AccessedPointer() (Value, bool) {
	switch i.Op {
	case OpLoad, OpLifetimeStart, OpLifetimeEnd:
		return i.Ops[0], true
	case OpStore:
		return i.Ops[1], true
	case OpAtomicRMW, OpCmpXchg, OpMaskedLoad:
		return i.Ops[0], true
	case OpMaskedStore:
		return i.Ops[1], true
	}
	return nil, false
}

// IsWrite reports whether the access stores to memory.
func (i *Instr) IsWrite() bool {
	switch i.Op {
	case OpStore, OpAtomicRMW, OpCmpXchg, OpMaskedStore, OpMemCpy, OpMemMove, OpMemSet:
		return true
	}
	return false
}

// ReplaceOperand substitutes new for every occurrence of old among the
// instruction's operands.
func (i *Instr) ReplaceOperand(old, new Value) {
	for k, op := range i.Ops {
		if op == old {
			i.Ops[k] = new
		}
	}
}
