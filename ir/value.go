// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is anything an instruction can take as an operand: instruction
// results, function parameters, globals, functions, aliases, constants.
type Value interface {
	Type() Type
	// operand renders the value in operand position.
	operand() string
}

// Constant is a value known at compile time: literals, zero and null
// initializers, aggregates, symbol addresses, constant expressions.
type Constant interface {
	Value
	isConst()
}

// Param is a function parameter.
type Param struct {
	Name   string
	Ty     Type
	Parent *Func
}

func (p *Param) Type() Type      { return p.Ty }
func (p *Param) operand() string { return "%" + p.Name }

// ConstInt is an integer literal.
type ConstInt struct {
	Ty IntType
	V  int64
}

func (c *ConstInt) Type() Type      { return c.Ty }
func (c *ConstInt) operand() string { return strconv.FormatInt(c.V, 10) + ":" + c.Ty.String() }
func (c *ConstInt) isConst()        {}

// Int returns an integer literal of type ty.
func Int(ty IntType, v int64) *ConstInt { return &ConstInt{Ty: ty, V: v} }

// ConstNull is a null pointer literal.
type ConstNull struct {
	Ty PtrType
}

func (c *ConstNull) Type() Type      { return c.Ty }
func (c *ConstNull) operand() string { return "null:" + c.Ty.String() }
func (c *ConstNull) isConst()        {}

// Null returns the null literal of pointer type ty.
func Null(ty PtrType) *ConstNull { return &ConstNull{Ty: ty} }

// ConstZero is a zero initializer of any type.
type ConstZero struct {
	Ty Type
}

func (c *ConstZero) Type() Type      { return c.Ty }
func (c *ConstZero) operand() string { return "zero:" + c.Ty.String() }
func (c *ConstZero) isConst()        {}

// Zero returns the zero initializer of ty.
func Zero(ty Type) *ConstZero { return &ConstZero{Ty: ty} }

// IsZeroInit reports whether c is a zero initializer: the zero literal,
// null, integer 0, or an aggregate of zero initializers.
func IsZeroInit(c Constant) bool {
	switch v := c.(type) {
	case *ConstZero:
		return true
	case *ConstNull:
		return true
	case *ConstInt:
		return v.V == 0
	case *ConstArray:
		for _, e := range v.Elems {
			if !IsZeroInit(e) {
				return false
			}
		}
		return true
	case *ConstStruct:
		for _, f := range v.Fields {
			if !IsZeroInit(f) {
				return false
			}
		}
		return true
	}
	return false
}

// ConstArray is an array literal.
type ConstArray struct {
	Ty    ArrayType
	Elems []Constant
}

func (c *ConstArray) Type() Type { return c.Ty }
func (c *ConstArray) operand() string {
	var b strings.Builder
	b.WriteString("array(")
	for i, e := range c.Elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.operand())
	}
	b.WriteString("):")
	b.WriteString(c.Ty.String())
	return b.String()
}
func (c *ConstArray) isConst() {}

// ConstStruct is a struct literal.
type ConstStruct struct {
	Ty     *StructType
	Fields []Constant
}

func (c *ConstStruct) Type() Type { return c.Ty }
func (c *ConstStruct) operand() string {
	var b strings.Builder
	b.WriteString("structv(")
	for i, f := range c.Fields {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(f.operand())
	}
	b.WriteString("):")
	b.WriteString(c.Ty.String())
	return b.String()
}
func (c *ConstStruct) isConst() {}

// ConstExprKind discriminates constant expressions.
type ConstExprKind int

const (
	// CEGep indexes a symbol address.
	CEGep ConstExprKind = iota
	// CEBitcast reinterprets a constant pointer.
	CEBitcast
	// CEPtrToInt converts a constant pointer to an integer.
	CEPtrToInt
)

// ConstExpr is a compile-time expression over a constant base, the form
// global initializers use to reference other globals.
type ConstExpr struct {
	Kind    ConstExprKind
	Base    Constant
	Indices []int // CEGep
	To      Type  // result type
}

func (c *ConstExpr) Type() Type { return c.To }
func (c *ConstExpr) operand() string {
	switch c.Kind {
	case CEGep:
		var b strings.Builder
		b.WriteString("gep(")
		b.WriteString(c.Base.operand())
		for _, i := range c.Indices {
			fmt.Fprintf(&b, ", %d", i)
		}
		b.WriteString("):")
		b.WriteString(c.To.String())
		return b.String()
	case CEBitcast:
		return "bitcast(" + c.Base.operand() + "):" + c.To.String()
	default:
		return "ptrtoint(" + c.Base.operand() + "):" + c.To.String()
	}
}
func (c *ConstExpr) isConst() {}

// ContainsSymbol reports whether constant c references the symbol value
// sym (a *Global, *Func, or *Alias) anywhere in its tree.
func ContainsSymbol(c Constant, sym Value) bool {
	switch v := c.(type) {
	case *ConstExpr:
		return ContainsSymbol(v.Base, sym)
	case *ConstArray:
		for _, e := range v.Elems {
			if ContainsSymbol(e, sym) {
				return true
			}
		}
	case *ConstStruct:
		for _, f := range v.Fields {
			if ContainsSymbol(f, sym) {
				return true
			}
		}
	default:
		return Value(c) == sym
	}
	return false
}
