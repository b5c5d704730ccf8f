// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse reads a module from its textual form.
//
// Symbols may be referenced before their declaration; locals must be
// defined before use except in phi incoming lists, which are resolved
// at the end of each function body.
func Parse(src string) (*Module, error) {
	p := &parser{lines: strings.Split(src, "\n")}
	m, err := p.module()
	if err != nil {
		return nil, fmt.Errorf("ir: line %d: %w", p.pos+1, err)
	}
	return m, nil
}

type parser struct {
	lines []string
	pos   int
	m     *Module
}

func (p *parser) module() (*Module, error) {
	// First pass: create every symbol so initializers and bodies can
	// reference them in any order.
	if err := p.scanSymbols(); err != nil {
		return nil, err
	}
	// Second pass: parse initializers, aliasees, ctors, and bodies.
	p.pos = 0
	for p.pos < len(p.lines) {
		line := strings.TrimSpace(p.lines[p.pos])
		switch {
		case line == "" || strings.HasPrefix(line, ";"):
			p.pos++
		case strings.HasPrefix(line, "module ") || strings.HasPrefix(line, "struct "):
			p.pos++
		case strings.HasPrefix(line, "global "):
			if err := p.globalLine(line); err != nil {
				return nil, err
			}
			p.pos++
		case strings.HasPrefix(line, "alias "):
			if err := p.aliasLine(line); err != nil {
				return nil, err
			}
			p.pos++
		case strings.HasPrefix(line, "ctor ") || strings.HasPrefix(line, "dtor "):
			if err := p.initializerLine(line); err != nil {
				return nil, err
			}
			p.pos++
		case strings.HasPrefix(line, "declare "):
			p.pos++
		case strings.HasPrefix(line, "define "):
			if err := p.funcBody(line); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unexpected line %q", line)
		}
	}
	p.fixNameSeq()
	return p.m, nil
}

// scanSymbols creates the module, named structs, globals, aliases, and
// function signatures without touching bodies or initializers.
func (p *parser) scanSymbols() error {
	p.m = nil
	for p.pos = 0; p.pos < len(p.lines); p.pos++ {
		line := strings.TrimSpace(p.lines[p.pos])
		switch {
		case strings.HasPrefix(line, "module "):
			p.m = NewModule(strings.TrimSpace(strings.TrimPrefix(line, "module ")))
		case strings.HasPrefix(line, "struct "):
			if err := p.structLine(line); err != nil {
				return err
			}
		}
	}
	if p.m == nil {
		return fmt.Errorf("missing module header")
	}
	for p.pos = 0; p.pos < len(p.lines); p.pos++ {
		line := strings.TrimSpace(p.lines[p.pos])
		switch {
		case strings.HasPrefix(line, "global "):
			lx := lex(line)
			lx.word("global")
			name, err := lx.symbol()
			if err != nil {
				return err
			}
			lx.punct(":")
			ty, err := p.parseType(lx)
			if err != nil {
				return err
			}
			p.m.Globals = append(p.m.Globals, &Global{Name: name, Ty: ty})
		case strings.HasPrefix(line, "alias "):
			lx := lex(line)
			lx.word("alias")
			name, err := lx.symbol()
			if err != nil {
				return err
			}
			p.m.Aliases = append(p.m.Aliases, &Alias{Name: name})
		case strings.HasPrefix(line, "declare "), strings.HasPrefix(line, "define "):
			lx := lex(line)
			lx.next() // declare | define
			name, err := lx.symbol()
			if err != nil {
				return err
			}
			lx.punct(":")
			ty, err := p.parseType(lx)
			if err != nil {
				return err
			}
			sig, ok := ty.(*FuncType)
			if !ok {
				return fmt.Errorf("function %s has non-function type %s", name, ty)
			}
			f := &Func{Name: name, Sig: sig, Variadic: sig.Variadic, Parent: p.m}
			for i, pt := range sig.Params {
				f.Params = append(f.Params, &Param{Name: fmt.Sprintf("a%d", i), Ty: pt, Parent: f})
			}
			// Trailing modifiers; define bodies re-parse them but a
			// declare line is only seen here.
			for {
				if lx.accept("linkage") {
					lx.punct("=")
					w, _ := lx.ident()
					f.Linkage = parseLinkage(w)
					continue
				}
				if lx.accept("section") {
					lx.punct("=")
					s, _ := lx.str()
					f.Section = s
					continue
				}
				if lx.accept("attrs") {
					lx.punct("=")
					attrs, err := identList(lx)
					if err != nil {
						return err
					}
					f.Attrs = attrs
					continue
				}
				break
			}
			p.m.Funcs = append(p.m.Funcs, f)
		}
	}
	return nil
}

func (p *parser) structLine(line string) error {
	lx := lex(line)
	lx.word("struct")
	nameTok, err := lx.ident()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(nameTok, "struct.") {
		return fmt.Errorf("struct name %q lacks struct. prefix", nameTok)
	}
	lx.punct("=")
	body, err := p.parseType(lx)
	if err != nil {
		return err
	}
	anon, ok := body.(*StructType)
	if !ok {
		return fmt.Errorf("struct body is %s", body)
	}
	s := &StructType{Name: strings.TrimPrefix(nameTok, "struct."), Fields: anon.Fields}
	p.m.Structs = append(p.m.Structs, s)
	return nil
}

func (p *parser) globalLine(line string) error {
	lx := lex(line)
	lx.word("global")
	name, err := lx.symbol()
	if err != nil {
		return err
	}
	g := p.m.Global(name)
	lx.punct(":")
	if _, err := p.parseType(lx); err != nil {
		return err
	}
	if lx.accept("=") {
		init, err := p.parseOperand(lx, nil)
		if err != nil {
			return err
		}
		c, ok := init.(Constant)
		if !ok {
			return fmt.Errorf("global @%s initializer is not constant", name)
		}
		g.Init = c
	}
	for {
		switch {
		case lx.accept("const"):
			g.Const = true
		case lx.accept("linkage"):
			lx.punct("=")
			w, err := lx.ident()
			if err != nil {
				return err
			}
			g.Linkage = parseLinkage(w)
		case lx.accept("section"):
			lx.punct("=")
			s, err := lx.str()
			if err != nil {
				return err
			}
			g.Section = s
		default:
			return lx.end()
		}
	}
}

func (p *parser) aliasLine(line string) error {
	lx := lex(line)
	lx.word("alias")
	name, err := lx.symbol()
	if err != nil {
		return err
	}
	a := p.m.Alias(name)
	lx.punct("=")
	target, err := lx.symbol()
	if err != nil {
		return err
	}
	v := p.symbolValue(target)
	if v == nil {
		return fmt.Errorf("alias @%s: unknown symbol @%s", name, target)
	}
	a.Aliasee = v
	return lx.end()
}

func (p *parser) initializerLine(line string) error {
	lx := lex(line)
	kind, _ := lx.ident()
	prio, err := lx.integer()
	if err != nil {
		return err
	}
	name, err := lx.symbol()
	if err != nil {
		return err
	}
	f := p.m.Func(name)
	if f == nil {
		return fmt.Errorf("%s references unknown function @%s", kind, name)
	}
	init := Initializer{Priority: int(prio), Fn: f}
	if kind == "ctor" {
		p.m.Ctors = append(p.m.Ctors, init)
	} else {
		p.m.Dtors = append(p.m.Dtors, init)
	}
	return lx.end()
}

// funcBody parses a define header line and the block lines until '}'.
func (p *parser) funcBody(header string) error {
	lx := lex(header)
	lx.word("define")
	name, err := lx.symbol()
	if err != nil {
		return err
	}
	f := p.m.Func(name)
	lx.punct(":")
	if _, err := p.parseType(lx); err != nil {
		return err
	}
	lx.word("params")
	lx.punct("=")
	lx.punct("[")
	for i := 0; !lx.accept("]"); i++ {
		if i > 0 {
			lx.punct(",")
		}
		pn, err := lx.local()
		if err != nil {
			return err
		}
		if i < len(f.Params) {
			f.Params[i].Name = pn
		}
	}
	for {
		switch {
		case lx.accept("linkage"):
			lx.punct("=")
			w, _ := lx.ident()
			f.Linkage = parseLinkage(w)
		case lx.accept("section"):
			lx.punct("=")
			s, err := lx.str()
			if err != nil {
				return err
			}
			f.Section = s
		case lx.accept("attrs"):
			lx.punct("=")
			attrs, err := identList(lx)
			if err != nil {
				return err
			}
			f.Attrs = attrs
		case lx.accept("{"):
			goto body
		default:
			return fmt.Errorf("unexpected token in define header: %q", lx.peek())
		}
	}

body:
	start := p.pos + 1
	end := start
	depth := 1
	for ; end < len(p.lines); end++ {
		t := strings.TrimSpace(p.lines[end])
		if t == "}" {
			depth--
			if depth == 0 {
				break
			}
		}
	}
	if end == len(p.lines) {
		return fmt.Errorf("unterminated body for @%s", name)
	}

	// Block label pre-scan so branches can reference later blocks.
	blocks := map[string]*Block{}
	for i := start; i < end; i++ {
		t := strings.TrimSpace(p.lines[i])
		if strings.HasSuffix(t, ":") && !strings.Contains(t, " ") {
			b := &Block{Name: strings.TrimSuffix(t, ":"), Parent: f}
			f.Blocks = append(f.Blocks, b)
			blocks[b.Name] = b
		}
	}
	if len(f.Blocks) == 0 {
		return fmt.Errorf("function @%s has no blocks", name)
	}

	env := &funcEnv{f: f, locals: map[string]Value{}, blocks: blocks}
	for _, prm := range f.Params {
		env.locals[prm.Name] = prm
	}

	var cur *Block
	for p.pos = start; p.pos < end; p.pos++ {
		t := strings.TrimSpace(p.lines[p.pos])
		if t == "" || strings.HasPrefix(t, ";") {
			continue
		}
		if strings.HasSuffix(t, ":") && !strings.Contains(t, " ") {
			cur = blocks[strings.TrimSuffix(t, ":")]
			continue
		}
		if cur == nil {
			return fmt.Errorf("instruction before any block label in @%s", name)
		}
		in, err := p.instruction(t, env)
		if err != nil {
			return err
		}
		in.Parent = cur
		cur.Instrs = append(cur.Instrs, in)
		if in.Name != "" {
			env.locals[in.Name] = in
		}
	}
	for _, fix := range env.phiFixes {
		v, ok := env.locals[fix.name]
		if !ok {
			return fmt.Errorf("phi references undefined %%%s", fix.name)
		}
		fix.instr.Ops[fix.index] = v
	}
	p.pos = end + 1
	return nil
}

type funcEnv struct {
	f      *Func
	locals map[string]Value
	blocks map[string]*Block

	phiFixes []phiFix
}

type phiFix struct {
	instr *Instr
	index int
	name  string
}

// pendingValue is a placeholder for a phi operand named before its
// definition.
type pendingValue struct{ name string }

func (pendingValue) Type() Type        { return Void }
func (v pendingValue) operand() string { return "%" + v.name }

func parseLinkage(w string) Linkage {
	for i, n := range linkageNames {
		if n == w {
			return Linkage(i)
		}
	}
	return External
}

func (p *parser) symbolValue(name string) Value {
	if f := p.m.Func(name); f != nil {
		return f
	}
	if g := p.m.Global(name); g != nil {
		return g
	}
	if a := p.m.Alias(name); a != nil {
		return a
	}
	return nil
}

func (p *parser) fixNameSeq() {
	for _, f := range p.m.Funcs {
		for _, b := range f.Blocks {
			for _, in := range b.Instrs {
				if strings.HasPrefix(in.Name, "t") {
					if n, err := strconv.Atoi(in.Name[1:]); err == nil && n > p.m.nameSeq {
						p.m.nameSeq = n
					}
				}
			}
		}
	}
}

func identList(lx *lexer) ([]string, error) {
	if err := lx.punct("["); err != nil {
		return nil, err
	}
	var out []string
	for i := 0; !lx.accept("]"); i++ {
		if i > 0 {
			if err := lx.punct(","); err != nil {
				return nil, err
			}
		}
		w, err := lx.ident()
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
