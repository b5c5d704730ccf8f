// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pass implements the build-time transformation pipeline:
//
//	Collect     log every allocator entry point and every global, alias,
//	            or struct field holding one
//	TagAlloc    rewrite allocation calls to their tagged equivalents with
//	            fresh compile-time tag constants
//	Heapify     relocate eligible fixed-size stack and global arrays onto
//	            the tagged allocator
//	Instrument  emit the tag-extract-hash-update sequence at every
//	            interesting memory access
//
// Passes run per translation unit, in the order above. The tag log and
// the special-case wrapper list are the artifacts that cross translation
// units.
package pass

import (
	"os"

	"go.uber.org/zap"

	"code.hybscloud.com/fuzzalloc/ir"
)

// Pass is one module transformation.
type Pass interface {
	Name() string
	Run(m *ir.Module) error
}

// Runtime symbol names the passes wire calls to.
const (
	SymMalloc        = "malloc"
	SymCalloc        = "calloc"
	SymRealloc       = "realloc"
	SymFree          = "free"
	SymTaggedMalloc  = "tagged_malloc"
	SymTaggedCalloc  = "tagged_calloc"
	SymTaggedRealloc = "tagged_realloc"
	SymOnAccess      = "on_access"
	SymUseSitePC     = "use_site_pc"
	SymAFLArea       = "__afl_area_ptr"
	SymCountersInit  = "__sanitizer_cov_8bit_counters_init"
)

// RuntimeSection marks functions that belong to the instrumentation
// runtime itself; the passes never instrument them.
const RuntimeSection = "fuzzalloc"

// taggedName maps an allocator entry point to its tagged counterpart.
var taggedName = map[string]string{
	SymMalloc:  SymTaggedMalloc,
	SymCalloc:  SymTaggedCalloc,
	SymRealloc: SymTaggedRealloc,
}

var (
	bytePtr = ir.Ptr(ir.I8)

	mallocSig  = &ir.FuncType{Ret: bytePtr, Params: []ir.Type{ir.I64}}
	callocSig  = &ir.FuncType{Ret: bytePtr, Params: []ir.Type{ir.I64, ir.I64}}
	reallocSig = &ir.FuncType{Ret: bytePtr, Params: []ir.Type{bytePtr, ir.I64}}
	freeSig    = &ir.FuncType{Ret: ir.Void, Params: []ir.Type{bytePtr}}
)

// taggedSig prepends the i16 tag parameter to an allocator signature.
func taggedSig(sig *ir.FuncType) *ir.FuncType {
	return &ir.FuncType{
		Ret:      sig.Ret,
		Params:   append([]ir.Type{ir.I16}, sig.Params...),
		Variadic: sig.Variadic,
	}
}

// declareRuntime ensures the tagged allocator entry points exist in m
// and returns them keyed by base name.
func declareRuntime(m *ir.Module) map[string]*ir.Func {
	out := map[string]*ir.Func{
		SymMalloc:  m.DeclareFunc(SymMalloc, mallocSig),
		SymCalloc:  m.DeclareFunc(SymCalloc, callocSig),
		SymRealloc: m.DeclareFunc(SymRealloc, reallocSig),
		SymFree:    m.DeclareFunc(SymFree, freeSig),

		SymTaggedMalloc:  m.DeclareFunc(SymTaggedMalloc, taggedSig(mallocSig)),
		SymTaggedCalloc:  m.DeclareFunc(SymTaggedCalloc, taggedSig(callocSig)),
		SymTaggedRealloc: m.DeclareFunc(SymTaggedRealloc, taggedSig(reallocSig)),
	}
	for _, f := range out {
		f.Section = RuntimeSection
	}
	return out
}

// Logger returns the diagnostics logger: a development logger when
// FUZZALLOC_DEBUG is set, otherwise a nop.
func Logger() *zap.Logger {
	if os.Getenv("FUZZALLOC_DEBUG") == "" {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// isRuntimeHelper reports whether f belongs to the allocator or
// instrumentation runtime and must stay untouched.
func isRuntimeHelper(f *ir.Func) bool {
	if f.Section == RuntimeSection {
		return true
	}
	switch f.Name {
	case SymMalloc, SymCalloc, SymRealloc, SymFree,
		SymTaggedMalloc, SymTaggedCalloc, SymTaggedRealloc,
		SymOnAccess, SymUseSitePC:
		return true
	}
	return false
}
