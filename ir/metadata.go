// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

// Metadata carries the per-instruction markers the transformation
// passes communicate through.
type Metadata struct {
	// NoInstrument excludes the instruction from dereference
	// instrumentation. The heapifier sets it on every access it
	// synthesizes.
	NoInstrument bool

	// NoSanitize excludes the instruction from sanitizer shadow
	// checking. Set on the inlined coverage update sequence so ASan
	// never recurses into it.
	NoSanitize bool

	// Tagged marks an allocation call the tagging pass rewrote, so
	// whole-program analyses recognize tagged allocation sites.
	Tagged bool

	// Access describes a struct field access: the containing struct
	// type name and the byte offset, the shape type-based alias
	// metadata provides.
	Access *StructAccess

	// Debug attaches source-variable info, carried across heapification
	// so debuggers still resolve the promoted storage.
	Debug *DebugInfo
}

// StructAccess is type-based access metadata: which named struct a
// memory operation touches and at which byte offset.
type StructAccess struct {
	TypeName string
	Offset   int
}

// DebugInfo is the slice of debug metadata the passes preserve: the
// source variable name and its declaration expression.
type DebugInfo struct {
	Variable string
	Expr     string
}
