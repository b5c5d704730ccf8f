// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ir

// Data layout for a 64-bit target: pointers are 8 bytes, integers round
// up to whole bytes, aggregates pad fields to natural alignment. The
// transformation passes need byte sizes for heapified allocations and
// byte-offset to element-index conversion for struct access metadata.

// SizeOf returns the byte size of t.
func SizeOf(t Type) int {
	switch u := t.(type) {
	case VoidType:
		return 0
	case IntType:
		return (u.Bits + 7) / 8
	case PtrType:
		return 8
	case ArrayType:
		return u.Len * SizeOf(u.Elem)
	case *StructType:
		size := 0
		for _, f := range u.Fields {
			a := AlignOf(f)
			size = (size + a - 1) &^ (a - 1)
			size += SizeOf(f)
		}
		a := AlignOf(t)
		return (size + a - 1) &^ (a - 1)
	case *FuncType:
		return 8
	}
	return 0
}

// AlignOf returns the natural alignment of t.
func AlignOf(t Type) int {
	switch u := t.(type) {
	case IntType:
		switch {
		case u.Bits <= 8:
			return 1
		case u.Bits <= 16:
			return 2
		case u.Bits <= 32:
			return 4
		default:
			return 8
		}
	case PtrType, *FuncType:
		return 8
	case ArrayType:
		return AlignOf(u.Elem)
	case *StructType:
		a := 1
		for _, f := range u.Fields {
			if fa := AlignOf(f); fa > a {
				a = fa
			}
		}
		return a
	}
	return 1
}

// FieldOffset returns the byte offset of field i of s.
func FieldOffset(s *StructType, i int) int {
	size := 0
	for j := 0; j <= i; j++ {
		a := AlignOf(s.Fields[j])
		size = (size + a - 1) &^ (a - 1)
		if j == i {
			return size
		}
		size += SizeOf(s.Fields[j])
	}
	return size
}

// OffsetToIndex converts a byte offset within s to the element index it
// falls in, recursing through nested structs and arrays. It returns the
// path of indices from the outermost struct inward and true on success;
// an offset landing in padding yields false.
func OffsetToIndex(s *StructType, offset int) (path []int, ok bool) {
	size := 0
	for i, f := range s.Fields {
		a := AlignOf(f)
		size = (size + a - 1) &^ (a - 1)
		end := size + SizeOf(f)
		if offset < size {
			return nil, false // padding
		}
		if offset < end {
			inner := offset - size
			switch u := f.(type) {
			case *StructType:
				sub, ok := OffsetToIndex(u, inner)
				if !ok {
					return nil, false
				}
				return append([]int{i}, sub...), true
			case ArrayType:
				es := SizeOf(u.Elem)
				if es == 0 {
					return []int{i}, true
				}
				if ns, isStruct := u.Elem.(*StructType); isStruct {
					sub, ok := OffsetToIndex(ns, inner%es)
					if !ok {
						return nil, false
					}
					return append([]int{i, inner / es}, sub...), true
				}
				return []int{i, inner / es}, true
			default:
				if inner != 0 {
					return nil, false
				}
				return []int{i}, true
			}
		}
		size = end
	}
	return nil, false
}
