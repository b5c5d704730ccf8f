// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build 386 || arm || mips || mipsle || ppc || s390 || armbe || mipsbe || riscv32 || wasm

package internal

// 32-bit (and wasm) targets cannot hold a 16-bit tag above a pool-sized
// offset; refuse to build rather than mint untaggable pointers.
const AddrBits = addrBitsUnsupportedArchitecture // compile-time guard
