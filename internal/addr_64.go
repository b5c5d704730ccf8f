// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build amd64 || arm64 || loong64 || mips64 || mips64le || ppc64 || ppc64le || riscv64 || s390x || sparc64

package internal

// AddrBits is the number of usable virtual-address bits the tagged pool
// layout relies on. Linux on these architectures exposes at least a
// 48-bit user address space.
const AddrBits = 48
