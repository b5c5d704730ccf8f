// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package cover

import (
	"errors"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// envSharedMapID carries the SysV shared-memory id of the fuzzer's
// coverage bitmap, in the convention AFL established.
const envSharedMapID = "__AFL_SHM_ID"

var errNoSharedMap = errors.New("cover: no shared map segment")

// attachSharedMap maps the fuzzer-provided SysV segment into the
// process. Absent or malformed environment means the target runs
// outside a fuzzer; callers fall back to a private map.
func attachSharedMap() ([]byte, error) {
	raw, ok := os.LookupEnv(envSharedMapID)
	if !ok {
		return nil, errNoSharedMap
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errNoSharedMap
	}
	seg, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, err
	}
	return seg, nil
}
