// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package cover

import "errors"

// SysV shared-memory attachment is only wired on Linux; other platforms
// always run with a private map.
func attachSharedMap() ([]byte, error) {
	return nil, errors.New("cover: shared map attachment unsupported")
}
