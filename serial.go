// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package op

import (
	"strconv"

	"code.hybscloud.com/atomix"
)

// Serial is a monotonically increasing pipe identifier.
// Each call to NewPipe assigns the next serial value.
type Serial = uint32

// counter is the global monotonic counter for pipe serials.
var counter atomix.Uint32

// nextSerial returns the next monotonically increasing serial.
func nextSerial() Serial {
	return counter.Add(1)
}

// sequence allocates correlation ids "name:n". Counters are per operation
// name, start at 1 and are never reused. Callers serialize access.
type sequence map[string]uint64

func (s sequence) next(name string) string {
	n := s[name] + 1
	s[name] = n
	return name + ":" + strconv.FormatUint(n, 10)
}
