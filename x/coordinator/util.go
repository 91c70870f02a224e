package coordinator

import "strconv"

func uint64String(v uint64) string {
	return strconv.FormatUint(v, 10)
}
