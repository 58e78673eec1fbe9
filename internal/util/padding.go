// Package util contains internal helpers shared by cachekit packages.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
const CacheLineSize = 64

// Counter is an atomic int64 padded to one cache line so that hot
// counters updated from different goroutines do not share a line.
type Counter struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Ratio returns part/(part+rest), or 0 when both are zero.
func Ratio(part, rest int64) float64 {
	total := part + rest
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

var _ [CacheLineSize - int(unsafe.Sizeof(Counter{}))]byte
