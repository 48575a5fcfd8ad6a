package storage

import (
	"github.com/shirou/gopsutil/v3/disk"
)

// minFreeDiskBytes is the host-wide floor below which the façade refuses
// new writes regardless of any individual account's remaining quota.
// Grounded in the teacher's internal/agent/monitor.go disk-pressure
// check, generalized from an agent-side pre-flight guard into a
// server-side admission check.
const minFreeDiskBytes = 64 << 20 // 64MB

// diskGate reports whether the host has enough free space at path to
// accept another write. It is deliberately conservative: any stat error
// is treated as "don't know, so don't block" rather than refusing writes
// just because disk introspection is unsupported on this platform.
type diskGate struct {
	path string
}

func newDiskGate(path string) *diskGate {
	return &diskGate{path: path}
}

// hasHeadroom returns true if the write should be allowed to proceed.
func (g *diskGate) hasHeadroom() bool {
	usage, err := disk.Usage(g.path)
	if err != nil {
		return true
	}
	return usage.Free >= minFreeDiskBytes
}
