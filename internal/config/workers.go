package config

import (
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
)

// defaultWorkerCount mirrors the logical CPU count, the default width for
// the Metadata Extractor and Transcoder Pool worker pools (spec §4.D, §4.G).
// The count comes from gopsutil, with runtime.NumCPU as the fallback when
// gopsutil fails; cgroup CPU quotas are not taken into account.
func defaultWorkerCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
