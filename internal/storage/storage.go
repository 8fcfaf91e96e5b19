// Package storage reports disk capacity of the recordings root so operators
// can tell how much recording headroom the device has left.
package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Usage describes the filesystem holding the recordings root, in gigabytes.
type Usage struct {
	TotalGB     float64 `json:"total"`
	FreeGB      float64 `json:"free"`
	UsedGB      float64 `json:"used"`
	PercentUsed float64 `json:"percent_used"`
}

const gib = 1 << 30

// Read returns usage for the filesystem containing path.
func Read(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, fmt.Errorf("storage: statfs %s: %w", path, err)
	}

	total := float64(st.Blocks) * float64(st.Frsize) / gib
	free := float64(st.Bfree) * float64(st.Frsize) / gib
	used := total - free

	var percent float64
	if total > 0 {
		percent = used / total * 100
	}

	return Usage{
		TotalGB:     total,
		FreeGB:      free,
		UsedGB:      used,
		PercentUsed: percent,
	}, nil
}
