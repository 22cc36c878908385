package orchestrator

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// DiskStatus reports the free space backing a download directory.
type DiskStatus struct {
	FreeGB float64 `json:"freeGB"`
	Drive  string  `json:"drive"`
}

// probeDisk measures free space for the volume holding path.
func probeDisk(path string) (DiskStatus, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return DiskStatus{}, fmt.Errorf("disk usage for %s: %w", path, err)
	}
	return DiskStatus{
		FreeGB: float64(usage.Free) / (1024 * 1024 * 1024),
		Drive:  usage.Path,
	}, nil
}
