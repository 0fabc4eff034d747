package storage

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"blobkeeper/internal/platform/config"
)

// DiskService maps disk numbers to their root directories and tracks which
// of them are currently writable.
type DiskService struct {
	mu       sync.RWMutex
	roots    []string
	writable map[int]bool
	logger   *zap.Logger
}

func NewDiskService(cfg config.Config, logger *zap.Logger) *DiskService {
	ds := &DiskService{
		roots:    cfg.DataDirectories,
		writable: make(map[int]bool),
		logger:   logger,
	}
	ds.Refresh()
	return ds
}

func (ds *DiskService) GetDisks() []int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	disks := make([]int, 0, len(ds.roots))
	for disk := range ds.roots {
		disks = append(disks, disk)
	}
	return disks
}

func (ds *DiskService) Root(disk int) (string, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if disk < 0 || disk >= len(ds.roots) {
		return "", fmt.Errorf("unknown disk %d", disk)
	}
	return ds.roots[disk], nil
}

func (ds *DiskService) IsWritable(disk int) bool {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.writable[disk]
}

func (ds *DiskService) SetWritable(disk int, writable bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.writable[disk] = writable
}

// DiskForId picks the disk a blob id is written to.
func (ds *DiskService) DiskForId(id int64) (int, error) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	if len(ds.roots) == 0 {
		return 0, fmt.Errorf("no disks configured")
	}
	return int(uint64(id) % uint64(len(ds.roots))), nil
}

// Refresh re-stats every disk root, creating missing directories and
// updating the writable flags.
func (ds *DiskService) Refresh() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	for disk, root := range ds.roots {
		if err := os.MkdirAll(root, 0755); err != nil {
			ds.logger.Error("disk root is not usable",
				zap.Int("disk", disk),
				zap.String("root", root),
				zap.Error(err))
			ds.writable[disk] = false
			continue
		}
		ds.writable[disk] = true
	}
}
