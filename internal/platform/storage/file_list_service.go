package storage

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const partitionFileSuffix = ".blob"

// FileListService resolves and discovers partition files on disk roots.
// Files are named <root>/<partition-id>.blob.
type FileListService struct {
	disks  *DiskService
	logger *zap.Logger
}

func NewFileListService(disks *DiskService, logger *zap.Logger) *FileListService {
	return &FileListService{
		disks:  disks,
		logger: logger,
	}
}

func (s *FileListService) PartitionFilePath(disk, partition int) (string, error) {
	root, err := s.disks.Root(disk)
	if err != nil {
		return "", err
	}
	return path.Join(root, strconv.Itoa(partition)+partitionFileSuffix), nil
}

// GetPartitionIds globs a disk root for partition files and returns their
// ids in ascending order.
func (s *FileListService) GetPartitionIds(disk int) ([]int, error) {
	root, err := s.disks.Root(disk)
	if err != nil {
		return nil, err
	}

	matches, err := filepath.Glob(path.Join(root, "*"+partitionFileSuffix))
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, match := range matches {
		base := strings.TrimSuffix(filepath.Base(match), partitionFileSuffix)
		id, err := strconv.Atoi(base)
		if err != nil {
			s.logger.Warn("skipping unrecognized blob file", zap.String("file", match))
			continue
		}
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (s *FileListService) DeleteFile(disk, partition int) error {
	name, err := s.PartitionFilePath(disk, partition)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
