package storage

import (
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"blobkeeper/internal/platform/config"
)

var crcTable = crc64.MakeTable(crc64.ECMA)

// Crc computes the checksum stored on index entries and partition rows.
func Crc(data []byte) uint64 {
	return crc64.Checksum(data, crcTable)
}

// FileStorage owns the partition file handles. The write handle of a
// partition is used only by its disk's writer; readers open independent
// read-only handles.
type FileStorage struct {
	mu      sync.Mutex
	handles map[handleKey]*os.File
	files   *FileListService
	cfg     config.Config
	logger  *zap.Logger
}

type handleKey struct {
	disk      int
	partition int
}

func NewFileStorage(files *FileListService, cfg config.Config, logger *zap.Logger) *FileStorage {
	return &FileStorage{
		handles: make(map[handleKey]*os.File),
		files:   files,
		cfg:     cfg,
		logger:  logger,
	}
}

// Create makes sure the partition file exists.
func (s *FileStorage) Create(disk, partition int) error {
	_, err := s.handle(disk, partition)
	return err
}

// Append writes data at the end of the partition file and returns the
// offset it landed on together with the payload checksum.
func (s *FileStorage) Append(disk, partition int, data []byte) (int64, uint64, error) {
	fd, err := s.handle(disk, partition)
	if err != nil {
		return 0, 0, err
	}

	offset, err := fd.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, err
	}
	if _, err := fd.Write(data); err != nil {
		return 0, 0, fmt.Errorf("append to partition %d on disk %d: %w", partition, disk, err)
	}
	if s.cfg.SyncOnWrite {
		if err := fd.Sync(); err != nil {
			return 0, 0, err
		}
	}
	return offset, Crc(data), nil
}

// WriteAt places replicated payload bytes at the offset the master assigned.
func (s *FileStorage) WriteAt(disk, partition int, offset int64, data []byte) error {
	fd, err := s.handle(disk, partition)
	if err != nil {
		return err
	}
	if _, err := fd.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write replica to partition %d on disk %d: %w", partition, disk, err)
	}
	if s.cfg.SyncOnWrite {
		return fd.Sync()
	}
	return nil
}

// Read returns length payload bytes at offset using an independent
// read-only handle.
func (s *FileStorage) Read(disk, partition int, offset, length int64) ([]byte, error) {
	name, err := s.files.PartitionFilePath(disk, partition)
	if err != nil {
		return nil, err
	}
	fd, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	data := make([]byte, length)
	if _, err := fd.ReadAt(data, offset); err != nil {
		return nil, fmt.Errorf("read partition %d on disk %d at %d: %w", partition, disk, offset, err)
	}
	return data, nil
}

func (s *FileStorage) Size(disk, partition int) (int64, error) {
	name, err := s.files.PartitionFilePath(disk, partition)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

// FileCrc checksums the whole partition file, streamed.
func (s *FileStorage) FileCrc(disk, partition int) (uint64, error) {
	name, err := s.files.PartitionFilePath(disk, partition)
	if err != nil {
		return 0, err
	}
	fd, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer fd.Close()

	hasher := crc64.New(crcTable)
	if _, err := io.Copy(hasher, fd); err != nil {
		return 0, err
	}
	return hasher.Sum64(), nil
}

// Delete closes the write handle and removes the partition file.
func (s *FileStorage) Delete(disk, partition int) error {
	s.mu.Lock()
	key := handleKey{disk: disk, partition: partition}
	if fd, ok := s.handles[key]; ok {
		fd.Close()
		delete(s.handles, key)
	}
	s.mu.Unlock()

	return s.files.DeleteFile(disk, partition)
}

func (s *FileStorage) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, fd := range s.handles {
		if err := fd.Close(); err != nil {
			s.logger.Warn("close partition file",
				zap.Int("disk", key.disk),
				zap.Int("partition", key.partition),
				zap.Error(err))
		}
		delete(s.handles, key)
	}
}

func (s *FileStorage) handle(disk, partition int) (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := handleKey{disk: disk, partition: partition}
	if fd, ok := s.handles[key]; ok {
		return fd, nil
	}

	name, err := s.files.PartitionFilePath(disk, partition)
	if err != nil {
		return nil, err
	}
	fd, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	s.handles[key] = fd
	return fd, nil
}
