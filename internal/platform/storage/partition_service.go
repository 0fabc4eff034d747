package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/metrics"
	"blobkeeper/internal/platform/repository"
)

// PartitionService is the per-disk partition registry. Partition ids are
// dense and monotonically increasing; the active partition is the highest
// id. Rotation is performed only from the disk's writer, so it is atomic
// with respect to appends.
type PartitionService struct {
	mu      sync.Mutex
	active  map[int]*domain.Partition
	cfg     config.Config
	repo    domain.PartitionRepository
	storage *FileStorage
	files   *FileListService
	utils   *repository.IndexUtils
	disks   *DiskService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewPartitionService(
	cfg config.Config,
	repo domain.PartitionRepository,
	storage *FileStorage,
	files *FileListService,
	utils *repository.IndexUtils,
	disks *DiskService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PartitionService {
	return &PartitionService{
		active:  make(map[int]*domain.Partition),
		cfg:     cfg,
		repo:    repo,
		storage: storage,
		files:   files,
		utils:   utils,
		disks:   disks,
		metrics: m,
		logger:  logger,
	}
}

// Start discovers partition files, reconciles them with the partition rows
// and selects the active partition of every disk.
func (s *PartitionService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, disk := range s.disks.GetDisks() {
		if _, err := s.loadDisk(disk); err != nil {
			return err
		}
	}
	return nil
}

func (s *PartitionService) loadDisk(disk int) (*domain.Partition, error) {
	ids, err := s.files.GetPartitionIds(disk)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := s.repo.Get(disk, id); ok {
			continue
		}
		size, err := s.storage.Size(disk, id)
		if err != nil {
			return nil, err
		}
		partition := &domain.Partition{Disk: disk, Id: id, Size: size}
		if err := s.repo.Add(partition); err != nil {
			return nil, err
		}
		s.logger.Info("discovered partition file",
			zap.Int("disk", disk),
			zap.Int("partition", id),
			zap.Int64("size", size))
	}

	rows := s.repo.GetPartitions(disk)
	if len(rows) == 0 {
		return s.create(disk, 0)
	}

	active := rows[len(rows)-1]
	s.active[disk] = active
	return active, nil
}

// ActivePartition returns the partition currently accepting appends.
func (s *PartitionService) ActivePartition(disk int) (*domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(disk)
}

// ActivePartitionFor returns the partition an append of the given length
// must go to, rotating when the write would cross the size limit.
func (s *PartitionService) ActivePartitionFor(disk int, length int64) (*domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeLocked(disk)
	if err != nil {
		return nil, err
	}
	if active.Size > 0 && active.Size+length > s.cfg.MaxPartitionSize {
		return s.rotateLocked(disk, active)
	}
	return active.Copy(), nil
}

// AddSize accounts an append against the active partition.
func (s *PartitionService) AddSize(disk int, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeLocked(disk)
	if err != nil {
		return err
	}
	active.Size += delta
	return s.repo.Update(active)
}

// Rotate seals the active partition and opens the next one.
func (s *PartitionService) Rotate(disk int) (*domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.activeLocked(disk)
	if err != nil {
		return nil, err
	}
	return s.rotateLocked(disk, active)
}

// EnsurePartition registers a partition the replication or repair path
// refers to, advancing the active pointer when it is ahead of it.
func (s *PartitionService) EnsurePartition(disk, id int) (*domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if partition, ok := s.repo.Get(disk, id); ok {
		return partition, nil
	}

	partition := domain.NewPartition(disk, id)
	if err := s.storage.Create(disk, id); err != nil {
		return nil, err
	}
	if err := s.repo.Add(partition); err != nil {
		return nil, err
	}
	if active, ok := s.active[disk]; !ok || id > active.Id {
		s.active[disk] = partition
	}
	return partition.Copy(), nil
}

// RecordWrite grows a partition row to cover a replicated write.
func (s *PartitionService) RecordWrite(disk, id int, end int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	partition, ok := s.repo.Get(disk, id)
	if !ok {
		return fmt.Errorf("partition %d on disk %d is not registered", id, disk)
	}
	if end <= partition.Size {
		return nil
	}
	partition.Size = end
	if active, ok := s.active[disk]; ok && active.Id == id {
		active.Size = end
	}
	return s.repo.Update(partition)
}

func (s *PartitionService) GetPartitions(disk int) []*domain.Partition {
	return s.repo.GetPartitions(disk)
}

func (s *PartitionService) activeLocked(disk int) (*domain.Partition, error) {
	if active, ok := s.active[disk]; ok {
		return active, nil
	}
	return s.loadDisk(disk)
}

func (s *PartitionService) rotateLocked(disk int, active *domain.Partition) (*domain.Partition, error) {
	if err := s.seal(active); err != nil {
		return nil, err
	}
	s.metrics.PartitionRotations.Inc()
	return s.create(disk, active.Id+1)
}

// seal freezes a partition: final size, file checksum and merkle tree are
// written to its row.
func (s *PartitionService) seal(partition *domain.Partition) error {
	size, err := s.storage.Size(partition.Disk, partition.Id)
	if err != nil {
		return err
	}
	crc, err := s.storage.FileCrc(partition.Disk, partition.Id)
	if err != nil {
		return err
	}
	tree, err := s.utils.BuildMerkleTree(partition)
	if err != nil {
		return err
	}

	partition.Size = size
	partition.Crc = crc
	partition.Tree = tree
	if err := s.repo.UpdateTree(partition); err != nil {
		return err
	}

	if minId, maxId, ok := s.utils.MinMax(partition); ok {
		s.logger.Info("partition sealed",
			zap.Int("disk", partition.Disk),
			zap.Int("partition", partition.Id),
			zap.Int64("size", size),
			zap.Int64("min_id", minId),
			zap.Int64("max_id", maxId))
	}
	return nil
}

func (s *PartitionService) create(disk, id int) (*domain.Partition, error) {
	partition := domain.NewPartition(disk, id)
	if err := s.storage.Create(disk, id); err != nil {
		return nil, err
	}
	if err := s.repo.Add(partition); err != nil {
		return nil, err
	}
	s.active[disk] = partition
	s.logger.Info("opened partition",
		zap.Int("disk", disk),
		zap.Int("partition", id))
	return partition.Copy(), nil
}
