package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/merkle"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/metrics"
	"blobkeeper/internal/platform/repository"
	"blobkeeper/internal/platform/storage"
)

// RepairService is the anti-entropy engine: it compares local partition
// trees with the master's and pulls the diverging ranges through the
// replication path. Per-disk repair is serialized; disks repair in
// parallel.
type RepairService struct {
	cfg           config.Config
	index         domain.IndexRepository
	partitions    *storage.PartitionService
	partitionRepo domain.PartitionRepository
	fileStorage   *storage.FileStorage
	cluster       domain.ClusterMembership
	client        domain.ClusterClient
	queue         *storage.ReplicationQueue
	disks         *storage.DiskService
	utils         *repository.IndexUtils
	metrics       *metrics.Metrics
	logger        *zap.Logger

	mu        sync.Mutex
	diskLocks map[int]*sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewRepairService(
	cfg config.Config,
	index domain.IndexRepository,
	partitions *storage.PartitionService,
	partitionRepo domain.PartitionRepository,
	fileStorage *storage.FileStorage,
	cluster domain.ClusterMembership,
	client domain.ClusterClient,
	queue *storage.ReplicationQueue,
	disks *storage.DiskService,
	utils *repository.IndexUtils,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RepairService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RepairService{
		cfg:           cfg,
		index:         index,
		partitions:    partitions,
		partitionRepo: partitionRepo,
		fileStorage:   fileStorage,
		cluster:       cluster,
		client:        client,
		queue:         queue,
		disks:         disks,
		utils:         utils,
		metrics:       m,
		logger:        logger,
		diskLocks:     make(map[int]*sync.Mutex),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start schedules periodic repair of every disk.
func (s *RepairService) Start() {
	go func() {
		ticker := time.NewTicker(time.Duration(s.cfg.RepairPeriodMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.RepairAll()
			}
		}
	}()
}

func (s *RepairService) Stop() {
	s.cancel()
}

// RepairAll repairs every disk, each on its own goroutine.
func (s *RepairService) RepairAll() {
	var g errgroup.Group
	for _, disk := range s.disks.GetDisks() {
		disk := disk
		g.Go(func() error {
			s.Repair(disk)
			return nil
		})
	}
	g.Wait()
}

// Repair reconciles every partition of one disk against the master. A
// failed partition never aborts the cycle.
func (s *RepairService) Repair(disk int) {
	lock := s.diskLock(disk)
	lock.Lock()
	defer lock.Unlock()

	master := s.cluster.Master()
	self := s.cluster.Self()
	if master == nil || self == nil {
		s.logger.Warn("no master known, skipping repair", zap.Int("disk", disk))
		return
	}
	if master.Id == self.Id {
		return
	}

	active, err := s.partitions.ActivePartition(disk)
	if err != nil {
		s.logger.Error("can't resolve active partition", zap.Int("disk", disk), zap.Error(err))
		return
	}

	for _, partition := range s.partitions.GetPartitions(disk) {
		if err := s.repairPartition(partition, active, *master); err != nil {
			s.logger.Warn("partition repair skipped",
				zap.Int("disk", disk),
				zap.Int("partition", partition.Id),
				zap.Error(err))
		}
	}

	s.metrics.RepairCycles.Inc()
}

func (s *RepairService) repairPartition(partition, active *domain.Partition, master domain.Node) error {
	localTree, err := s.localTree(partition, active)
	if err != nil {
		return err
	}

	masterInfo, err := s.client.GetMerkleTreeInfo(master, partition.Disk, partition.Id)
	if err != nil {
		return err
	}

	if partition.Id == active.Id {
		// The active partition still receives writes; material repair is
		// deferred to the next rotation.
		if !localTree.Equal(masterInfo.Tree) {
			s.logger.Info("active partition diverges, repair deferred",
				zap.Int("disk", partition.Disk),
				zap.Int("partition", partition.Id))
		}
		return nil
	}

	ranges, err := merkle.Difference(masterInfo.Tree, localTree)
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return s.persistTree(partition, localTree)
	}

	s.logger.Info("partition diverges from master",
		zap.Int("disk", partition.Disk),
		zap.Int("partition", partition.Id),
		zap.Int("ranges", len(ranges)))

	files, err := s.client.FetchRange(master, partition.Disk, partition.Id, ranges)
	if err != nil {
		return err
	}
	for _, file := range files {
		s.queue.Offer(file)
	}
	s.metrics.RepairRanges.Add(float64(len(ranges)))

	// After repair the partition converges on the master's content, so the
	// master's tree short-circuits future comparisons.
	return s.persistTree(partition, masterInfo.Tree)
}

// TreeInfo is the serving side of the tree exchange.
func (s *RepairService) TreeInfo(disk, partitionId int) (*domain.MerkleTreeInfo, error) {
	partition, ok := s.partitionRepo.Get(disk, partitionId)
	if !ok {
		return nil, domain.ErrNotFound
	}

	active, err := s.partitions.ActivePartition(disk)
	if err != nil {
		return nil, err
	}
	tree, err := s.localTree(partition, active)
	if err != nil {
		return nil, err
	}
	return &domain.MerkleTreeInfo{
		Disk:      disk,
		Partition: partitionId,
		Tree:      tree,
	}, nil
}

// Difference reports how the local partition diverges from the master's
// copy. On the master itself the difference is empty by definition.
func (s *RepairService) Difference(disk, partitionId int) (*domain.DifferenceInfo, error) {
	info := &domain.DifferenceInfo{Disk: disk, Partition: partitionId}

	if s.cluster.IsMaster() {
		return info, nil
	}
	master := s.cluster.Master()
	if master == nil {
		return nil, domain.ErrPeerUnavailable
	}

	local, err := s.TreeInfo(disk, partitionId)
	if err != nil {
		return nil, err
	}
	masterInfo, err := s.client.GetMerkleTreeInfo(*master, disk, partitionId)
	if err != nil {
		return nil, err
	}

	ranges, err := merkle.Difference(masterInfo.Tree, local.Tree)
	if err != nil {
		return nil, err
	}
	info.Ranges = ranges
	return info, nil
}

// FetchRange returns the live entries and payload bytes of the requested
// offset ranges, the bulk pull side of repair.
func (s *RepairService) FetchRange(disk, partitionId int, ranges []merkle.Range) ([]domain.ReplicationFile, error) {
	partition, ok := s.partitionRepo.Get(disk, partitionId)
	if !ok {
		return nil, domain.ErrNotFound
	}

	var files []domain.ReplicationFile
	for _, elt := range s.index.LiveListByPartition(partition) {
		if !offsetInRanges(elt.Offset, ranges) {
			continue
		}
		data, err := s.fileStorage.Read(elt.Disk, elt.Partition, elt.Offset, elt.Length)
		if err != nil {
			return nil, err
		}
		files = append(files, domain.ReplicationFile{Entry: *elt, Data: data})
	}
	return files, nil
}

func (s *RepairService) localTree(partition, active *domain.Partition) (*merkle.Tree, error) {
	if partition.Id != active.Id && partition.Tree != nil {
		return partition.Tree, nil
	}
	return s.utils.BuildMerkleTree(partition)
}

func (s *RepairService) persistTree(partition *domain.Partition, tree *merkle.Tree) error {
	updated := partition.Copy()
	updated.Tree = tree
	if err := s.partitionRepo.UpdateTree(updated); err != nil {
		return err
	}
	return nil
}

func (s *RepairService) diskLock(disk int) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.diskLocks[disk]
	if !ok {
		lock = &sync.Mutex{}
		s.diskLocks[disk] = lock
	}
	return lock
}

func offsetInRanges(offset int64, ranges []merkle.Range) bool {
	for _, r := range ranges {
		if r.Contains(offset) {
			return true
		}
	}
	return false
}

// IsPeerUnavailable reports whether a repair error means the peer should be
// retried next cycle.
func IsPeerUnavailable(err error) bool {
	return errors.Is(err, domain.ErrPeerUnavailable)
}
