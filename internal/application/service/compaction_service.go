package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/metrics"
	"blobkeeper/internal/platform/storage"
)

const compactionAwaitTimeout = 30 * time.Second

// CompactionService rewrites partitions whose deleted fraction exceeds the
// configured threshold. It runs on the master only; the copies go through
// the disk's writer queue so the single-writer discipline holds.
type CompactionService struct {
	cfg           config.Config
	index         domain.IndexRepository
	partitions    *storage.PartitionService
	partitionRepo domain.PartitionRepository
	fileStorage   *storage.FileStorage
	queue         *storage.WriterTaskQueue
	disks         *storage.DiskService
	metrics       *metrics.Metrics
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewCompactionService(
	cfg config.Config,
	index domain.IndexRepository,
	partitions *storage.PartitionService,
	partitionRepo domain.PartitionRepository,
	fileStorage *storage.FileStorage,
	queue *storage.WriterTaskQueue,
	disks *storage.DiskService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CompactionService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CompactionService{
		cfg:           cfg,
		index:         index,
		partitions:    partitions,
		partitionRepo: partitionRepo,
		fileStorage:   fileStorage,
		queue:         queue,
		disks:         disks,
		metrics:       m,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *CompactionService) Start() {
	go func() {
		ticker := time.NewTicker(time.Duration(s.cfg.CompactionPeriodMs) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce()
			}
		}
	}()
}

func (s *CompactionService) Stop() {
	s.cancel()
}

// RunOnce scans every disk for partitions worth rewriting.
func (s *CompactionService) RunOnce() {
	for _, disk := range s.disks.GetDisks() {
		for _, partition := range s.partitions.GetPartitions(disk) {
			if !s.worthCompacting(partition) {
				continue
			}
			if err := s.Compact(partition); err != nil {
				s.logger.Error("compaction failed",
					zap.Int("disk", partition.Disk),
					zap.Int("partition", partition.Id),
					zap.Error(err))
			}
		}
	}
}

func (s *CompactionService) worthCompacting(partition *domain.Partition) bool {
	if partition.Size == 0 {
		return false
	}
	deleted := s.index.SizeOfDeleted(partition)
	return float64(deleted)/float64(partition.Size) > s.cfg.CompactionDeletedRatio
}

// Compact copies every live entry of the partition into the disk's active
// partition, waits for the index swaps to land and removes the old file.
// Interruption is safe: the swap is re-run from the surviving entries.
func (s *CompactionService) Compact(partition *domain.Partition) error {
	disk := partition.Disk

	active, err := s.partitions.ActivePartition(disk)
	if err != nil {
		return err
	}
	if active.Id == partition.Id {
		// The partition still accepts writes: queue a rotation so the disk
		// writer seals it before the copies below are processed.
		s.queue.Offer(disk, &domain.StorageFile{Rotate: true})
	}

	live := s.index.LiveListByPartition(partition)
	s.logger.Info("compaction started",
		zap.Int("disk", disk),
		zap.Int("partition", partition.Id),
		zap.Int("live_entries", len(live)))

	for _, elt := range live {
		data, err := s.fileStorage.Read(elt.Disk, elt.Partition, elt.Offset, elt.Length)
		if err != nil {
			return err
		}
		storageFile := &domain.StorageFile{
			Id:         elt.Id,
			Type:       elt.Type,
			Data:       data,
			Length:     elt.Length,
			Metadata:   elt.Metadata,
			Compaction: true,
			Entry:      elt,
		}
		s.queue.Offer(disk, storageFile)
	}

	if err := s.awaitMoved(partition, live); err != nil {
		return err
	}

	if err := s.fileStorage.Delete(disk, partition.Id); err != nil {
		return err
	}
	if err := s.partitionRepo.Delete(disk, partition.Id); err != nil {
		return err
	}

	s.metrics.CompactionRuns.Inc()
	s.logger.Info("compaction finished",
		zap.Int("disk", disk),
		zap.Int("partition", partition.Id))
	return nil
}

func (s *CompactionService) awaitMoved(partition *domain.Partition, live []*domain.IndexElt) error {
	deadline := time.Now().Add(compactionAwaitTimeout)
	for {
		if s.allMoved(partition, live) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("compaction of partition %d on disk %d did not settle", partition.Id, partition.Disk)
		}
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (s *CompactionService) allMoved(partition *domain.Partition, live []*domain.IndexElt) bool {
	for _, elt := range live {
		current, ok := s.index.GetById(elt.Id, elt.Type)
		if !ok {
			return false
		}
		if current.Disk == partition.Disk && current.Partition == partition.Id {
			return false
		}
	}
	return true
}
