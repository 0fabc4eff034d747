package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/metrics"
	"blobkeeper/internal/platform/storage"
)

const stopPollInterval = 500 * time.Millisecond

var stopGracePeriod = 2 * time.Second

// FileWriterService hosts the disk writer tasks and the node's single
// replication writer. Only one writer task ever touches a given disk's
// partition files.
type FileWriterService struct {
	cfg              config.Config
	queue            *storage.WriterTaskQueue
	replicationQueue *storage.ReplicationQueue
	fileStorage      *storage.FileStorage
	diskService      *storage.DiskService
	partitions       *storage.PartitionService
	index            domain.IndexRepository
	cluster          domain.ClusterMembership
	replication      domain.ReplicationSender
	compaction       *CompactionService
	metrics          *metrics.Metrics
	logger           *zap.Logger

	// repairer is assembled after construction to break the
	// writer <-> repair <-> membership cycle.
	repairer domain.Repairer

	mu             sync.Mutex
	disksToWriters map[int]bool
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewFileWriterService(
	cfg config.Config,
	queue *storage.WriterTaskQueue,
	replicationQueue *storage.ReplicationQueue,
	fileStorage *storage.FileStorage,
	diskService *storage.DiskService,
	partitions *storage.PartitionService,
	index domain.IndexRepository,
	cluster domain.ClusterMembership,
	replication domain.ReplicationSender,
	compaction *CompactionService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *FileWriterService {
	ctx, cancel := context.WithCancel(context.Background())
	return &FileWriterService{
		cfg:              cfg,
		queue:            queue,
		replicationQueue: replicationQueue,
		fileStorage:      fileStorage,
		diskService:      diskService,
		partitions:       partitions,
		index:            index,
		cluster:          cluster,
		replication:      replication,
		compaction:       compaction,
		metrics:          m,
		logger:           logger,
		disksToWriters:   make(map[int]bool),
		ctx:              ctx,
		cancel:           cancel,
	}
}

func (s *FileWriterService) SetRepairer(repairer domain.Repairer) {
	s.repairer = repairer
}

func (s *FileWriterService) Start() error {
	if err := s.partitions.Start(); err != nil {
		return err
	}

	disks := s.diskService.GetDisks()
	if len(disks) == 0 {
		return errors.New("no disks were found for writer")
	}

	s.mu.Lock()
	for _, disk := range disks {
		s.addDiskWriter(disk)
	}
	s.mu.Unlock()

	s.addReplicationWriter()

	if s.cluster.IsMaster() && s.compaction != nil {
		s.compaction.Start()
	}

	s.Restore()
	return nil
}

// Stop drains the write queue, then the replication queue, waits a grace
// period and cancels the writer tasks.
func (s *FileWriterService) Stop() {
	for !s.queue.IsEmpty() {
		s.logger.Debug("waiting for writer")
		time.Sleep(stopPollInterval)
	}
	for !s.replicationQueue.IsEmpty() {
		s.logger.Debug("waiting for replication writer")
		time.Sleep(stopPollInterval)
	}

	time.Sleep(stopGracePeriod)

	if s.cluster.IsMaster() && s.compaction != nil {
		s.compaction.Stop()
	}

	s.cancel()
	s.fileStorage.Close()
}

// Restore re-enqueues writes that were interrupted before their index entry
// became durable.
func (s *FileWriterService) Restore() {
	s.logger.Info("restore files is started")

	for _, elt := range s.index.GetTempIndexList(1024) {
		s.restoreFile(elt)
	}

	s.logger.Info("restore files are scheduled")
}

// Refresh picks up newly attached disks: each one gets a writer and an
// immediate repair pass.
func (s *FileWriterService) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.diskService.Refresh()

	for _, disk := range s.diskService.GetDisks() {
		if s.disksToWriters[disk] {
			continue
		}
		s.addDiskWriter(disk)
		if s.repairer != nil {
			go s.repairer.Repair(disk)
		}
	}
}

func (s *FileWriterService) addDiskWriter(disk int) {
	if s.disksToWriters[disk] {
		return
	}
	s.disksToWriters[disk] = true
	go func() {
		time.Sleep(time.Duration(s.cfg.WriterTaskStartDelayMs) * time.Millisecond)
		s.writerTask(disk)
	}()
}

func (s *FileWriterService) addReplicationWriter() {
	go func() {
		time.Sleep(time.Duration(s.cfg.WriterTaskStartDelayMs) * time.Millisecond)
		s.replicationWriterTask()
	}()
}

// writerTask is the disk's single writer loop. Failures are logged and the
// offending file is dropped; the loop never exits on error.
func (s *FileWriterService) writerTask(disk int) {
	s.logger.Info("writer task started", zap.Int("disk", disk))

	park := backoff.NewExponentialBackOff()
	park.InitialInterval = time.Second
	park.MaxInterval = 10 * time.Second
	park.MaxElapsedTime = 0

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if !s.diskService.IsWritable(disk) {
			time.Sleep(park.NextBackOff())
			continue
		}
		park.Reset()

		storageFile, ok := s.queue.Take(s.ctx, disk)
		if !ok {
			return
		}

		if !s.cluster.IsMaster() {
			s.logger.Error("only master node accepts files",
				zap.Int("disk", disk),
				zap.Int64("id", storageFile.Id))
			continue
		}

		if storageFile.Rotate {
			if _, err := s.partitions.Rotate(disk); err != nil {
				s.logger.Error("can't rotate partition", zap.Int("disk", disk), zap.Error(err))
			}
			continue
		}

		started := time.Now()
		var err error
		if storageFile.Compaction {
			err = s.copyFile(disk, storageFile)
		} else {
			err = s.writeFile(disk, storageFile)
		}
		if err != nil {
			s.logger.Error("can't write file to the storage",
				zap.Int("disk", disk),
				zap.Int64("id", storageFile.Id),
				zap.Error(err))
			s.metrics.WriteFailures.Inc()
		}
		s.logger.Debug("file writing finished",
			zap.Duration("elapsed", time.Since(started)))
	}
}

func (s *FileWriterService) writeFile(disk int, storageFile *domain.StorageFile) error {
	if _, exists := s.index.GetById(storageFile.Id, storageFile.Type); exists {
		// a restore replay of a write whose index entry already made it
		// to disk before the crash
		s.logger.Warn("write already indexed, dropping replay",
			zap.Int64("id", storageFile.Id),
			zap.Int("type", storageFile.Type))
		return s.index.DeleteTempIndex(storageFile.Id, storageFile.Type)
	}

	data, err := storageFile.Bytes()
	if err != nil {
		return err
	}

	tempPath := storageFile.Path
	spooled := false
	if tempPath == "" {
		tempPath, err = s.spool(disk, data)
		if err != nil {
			return err
		}
		spooled = true
	}

	tempElt := &domain.TempIndexElt{
		Id:       storageFile.Id,
		Type:     storageFile.Type,
		File:     tempPath,
		Metadata: storageFile.Metadata,
		Created:  time.Now().UnixMilli(),
	}
	if err := s.index.AddTempIndex(tempElt); err != nil {
		return err
	}

	active, err := s.partitions.ActivePartitionFor(disk, storageFile.Length)
	if err != nil {
		return err
	}

	offset, crc, err := s.fileStorage.Append(disk, active.Id, data)
	if err != nil {
		return err
	}

	elt := &domain.IndexElt{
		Id:        storageFile.Id,
		Type:      storageFile.Type,
		Disk:      disk,
		Partition: active.Id,
		Offset:    offset,
		Length:    int64(len(data)),
		Crc:       crc,
		Metadata:  storageFile.Metadata,
		Created:   time.Now().UnixMilli(),
	}
	if err := s.index.Add(elt); err != nil {
		return err
	}
	if err := s.partitions.AddSize(disk, elt.Length); err != nil {
		return err
	}

	if err := s.index.DeleteTempIndex(elt.Id, elt.Type); err != nil {
		s.logger.Warn("can't delete temp index row",
			zap.Int64("id", elt.Id),
			zap.Error(err))
	}
	if spooled {
		os.Remove(tempPath)
	}

	s.metrics.WritesTotal.Inc()
	s.metrics.WriteBytesTotal.Add(float64(elt.Length))

	if s.replication != nil {
		if err := s.replication.Replicate(domain.ReplicationFile{Entry: *elt, Data: data}); err != nil {
			s.logger.Error("can't replicate file",
				zap.Int64("id", elt.Id),
				zap.Error(err))
		}
	}
	return nil
}

// copyFile appends a compaction rewrite and swaps the index entry to its
// new location. Compaction copies are not re-replicated.
func (s *FileWriterService) copyFile(disk int, storageFile *domain.StorageFile) error {
	if storageFile.Entry == nil {
		return errors.New("compaction file carries no index entry")
	}

	data, err := storageFile.Bytes()
	if err != nil {
		return err
	}

	active, err := s.partitions.ActivePartitionFor(disk, storageFile.Length)
	if err != nil {
		return err
	}

	offset, crc, err := s.fileStorage.Append(disk, active.Id, data)
	if err != nil {
		return err
	}

	moved := storageFile.Entry.Copy()
	moved.Disk = disk
	moved.Partition = active.Id
	moved.Offset = offset
	moved.Crc = crc
	if err := s.index.Restore(moved); err != nil {
		return err
	}
	return s.partitions.AddSize(disk, moved.Length)
}

func (s *FileWriterService) replicationWriterTask() {
	s.logger.Info("replication writer task started")

	for {
		replicationFile, ok := s.replicationQueue.Take(s.ctx)
		if !ok {
			return
		}

		started := time.Now()
		if err := s.applyReplication(replicationFile); err != nil {
			s.logger.Error("can't write replication file to the storage",
				zap.Int64("id", replicationFile.Entry.Id),
				zap.Error(err))
		}
		s.logger.Debug("replication file writing finished",
			zap.Duration("elapsed", time.Since(started)))
	}
}

// applyReplication is idempotent: a write that is already indexed is
// swallowed.
func (s *FileWriterService) applyReplication(replicationFile domain.ReplicationFile) error {
	entry := replicationFile.Entry

	if _, exists := s.index.GetById(entry.Id, entry.Type); exists {
		s.metrics.ReplicationDups.Inc()
		s.logger.Debug("replication file already applied",
			zap.Int64("id", entry.Id),
			zap.Int("type", entry.Type))
		return nil
	}

	if _, err := s.partitions.EnsurePartition(entry.Disk, entry.Partition); err != nil {
		return err
	}
	if err := s.fileStorage.WriteAt(entry.Disk, entry.Partition, entry.Offset, replicationFile.Data); err != nil {
		return err
	}

	if err := s.index.Add(&entry); err != nil {
		if errors.Is(err, domain.ErrDuplicateEntry) {
			s.metrics.ReplicationDups.Inc()
			return nil
		}
		return err
	}
	if err := s.partitions.RecordWrite(entry.Disk, entry.Partition, entry.Offset+entry.Length); err != nil {
		return err
	}

	s.metrics.ReplicationsTotal.Inc()
	return nil
}

func (s *FileWriterService) restoreFile(elt *domain.TempIndexElt) {
	s.logger.Info("restore file",
		zap.Int64("id", elt.Id),
		zap.Int("type", elt.Type),
		zap.String("file", elt.File))

	storageFile, err := domain.NewStorageFileFromPath(elt.Id, elt.Type, elt.File, elt.Metadata)
	if err != nil {
		s.logger.Error("can't restore file, dropping its temp row",
			zap.Int64("id", elt.Id),
			zap.Error(err))
		s.index.DeleteTempIndex(elt.Id, elt.Type)
		return
	}

	disk, err := s.diskService.DiskForId(elt.Id)
	if err != nil {
		s.logger.Error("can't pick a disk for restore", zap.Error(err))
		return
	}
	s.queue.Offer(disk, storageFile)
}

func (s *FileWriterService) spool(disk int, data []byte) (string, error) {
	root, err := s.diskService.Root(disk)
	if err != nil {
		return "", err
	}
	dir := path.Join(root, "tmp")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := path.Join(dir, uuid.NewString())
	if err := os.WriteFile(name, data, 0644); err != nil {
		return "", fmt.Errorf("spool payload: %w", err)
	}
	return name, nil
}
