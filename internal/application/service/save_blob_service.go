package service

import (
	"errors"
	"fmt"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/storage"
)

type SaveBlobService struct {
	idGenerator *domain.IdGenerator
	queue       *storage.WriterTaskQueue
	disks       *storage.DiskService
	cluster     domain.ClusterMembership
}

func NewSaveBlobService(
	idGenerator *domain.IdGenerator,
	queue *storage.WriterTaskQueue,
	disks *storage.DiskService,
	cluster domain.ClusterMembership,
) *SaveBlobService {
	return &SaveBlobService{
		idGenerator: idGenerator,
		queue:       queue,
		disks:       disks,
		cluster:     cluster,
	}
}

type SaveBlobCommand struct {
	Type     int
	Data     []byte
	Metadata map[string][]string
}

type SaveBlobResult struct {
	Id  int64
	Err error
}

// Execute allocates an id and queues the write. The append itself is
// asynchronous; the queue blocking on overflow is the caller's
// backpressure.
func (s *SaveBlobService) Execute(command SaveBlobCommand) SaveBlobResult {
	if !s.cluster.IsMaster() {
		return SaveBlobResult{Err: errors.New("only master node accepts files")}
	}

	id := s.idGenerator.Generate()
	storageFile, err := domain.NewStorageFileFromData(id, command.Type, command.Data, command.Metadata)
	if err != nil {
		return SaveBlobResult{Err: err}
	}

	disk, err := s.disks.DiskForId(id)
	if err != nil {
		return SaveBlobResult{Err: err}
	}
	if !s.disks.IsWritable(disk) {
		return SaveBlobResult{Err: fmt.Errorf("%w: disk %d", domain.ErrNoWritableDisk, disk)}
	}

	s.queue.Offer(disk, storageFile)
	return SaveBlobResult{Id: id}
}
