package repository

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/merkle"
	"blobkeeper/internal/platform/config"
)

const partitionLogName = "partitions.log"

type partitionRow struct {
	Disk    int          `json:"disk"`
	Id      int          `json:"partition"`
	Crc     uint64       `json:"crc,omitempty"`
	Size    int64        `json:"size,omitempty"`
	Deleted bool         `json:"deleted,omitempty"`
	Tree    *merkle.Info `json:"tree,omitempty"`
}

// FilePartitionRepository persists partition rows as a JSON-lines log,
// replayed last-write-wins at startup.
type FilePartitionRepository struct {
	mu     sync.RWMutex
	rows   map[partitionKey]*domain.Partition
	fd     *os.File
	path   string
	logger *zap.Logger
}

func NewFilePartitionRepository(cfg config.Config, logger *zap.Logger) (*FilePartitionRepository, error) {
	if err := os.MkdirAll(cfg.MetaDirectory, 0755); err != nil {
		return nil, err
	}
	name := path.Join(cfg.MetaDirectory, partitionLogName)
	fd, err := os.OpenFile(name, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0755)
	if err != nil {
		return nil, err
	}

	repo := &FilePartitionRepository{
		rows:   make(map[partitionKey]*domain.Partition),
		fd:     fd,
		path:   name,
		logger: logger,
	}
	if err := repo.replay(); err != nil {
		return nil, fmt.Errorf("replay partition log: %w", err)
	}
	return repo, nil
}

func (r *FilePartitionRepository) replay() error {
	fd, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row partitionRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		key := partitionKey{disk: row.Disk, id: row.Id}
		if row.Deleted {
			delete(r.rows, key)
			continue
		}
		partition := &domain.Partition{Disk: row.Disk, Id: row.Id, Crc: row.Crc, Size: row.Size}
		if row.Tree != nil {
			tree, err := merkle.FromInfo(row.Tree)
			if err != nil {
				return err
			}
			partition.Tree = tree
		}
		r.rows[key] = partition
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	r.logger.Info("partition rows replayed", zap.Int("partitions", len(r.rows)))
	return nil
}

func (r *FilePartitionRepository) Add(partition *domain.Partition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := partitionKey{disk: partition.Disk, id: partition.Id}
	if _, exists := r.rows[key]; exists {
		return fmt.Errorf("partition %d on disk %d already exists", partition.Id, partition.Disk)
	}
	if err := r.appendRow(partition, false); err != nil {
		return err
	}
	r.rows[key] = partition.Copy()
	return nil
}

func (r *FilePartitionRepository) Get(disk, id int) (*domain.Partition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	partition, ok := r.rows[partitionKey{disk: disk, id: id}]
	if !ok {
		return nil, false
	}
	return partition.Copy(), true
}

func (r *FilePartitionRepository) GetPartitions(disk int) []*domain.Partition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Partition
	for key, partition := range r.rows {
		if key.disk == disk {
			out = append(out, partition.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

func (r *FilePartitionRepository) Update(partition *domain.Partition) error {
	return r.upsert(partition)
}

func (r *FilePartitionRepository) UpdateTree(partition *domain.Partition) error {
	return r.upsert(partition)
}

func (r *FilePartitionRepository) upsert(partition *domain.Partition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.appendRow(partition, false); err != nil {
		return err
	}
	r.rows[partitionKey{disk: partition.Disk, id: partition.Id}] = partition.Copy()
	return nil
}

func (r *FilePartitionRepository) Delete(disk, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.appendRow(&domain.Partition{Disk: disk, Id: id}, true); err != nil {
		return err
	}
	delete(r.rows, partitionKey{disk: disk, id: id})
	return nil
}

func (r *FilePartitionRepository) Close() error {
	return r.fd.Close()
}

func (r *FilePartitionRepository) appendRow(partition *domain.Partition, deleted bool) error {
	row := partitionRow{
		Disk:    partition.Disk,
		Id:      partition.Id,
		Crc:     partition.Crc,
		Size:    partition.Size,
		Deleted: deleted,
	}
	if partition.Tree != nil {
		row.Tree = partition.Tree.Info()
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = r.fd.Write(append(data, '\n'))
	return err
}
