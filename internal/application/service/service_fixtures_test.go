package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/merkle"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/metrics"
	"blobkeeper/internal/platform/repository"
	"blobkeeper/internal/platform/storage"
)

func serviceConfig(t *testing.T) config.Config {
	return config.Config{
		DataDirectories:        []string{t.TempDir()},
		MetaDirectory:          t.TempDir(),
		IsMaster:               true,
		MaxPartitionSize:       1024,
		CompactionDeletedRatio: 0.5,
		RepairPeriodMs:         60000,
		CompactionPeriodMs:     60000,
		MerkleMaxLevel:         5,
		WriterPoolSize:         16,
		WriterTaskStartDelayMs: 0,
		WriterQueueCapacity:    64,
	}
}

func await(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type mockMembership struct {
	self   domain.Node
	master domain.Node
}

func (m *mockMembership) Self() *domain.Node   { return &m.self }
func (m *mockMembership) Master() *domain.Node { return &m.master }
func (m *mockMembership) Peers() []domain.Node { return nil }
func (m *mockMembership) IsMaster() bool       { return m.self.Master }

func masterMembership() *mockMembership {
	node := domain.Node{Id: 1, Host: "localhost", Port: 3000, Master: true}
	return &mockMembership{self: node, master: node}
}

func slaveMembership() *mockMembership {
	return &mockMembership{
		self:   domain.Node{Id: 2, Host: "localhost", Port: 3001},
		master: domain.Node{Id: 1, Host: "localhost", Port: 3000, Master: true},
	}
}

type mockReplicationSender struct {
	mu    sync.Mutex
	files []domain.ReplicationFile
}

func (m *mockReplicationSender) Replicate(file domain.ReplicationFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files = append(m.files, file)
	return nil
}

func (m *mockReplicationSender) sent() []domain.ReplicationFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ReplicationFile(nil), m.files...)
}

type mockClusterClient struct {
	mu              sync.Mutex
	trees           map[string]*domain.MerkleTreeInfo
	files           []domain.ReplicationFile
	treeInfoCalls   int
	fetchRangeCalls int
	fetchedRanges   []merkle.Range
}

func newMockClusterClient() *mockClusterClient {
	return &mockClusterClient{
		trees: make(map[string]*domain.MerkleTreeInfo),
	}
}

func treeKey(disk, partition int) string {
	return fmt.Sprintf("%d/%d", disk, partition)
}

func (m *mockClusterClient) setTree(disk, partition int, tree *merkle.Tree) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[treeKey(disk, partition)] = &domain.MerkleTreeInfo{
		Disk:      disk,
		Partition: partition,
		Tree:      tree,
	}
}

func (m *mockClusterClient) GetMerkleTreeInfo(node domain.Node, disk, partition int) (*domain.MerkleTreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.treeInfoCalls++
	info, ok := m.trees[treeKey(disk, partition)]
	if !ok {
		return nil, domain.ErrPeerUnavailable
	}
	return info, nil
}

func (m *mockClusterClient) GetDifference(node domain.Node, disk, partition int) (*domain.DifferenceInfo, error) {
	return &domain.DifferenceInfo{Disk: disk, Partition: partition}, nil
}

func (m *mockClusterClient) FetchRange(node domain.Node, disk, partition int, ranges []merkle.Range) ([]domain.ReplicationFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchRangeCalls++
	m.fetchedRanges = append([]merkle.Range(nil), ranges...)
	return m.files, nil
}

type serviceFixture struct {
	cfg              config.Config
	index            domain.IndexRepository
	partitionRepo    domain.PartitionRepository
	queue            *storage.WriterTaskQueue
	replicationQueue *storage.ReplicationQueue
	fileStorage      *storage.FileStorage
	disks            *storage.DiskService
	partitions       *storage.PartitionService
	utils            *repository.IndexUtils
	metrics          *metrics.Metrics
	membership       *mockMembership
	sender           *mockReplicationSender
	writer           *FileWriterService
}

func newServiceFixture(t *testing.T, cfg config.Config, membership *mockMembership) *serviceFixture {
	logger := zap.NewNop()

	index, err := repository.NewWalIndexRepository(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	partitionRepo, err := repository.NewFilePartitionRepository(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { partitionRepo.Close() })

	disks := storage.NewDiskService(cfg, logger)
	files := storage.NewFileListService(disks, logger)
	fileStorage := storage.NewFileStorage(files, cfg, logger)
	t.Cleanup(fileStorage.Close)

	utils := repository.NewIndexUtils(index, cfg)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	partitions := storage.NewPartitionService(cfg, partitionRepo, fileStorage, files, utils, disks, m, logger)

	queue := storage.NewWriterTaskQueue(cfg)
	replicationQueue := storage.NewReplicationQueue(cfg)
	sender := &mockReplicationSender{}

	writer := NewFileWriterService(cfg, queue, replicationQueue, fileStorage, disks,
		partitions, index, membership, sender, nil, m, logger)

	return &serviceFixture{
		cfg:              cfg,
		index:            index,
		partitionRepo:    partitionRepo,
		queue:            queue,
		replicationQueue: replicationQueue,
		fileStorage:      fileStorage,
		disks:            disks,
		partitions:       partitions,
		utils:            utils,
		metrics:          m,
		membership:       membership,
		sender:           sender,
		writer:           writer,
	}
}

func (f *serviceFixture) offerData(t *testing.T, id int64, blobType int, data []byte) {
	storageFile, err := domain.NewStorageFileFromData(id, blobType, data, nil)
	require.NoError(t, err)
	disk, err := f.disks.DiskForId(id)
	require.NoError(t, err)
	f.queue.Offer(disk, storageFile)
}
