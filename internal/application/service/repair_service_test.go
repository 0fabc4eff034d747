package service

import (
	"context"
	"testing"

	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/merkle"
)

func newRepairFixture(t *testing.T, f *serviceFixture, client *mockClusterClient) *RepairService {
	return NewRepairService(f.cfg, f.index, f.partitions, f.partitionRepo, f.fileStorage,
		f.membership, client, f.replicationQueue, f.disks, f.utils, f.metrics, zap.NewNop())
}

func TestRepairActivePartitionOnlyExchangesTrees(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), slaveMembership())
	require.NoError(t, f.partitions.Start())

	client := newMockClusterClient()
	localTree, err := f.utils.EmptyTree()
	require.NoError(t, err)
	client.setTree(0, 0, localTree)

	repair := newRepairFixture(t, f, client)
	repair.Repair(0)

	assert.Equal(t, 1, client.treeInfoCalls)
	assert.Equal(t, 0, client.fetchRangeCalls)
	assert.True(t, f.replicationQueue.IsEmpty())
}

func TestRepairClosedPartitionDivergence(t *testing.T) {
	cfg := serviceConfig(t)
	cfg.MaxPartitionSize = 100
	cfg.MerkleMaxLevel = 5

	f := newServiceFixture(t, cfg, slaveMembership())
	require.NoError(t, f.partitions.Start())

	// partition 0 is closed once partition 1 became active
	_, err := f.partitions.EnsurePartition(0, 1)
	require.NoError(t, err)

	masterBlocks := treemap.NewWith(godsutils.Int64Comparator)
	masterBlocks.Put(int64(42), merkle.NewBlock(1, 2, 3, 4))
	masterTree, err := merkle.NewTree(merkle.Range{Lo: 0, Hi: 100}, 5, masterBlocks)
	require.NoError(t, err)

	emptyTree, err := f.utils.EmptyTree()
	require.NoError(t, err)

	client := newMockClusterClient()
	client.setTree(0, 0, masterTree)
	client.setTree(0, 1, emptyTree)
	client.files = []domain.ReplicationFile{
		{
			Entry: domain.IndexElt{Id: 1, Type: 2, Disk: 0, Partition: 0, Offset: 42, Length: 4, Crc: 3},
			Data:  []byte{1, 2, 3, 4},
		},
	}

	repair := newRepairFixture(t, f, client)
	repair.Repair(0)

	assert.Equal(t, 2, client.treeInfoCalls)
	require.Equal(t, 1, client.fetchRangeCalls)
	assert.Equal(t, []merkle.Range{{Lo: 32, Hi: 64}}, client.fetchedRanges)

	file, ok := f.replicationQueue.Take(context.Background())
	require.True(t, ok)
	assert.Equal(t, int64(1), file.Entry.Id)
	assert.Equal(t, 2, file.Entry.Type)

	// the repaired partition carries the master's tree from now on
	repaired, found := f.partitionRepo.Get(0, 0)
	require.True(t, found)
	require.NotNil(t, repaired.Tree)
	assert.True(t, masterTree.Equal(repaired.Tree))
}

func TestRepairSkipsUnavailablePeer(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), slaveMembership())
	require.NoError(t, f.partitions.Start())

	repair := newRepairFixture(t, f, newMockClusterClient())
	repair.Repair(0)

	assert.True(t, f.replicationQueue.IsEmpty())
}

func TestRepairIsNoopOnMaster(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), masterMembership())
	require.NoError(t, f.partitions.Start())

	client := newMockClusterClient()
	repair := newRepairFixture(t, f, client)
	repair.Repair(0)

	assert.Equal(t, 0, client.treeInfoCalls)
}

func TestDifferenceAgainstMaster(t *testing.T) {
	cfg := serviceConfig(t)
	cfg.MaxPartitionSize = 100
	cfg.MerkleMaxLevel = 5

	f := newServiceFixture(t, cfg, slaveMembership())
	require.NoError(t, f.partitions.Start())

	masterBlocks := treemap.NewWith(godsutils.Int64Comparator)
	masterBlocks.Put(int64(42), merkle.NewBlock(1, 2, 3, 4))
	masterTree, err := merkle.NewTree(merkle.Range{Lo: 0, Hi: 100}, 5, masterBlocks)
	require.NoError(t, err)

	client := newMockClusterClient()
	client.setTree(0, 0, masterTree)

	repair := newRepairFixture(t, f, client)
	info, err := repair.Difference(0, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, info.Disk)
	assert.Equal(t, 0, info.Partition)
	assert.Equal(t, []merkle.Range{{Lo: 32, Hi: 64}}, info.Ranges)
}

func TestDifferenceIsEmptyOnMaster(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), masterMembership())
	require.NoError(t, f.partitions.Start())

	repair := newRepairFixture(t, f, newMockClusterClient())
	info, err := repair.Difference(0, 0)
	require.NoError(t, err)
	assert.True(t, info.Empty())
}
