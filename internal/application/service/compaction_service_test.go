package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCompactionRewritesPartition(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), masterMembership())
	require.NoError(t, f.writer.Start())

	// ten 100 byte blobs fill partition 0
	for i := 1; i <= 10; i++ {
		f.offerData(t, int64(i), 0, make([]byte, 100))
	}
	await(t, "all writes indexed", func() bool {
		_, found := f.index.GetById(10, 0)
		return found
	})
	await(t, "write queue drained", f.queue.IsEmpty)

	// six of ten deleted: 600/1000 exceeds the 0.5 threshold
	for i := 1; i <= 6; i++ {
		elt, found := f.index.GetById(int64(i), 0)
		require.True(t, found)
		require.NoError(t, f.index.Delete(elt))
	}

	compaction := NewCompactionService(f.cfg, f.index, f.partitions, f.partitionRepo,
		f.fileStorage, f.queue, f.disks, f.metrics, zap.NewNop())
	compaction.RunOnce()

	rows := f.partitions.GetPartitions(0)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Id)

	size, err := f.fileStorage.Size(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size, "old partition file must be removed")

	live := f.index.LiveListByPartition(rows[0])
	require.Len(t, live, 4)
	for i := 7; i <= 10; i++ {
		elt, found := f.index.GetById(int64(i), 0)
		require.True(t, found)
		assert.Equal(t, 1, elt.Partition)
		assert.False(t, elt.Deleted)

		data, err := f.fileStorage.Read(elt.Disk, elt.Partition, elt.Offset, elt.Length)
		require.NoError(t, err)
		assert.Len(t, data, 100)
	}
}

func TestCompactionSkipsHealthyPartitions(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), masterMembership())
	require.NoError(t, f.writer.Start())

	for i := 1; i <= 10; i++ {
		f.offerData(t, int64(i), 0, make([]byte, 100))
	}
	await(t, "all writes indexed", func() bool {
		_, found := f.index.GetById(10, 0)
		return found
	})

	// two deletions keep the partition below the threshold
	for i := 1; i <= 2; i++ {
		elt, _ := f.index.GetById(int64(i), 0)
		require.NoError(t, f.index.Delete(elt))
	}

	compaction := NewCompactionService(f.cfg, f.index, f.partitions, f.partitionRepo,
		f.fileStorage, f.queue, f.disks, f.metrics, zap.NewNop())
	compaction.RunOnce()

	rows := f.partitions.GetPartitions(0)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Id)
	assert.Len(t, f.index.LiveListByPartition(rows[0]), 8)
}
