package service

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/storage"
)

func TestWriteAppendsInOrderAndReplicates(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), masterMembership())
	require.NoError(t, f.writer.Start())

	f.offerData(t, 1, 0, []byte("first-payload"))
	f.offerData(t, 2, 0, []byte("second-payload"))

	await(t, "both writes indexed", func() bool {
		_, one := f.index.GetById(1, 0)
		_, two := f.index.GetById(2, 0)
		return one && two
	})

	first, _ := f.index.GetById(1, 0)
	second, _ := f.index.GetById(2, 0)
	assert.Less(t, first.Offset, second.Offset)
	assert.Equal(t, 0, first.Partition)
	assert.Equal(t, 0, second.Partition)

	data, err := f.fileStorage.Read(first.Disk, first.Partition, first.Offset, first.Length)
	require.NoError(t, err)
	assert.Equal(t, []byte("first-payload"), data)

	await(t, "both writes replicated", func() bool {
		return len(f.sender.sent()) == 2
	})
	assert.Empty(t, f.index.GetTempIndexList(1024))
}

func TestSlaveDropsClientWrites(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), slaveMembership())
	require.NoError(t, f.writer.Start())

	f.offerData(t, 1, 0, []byte("not-for-slaves"))

	time.Sleep(200 * time.Millisecond)
	_, found := f.index.GetById(1, 0)
	assert.False(t, found)
	assert.Empty(t, f.sender.sent())
}

func TestPartitionRotationOnCrossingWrite(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), masterMembership())
	require.NoError(t, f.writer.Start())

	// 512 + 512 fills partition 0 exactly; the next write crosses the
	// limit and must land in partition 1
	f.offerData(t, 1, 0, make([]byte, 512))
	f.offerData(t, 2, 0, make([]byte, 512))
	f.offerData(t, 3, 0, make([]byte, 6))

	await(t, "all writes indexed", func() bool {
		_, found := f.index.GetById(3, 0)
		return found
	})

	first, _ := f.index.GetById(1, 0)
	second, _ := f.index.GetById(2, 0)
	third, _ := f.index.GetById(3, 0)

	assert.Equal(t, 0, first.Partition)
	assert.Equal(t, 0, second.Partition)
	assert.Equal(t, 1, third.Partition)

	rows := f.partitions.GetPartitions(0)
	require.Len(t, rows, 2)
	assert.LessOrEqual(t, rows[0].Size, f.cfg.MaxPartitionSize)
	assert.NotNil(t, rows[0].Tree)
}

func TestReplicationApplyIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, serviceConfig(t), slaveMembership())
	require.NoError(t, f.writer.Start())

	payload := []byte("replica")
	file := domain.ReplicationFile{
		Entry: domain.IndexElt{
			Id:        7,
			Type:      0,
			Disk:      0,
			Partition: 0,
			Offset:    0,
			Length:    int64(len(payload)),
			Crc:       storage.Crc(payload),
		},
		Data: payload,
	}

	f.replicationQueue.Offer(file)
	f.replicationQueue.Offer(file)

	await(t, "replica applied", func() bool {
		_, found := f.index.GetById(7, 0)
		return found
	})
	await(t, "replication queue drained", f.replicationQueue.IsEmpty)
	time.Sleep(100 * time.Millisecond)

	elts := f.index.ListById(7)
	require.Len(t, elts, 1)

	data, err := f.fileStorage.Read(0, 0, 0, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	size, err := f.fileStorage.Size(0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), size)
}

func TestRestoreReplaysInterruptedWrite(t *testing.T) {
	cfg := serviceConfig(t)
	f := newServiceFixture(t, cfg, masterMembership())

	// crash before the payload append: only the spool file and the temp
	// row survived
	spool := path.Join(cfg.DataDirectories[0], "interrupted")
	require.NoError(t, os.WriteFile(spool, []byte("interrupted-payload"), 0644))
	require.NoError(t, f.index.AddTempIndex(&domain.TempIndexElt{Id: 9, Type: 0, File: spool}))

	require.NoError(t, f.writer.Start())

	await(t, "interrupted write replayed", func() bool {
		_, found := f.index.GetById(9, 0)
		return found
	})
	await(t, "temp row cleaned", func() bool {
		return len(f.index.GetTempIndexList(1024)) == 0
	})

	elt, _ := f.index.GetById(9, 0)
	data, err := f.fileStorage.Read(elt.Disk, elt.Partition, elt.Offset, elt.Length)
	require.NoError(t, err)
	assert.Equal(t, []byte("interrupted-payload"), data)
}

func TestRestoreDoesNotDuplicateIndexedWrite(t *testing.T) {
	cfg := serviceConfig(t)
	f := newServiceFixture(t, cfg, masterMembership())

	// crash after the index add but before the temp row delete
	spool := path.Join(cfg.DataDirectories[0], "already-indexed")
	payload := []byte("already-indexed-payload")
	require.NoError(t, os.WriteFile(spool, payload, 0644))
	require.NoError(t, f.index.Add(&domain.IndexElt{
		Id: 10, Type: 0, Disk: 0, Partition: 0, Offset: 0,
		Length: int64(len(payload)), Crc: storage.Crc(payload),
	}))
	require.NoError(t, f.index.AddTempIndex(&domain.TempIndexElt{Id: 10, Type: 0, File: spool}))

	require.NoError(t, f.writer.Start())

	await(t, "temp row cleaned", func() bool {
		return len(f.index.GetTempIndexList(1024)) == 0
	})

	elts := f.index.ListById(10)
	require.Len(t, elts, 1)
	assert.Equal(t, int64(0), elts[0].Offset)
}
