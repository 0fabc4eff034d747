package storage

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"blobkeeper/internal/platform/config"
)

func storageConfig(t *testing.T) config.Config {
	return config.Config{
		DataDirectories:  []string{t.TempDir()},
		MetaDirectory:    t.TempDir(),
		MaxPartitionSize: 1024,
		MerkleMaxLevel:   5,
	}
}

func newTestFileStorage(t *testing.T, cfg config.Config) (*FileStorage, *FileListService) {
	logger := zap.NewNop()
	disks := NewDiskService(cfg, logger)
	files := NewFileListService(disks, logger)
	fileStorage := NewFileStorage(files, cfg, logger)
	t.Cleanup(fileStorage.Close)
	return fileStorage, files
}

func TestAppendPreservesOrder(t *testing.T) {
	fileStorage, _ := newTestFileStorage(t, storageConfig(t))

	payloads := [][]byte{
		[]byte("first"),
		[]byte("second"),
		[]byte("third"),
	}

	var lastOffset int64 = -1
	var expectedOffset int64
	for _, payload := range payloads {
		offset, crc, err := fileStorage.Append(0, 0, payload)
		require.NoError(t, err)
		assert.Greater(t, offset, lastOffset)
		assert.Equal(t, expectedOffset, offset)
		assert.Equal(t, Crc(payload), crc)
		lastOffset = offset
		expectedOffset += int64(len(payload))
	}

	data, err := fileStorage.Read(0, 0, int64(len(payloads[0])), int64(len(payloads[1])))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payloads[1], data))

	data, err = fileStorage.Read(0, 0, lastOffset, int64(len(payloads[2])))
	require.NoError(t, err)
	assert.Equal(t, payloads[2], data)
}

func TestWriteAtPlacesReplicatedBytes(t *testing.T) {
	fileStorage, _ := newTestFileStorage(t, storageConfig(t))

	payload := []byte("replicated-payload")
	require.NoError(t, fileStorage.WriteAt(0, 3, 100, payload))

	data, err := fileStorage.Read(0, 3, 100, int64(len(payload)))
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	size, err := fileStorage.Size(0, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(100+len(payload)), size)
}

func TestFileCrcIsStable(t *testing.T) {
	fileStorage, _ := newTestFileStorage(t, storageConfig(t))

	_, _, err := fileStorage.Append(0, 0, []byte("some-content"))
	require.NoError(t, err)

	one, err := fileStorage.FileCrc(0, 0)
	require.NoError(t, err)
	two, err := fileStorage.FileCrc(0, 0)
	require.NoError(t, err)
	assert.Equal(t, one, two)
	assert.NotZero(t, one)
}

func TestDeleteRemovesPartitionFile(t *testing.T) {
	fileStorage, files := newTestFileStorage(t, storageConfig(t))

	_, _, err := fileStorage.Append(0, 0, []byte("gone"))
	require.NoError(t, err)

	require.NoError(t, fileStorage.Delete(0, 0))

	name, err := files.PartitionFilePath(0, 0)
	require.NoError(t, err)
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
}

func TestGetPartitionIdsDiscoversFiles(t *testing.T) {
	fileStorage, files := newTestFileStorage(t, storageConfig(t))

	require.NoError(t, fileStorage.Create(0, 2))
	require.NoError(t, fileStorage.Create(0, 0))
	require.NoError(t, fileStorage.Create(0, 1))

	ids, err := files.GetPartitionIds(0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, ids)
}
