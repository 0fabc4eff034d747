package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "blobkeeper/internal/domain"
)

func TestIndexRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	records := []IndexRecord{
		{Op: OpPut, Elt: IndexElt{
			Id: 42, Type: 1, Disk: 0, Partition: 3, Offset: 128, Length: 256,
			Crc: 7, Created: 1700000000000,
			Metadata: map[string][]string{"key": {"value", "other"}},
		}},
		{Op: OpDelete, Elt: IndexElt{Id: 42, Type: 1, Deleted: true, Length: 256}},
		{Op: OpRestore, Elt: IndexElt{Id: 42, Type: 1, Partition: 4, Length: 256}},
	}
	for _, rec := range records {
		require.NoError(t, AppendIndexRecord(&buf, rec))
	}

	decoded, err := ReadAllIndexRecords(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(records))

	assert.Equal(t, OpPut, decoded[0].Op)
	assert.Equal(t, records[0].Elt, decoded[0].Elt)
	assert.Equal(t, OpDelete, decoded[1].Op)
	assert.True(t, decoded[1].Elt.Deleted)
	assert.Equal(t, OpRestore, decoded[2].Op)
	assert.Equal(t, 4, decoded[2].Elt.Partition)
}

func TestTempRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	rec := TempRecord{Op: OpTempAdd, Elt: TempIndexElt{
		Id:       9,
		Type:     2,
		File:     "/data/disk0/tmp/payload",
		Metadata: map[string][]string{"k": {"v"}},
		Created:  1700000000000,
	}}
	require.NoError(t, AppendTempRecord(&buf, rec))
	require.NoError(t, AppendTempRecord(&buf, TempRecord{Op: OpTempDelete, Elt: TempIndexElt{Id: 9, Type: 2}}))

	decoded, err := ReadAllTempRecords(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, rec.Elt, decoded[0].Elt)
	assert.Equal(t, OpTempDelete, decoded[1].Op)
	assert.Equal(t, "", decoded[1].Elt.File)
}
