package domain

import (
	"blobkeeper/internal/merkle"
)

// IndexElt maps (id, type) to the location of a blob payload inside a
// partition file.
type IndexElt struct {
	Id        int64
	Type      int
	Disk      int
	Partition int
	Offset    int64
	Length    int64
	Crc       uint64
	Metadata  map[string][]string
	Deleted   bool
	Created   int64
}

func (e *IndexElt) Block() merkle.Block {
	return merkle.NewBlock(e.Id, int32(e.Type), e.Crc, e.Length)
}

func (e *IndexElt) Copy() *IndexElt {
	copied := *e
	if e.Metadata != nil {
		copied.Metadata = make(map[string][]string, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = append([]string(nil), v...)
		}
	}
	return &copied
}

// TempIndexElt records an in-progress write so it can be replayed after a
// crash.
type TempIndexElt struct {
	Id       int64
	Type     int
	File     string
	Metadata map[string][]string
	Created  int64
}

type IndexRepository interface {
	// Add fails with ErrDuplicateEntry when (id, type) is already present.
	// It returns only after the entry is stably recorded.
	Add(elt *IndexElt) error
	GetById(id int64, blobType int) (*IndexElt, bool)
	// ListById returns all types of one id, used for deletion cascades.
	ListById(id int64) []*IndexElt
	// ListByPartition is ordered by (id, type).
	ListByPartition(partition *Partition) []*IndexElt
	LiveListByPartition(partition *Partition) []*IndexElt
	// MinMaxRange reports the smallest and largest id of a partition.
	MinMaxRange(partition *Partition) (min int64, max int64, ok bool)
	SizeOfDeleted(partition *Partition) int64
	// Delete is idempotent; payload bytes remain until compaction.
	Delete(elt *IndexElt) error
	// Restore reinserts an entry after a compaction-driven rewrite,
	// replacing the previous (id, type) mapping.
	Restore(elt *IndexElt) error

	AddTempIndex(elt *TempIndexElt) error
	DeleteTempIndex(id int64, blobType int) error
	GetTempIndexList(limit int) []*TempIndexElt

	// Clear is test-only.
	Clear()
}
