package repository

import (
	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/merkle"
	"blobkeeper/internal/platform/config"
)

// IndexUtils derives merkle trees from the live index. The tree range is
// [0, maxPartitionSize) so that peers build compatible trees regardless of
// how much of the partition each of them has.
type IndexUtils struct {
	index domain.IndexRepository
	cfg   config.Config
}

func NewIndexUtils(index domain.IndexRepository, cfg config.Config) *IndexUtils {
	return &IndexUtils{
		index: index,
		cfg:   cfg,
	}
}

func (u *IndexUtils) TreeRange() merkle.Range {
	return merkle.Range{Lo: 0, Hi: u.cfg.MaxPartitionSize}
}

// BuildMerkleTree hashes the partition's live entries, keyed by offset. The
// map holds one block per offset: of live entries sharing an offset, only the
// last in (id, type) order is hashed.
func (u *IndexUtils) BuildMerkleTree(partition *domain.Partition) (*merkle.Tree, error) {
	blocks := treemap.NewWith(godsutils.Int64Comparator)
	for _, elt := range u.index.LiveListByPartition(partition) {
		blocks.Put(elt.Offset, elt.Block())
	}
	return merkle.NewTree(u.TreeRange(), u.cfg.MerkleMaxLevel, blocks)
}

// EmptyTree is the tree of a partition with no live entries.
func (u *IndexUtils) EmptyTree() (*merkle.Tree, error) {
	return merkle.NewEmptyTree(u.TreeRange(), u.cfg.MerkleMaxLevel)
}

// MinMax reports the id range stored in a partition, used on reseal.
func (u *IndexUtils) MinMax(partition *domain.Partition) (int64, int64, bool) {
	return u.index.MinMaxRange(partition)
}
