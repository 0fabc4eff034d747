package merkle

import (
	"testing"

	"github.com/emirpasic/gods/maps/treemap"
	godsutils "github.com/emirpasic/gods/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blocksOf(entries map[int64]Block) *treemap.Map {
	blocks := treemap.NewWith(godsutils.Int64Comparator)
	for offset, block := range entries {
		blocks.Put(offset, block)
	}
	return blocks
}

func TestTreeIsDeterministic(t *testing.T) {
	entries := map[int64]Block{
		0:   NewBlock(303277865741324291, 0, 42, 128),
		128: NewBlock(303277865741324292, 1, 42, 128),
		256: NewBlock(303277865741324292, 2, 42, 128),
	}

	one, err := NewTree(Range{Lo: 0, Hi: 1024}, 5, blocksOf(entries))
	require.NoError(t, err)
	two, err := NewTree(Range{Lo: 0, Hi: 1024}, 5, blocksOf(entries))
	require.NoError(t, err)

	assert.True(t, one.Equal(two))
	assert.Equal(t, one.Leaves(), two.Leaves())
	assert.Equal(t, one.Root(), two.Root())
}

func TestDifferenceIsEmptyForEqualSets(t *testing.T) {
	entries := map[int64]Block{
		10: NewBlock(1, 0, 7, 10),
		50: NewBlock(2, 0, 8, 20),
	}

	one, err := NewTree(Range{Lo: 0, Hi: 100}, 5, blocksOf(entries))
	require.NoError(t, err)
	two, err := NewTree(Range{Lo: 0, Hi: 100}, 5, blocksOf(entries))
	require.NoError(t, err)

	ranges, err := Difference(one, two)
	require.NoError(t, err)
	assert.Empty(t, ranges)
}

func TestDifferenceCoversDivergingOffsets(t *testing.T) {
	masterBlocks := blocksOf(map[int64]Block{
		42: NewBlock(1, 2, 3, 4),
	})
	master, err := NewTree(Range{Lo: 0, Hi: 100}, 5, masterBlocks)
	require.NoError(t, err)

	slave, err := NewEmptyTree(Range{Lo: 0, Hi: 100}, 5)
	require.NoError(t, err)

	ranges, err := Difference(master, slave)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Lo: 32, Hi: 64}}, ranges)
}

func TestDifferenceFindsEveryDivergingLeaf(t *testing.T) {
	one, err := NewTree(Range{Lo: 0, Hi: 100}, 5, blocksOf(map[int64]Block{
		1:  NewBlock(1, 0, 1, 1),
		70: NewBlock(2, 0, 2, 2),
	}))
	require.NoError(t, err)
	two, err := NewTree(Range{Lo: 0, Hi: 100}, 5, blocksOf(map[int64]Block{
		1: NewBlock(1, 0, 1, 1),
	}))
	require.NoError(t, err)

	ranges, err := Difference(one, two)
	require.NoError(t, err)
	assert.Equal(t, []Range{{Lo: 64, Hi: 96}}, ranges)
}

func TestDifferenceRejectsIncompatibleTrees(t *testing.T) {
	one, err := NewEmptyTree(Range{Lo: 0, Hi: 100}, 5)
	require.NoError(t, err)
	two, err := NewEmptyTree(Range{Lo: 0, Hi: 200}, 5)
	require.NoError(t, err)

	_, err = Difference(one, two)
	assert.ErrorIs(t, err, ErrIncompatibleTrees)

	three, err := NewEmptyTree(Range{Lo: 0, Hi: 100}, 6)
	require.NoError(t, err)

	_, err = Difference(one, three)
	assert.ErrorIs(t, err, ErrIncompatibleTrees)
}

func TestInfoRoundTrip(t *testing.T) {
	tree, err := NewTree(Range{Lo: 0, Hi: 100}, 5, blocksOf(map[int64]Block{
		42: NewBlock(1, 2, 3, 4),
	}))
	require.NoError(t, err)

	rebuilt, err := FromInfo(tree.Info())
	require.NoError(t, err)

	assert.True(t, tree.Equal(rebuilt))
	assert.Equal(t, tree.Leaves(), rebuilt.Leaves())
}

func TestFromInfoRejectsBadLeafCount(t *testing.T) {
	tree, err := NewEmptyTree(Range{Lo: 0, Hi: 100}, 5)
	require.NoError(t, err)

	info := tree.Info()
	info.Leaves = info.Leaves[:1]

	_, err = FromInfo(info)
	assert.Error(t, err)
}

func TestLeafGeometry(t *testing.T) {
	tree, err := NewEmptyTree(Range{Lo: 0, Hi: 100}, 5)
	require.NoError(t, err)

	// leaf span 32 over a width of 100: four leaves, the last one short
	assert.Equal(t, 4, tree.LeafCount())
	assert.Equal(t, Range{Lo: 0, Hi: 32}, tree.LeafRange(0))
	assert.Equal(t, Range{Lo: 96, Hi: 100}, tree.LeafRange(3))
}

func TestEmptyLeavesCarryZeroDigest(t *testing.T) {
	tree, err := NewEmptyTree(Range{Lo: 0, Hi: 100}, 5)
	require.NoError(t, err)

	for _, leaf := range tree.Leaves() {
		assert.Equal(t, make([]byte, DigestSize), leaf)
	}
}

func TestCompareBlocksOrdersByIdThenType(t *testing.T) {
	assert.Equal(t, -1, CompareBlocks(NewBlock(1, 5, 0, 0), NewBlock(2, 0, 0, 0)))
	assert.Equal(t, -1, CompareBlocks(NewBlock(1, 0, 0, 0), NewBlock(1, 1, 0, 0)))
	assert.Equal(t, 1, CompareBlocks(NewBlock(1, 1, 0, 0), NewBlock(1, 0, 0, 0)))
	assert.Equal(t, 0, CompareBlocks(NewBlock(1, 1, 0, 0), NewBlock(1, 1, 0, 0)))
}

func TestBlockEncodeIsCanonical(t *testing.T) {
	encoded := NewBlock(1, 2, 3, 4).Encode()

	require.Len(t, encoded, BlockSize)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, encoded[0:8])
	assert.Equal(t, []byte{0, 0, 0, 2}, encoded[8:12])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 3}, encoded[12:20])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 4}, encoded[20:28])
}
