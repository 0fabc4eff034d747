package merkle

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"hash"

	"github.com/emirpasic/gods/maps/treemap"
)

const (
	// MaxLevel is the default tree depth. A leaf spans 2^level offsets.
	MaxLevel = 15

	// DigestSize is the md5 digest length.
	DigestSize = 16
)

var (
	ErrIncompatibleTrees = errors.New("merkle trees have incompatible range or level")

	zeroDigest = make([]byte, DigestSize)
)

// Range is a half-open [Lo, Hi) window of partition offsets.
type Range struct {
	Lo int64 `json:"lo"`
	Hi int64 `json:"hi"`
}

func (r Range) Width() int64 {
	return r.Hi - r.Lo
}

func (r Range) Contains(offset int64) bool {
	return offset >= r.Lo && offset < r.Hi
}

// Tree is a fixed-shape md5 hash tree over the offset range of a partition.
// Each leaf covers 2^maxLevel offsets; the leaf row is padded with empty
// leaves up to a power of two so the tree is perfect. Empty leaves carry the
// zero digest. Interior nodes hash left || right.
type Tree struct {
	rng      Range
	maxLevel int
	leafSpan int64
	// heap layout: root at 0, children of i at 2i+1 and 2i+2,
	// leaves occupy nodes[leafCount-1:].
	nodes [][]byte
}

// NewTree builds a tree over blocks, a sorted offset -> Block map.
// Blocks outside the range are ignored.
func NewTree(rng Range, maxLevel int, blocks *treemap.Map) (*Tree, error) {
	if rng.Width() <= 0 {
		return nil, fmt.Errorf("invalid tree range [%d, %d)", rng.Lo, rng.Hi)
	}
	if maxLevel < 1 || maxLevel > 62 {
		return nil, fmt.Errorf("invalid tree level %d", maxLevel)
	}

	leafSpan := int64(1) << uint(maxLevel)
	leafCount := pow2Ceil((rng.Width() + leafSpan - 1) / leafSpan)

	leaves := make([][]byte, leafCount)
	for i := range leaves {
		leaves[i] = zeroDigest
	}

	if blocks != nil {
		var hasher hash.Hash
		current := int64(-1)
		it := blocks.Iterator()
		for it.Next() {
			offset := it.Key().(int64)
			if !rng.Contains(offset) {
				continue
			}
			block := it.Value().(Block)
			leaf := (offset - rng.Lo) / leafSpan
			if leaf != current {
				if hasher != nil {
					leaves[current] = hasher.Sum(nil)
				}
				hasher = md5.New()
				current = leaf
			}
			hasher.Write(block.Encode())
		}
		if hasher != nil {
			leaves[current] = hasher.Sum(nil)
		}
	}

	return fromLeaves(rng, maxLevel, leaves), nil
}

// NewEmptyTree builds a tree with no blocks at all.
func NewEmptyTree(rng Range, maxLevel int) (*Tree, error) {
	return NewTree(rng, maxLevel, nil)
}

func fromLeaves(rng Range, maxLevel int, leaves [][]byte) *Tree {
	leafCount := int64(len(leaves))
	nodes := make([][]byte, 2*leafCount-1)
	copy(nodes[leafCount-1:], leaves)
	for i := leafCount - 2; i >= 0; i-- {
		hasher := md5.New()
		hasher.Write(nodes[2*i+1])
		hasher.Write(nodes[2*i+2])
		nodes[i] = hasher.Sum(nil)
	}
	return &Tree{
		rng:      rng,
		maxLevel: maxLevel,
		leafSpan: int64(1) << uint(maxLevel),
		nodes:    nodes,
	}
}

func (t *Tree) Range() Range {
	return t.rng
}

func (t *Tree) MaxLevel() int {
	return t.maxLevel
}

func (t *Tree) LeafCount() int {
	return (len(t.nodes) + 1) / 2
}

// Root returns the root digest.
func (t *Tree) Root() []byte {
	root := make([]byte, DigestSize)
	copy(root, t.nodes[0])
	return root
}

// Leaves returns the leaf digests left to right, padding included.
func (t *Tree) Leaves() [][]byte {
	leafCount := t.LeafCount()
	leaves := make([][]byte, leafCount)
	for i := range leaves {
		leaf := make([]byte, DigestSize)
		copy(leaf, t.nodes[leafCount-1+i])
		leaves[i] = leaf
	}
	return leaves
}

// LeafRange returns the offset window covered by leaf i, clamped to the
// tree range. Padding leaves yield an empty range.
func (t *Tree) LeafRange(i int) Range {
	lo := t.rng.Lo + int64(i)*t.leafSpan
	hi := lo + t.leafSpan
	if hi > t.rng.Hi {
		hi = t.rng.Hi
	}
	if lo > t.rng.Hi {
		lo = t.rng.Hi
	}
	return Range{Lo: lo, Hi: hi}
}

func Compatible(a, b *Tree) bool {
	return a.rng == b.rng && a.maxLevel == b.maxLevel
}

func (t *Tree) Equal(o *Tree) bool {
	return o != nil && Compatible(t, o) && bytes.Equal(t.nodes[0], o.nodes[0])
}

// Difference returns the sorted, non-overlapping leaf ranges where the two
// trees diverge. Fails when the trees do not share range and level.
func Difference(a, b *Tree) ([]Range, error) {
	if a == nil || b == nil || !Compatible(a, b) {
		return nil, ErrIncompatibleTrees
	}

	var out []Range
	leafCount := int64(a.LeafCount())

	var walk func(node, leafLo, width int64)
	walk = func(node, leafLo, width int64) {
		if bytes.Equal(a.nodes[node], b.nodes[node]) {
			return
		}
		if width == 1 {
			r := a.LeafRange(int(leafLo))
			if r.Width() > 0 {
				out = append(out, r)
			}
			return
		}
		half := width / 2
		walk(2*node+1, leafLo, half)
		walk(2*node+2, leafLo+half, half)
	}
	walk(0, 0, leafCount)

	return out, nil
}

// Info is the wire form of a tree: range, level and the leaf digests.
// Interior hashes are recomputed on receipt.
type Info struct {
	Lo       int64    `json:"lo"`
	Hi       int64    `json:"hi"`
	MaxLevel int      `json:"max_level"`
	Leaves   [][]byte `json:"leaves"`
}

func (t *Tree) Info() *Info {
	return &Info{
		Lo:       t.rng.Lo,
		Hi:       t.rng.Hi,
		MaxLevel: t.maxLevel,
		Leaves:   t.Leaves(),
	}
}

// FromInfo rebuilds a tree from its wire form.
func FromInfo(info *Info) (*Tree, error) {
	rng := Range{Lo: info.Lo, Hi: info.Hi}
	if rng.Width() <= 0 || info.MaxLevel < 1 || info.MaxLevel > 62 {
		return nil, fmt.Errorf("invalid tree info [%d, %d) level %d", info.Lo, info.Hi, info.MaxLevel)
	}

	leafSpan := int64(1) << uint(info.MaxLevel)
	expected := pow2Ceil((rng.Width() + leafSpan - 1) / leafSpan)
	if int64(len(info.Leaves)) != expected {
		return nil, fmt.Errorf("tree info has %d leaves, want %d", len(info.Leaves), expected)
	}

	leaves := make([][]byte, len(info.Leaves))
	for i, leaf := range info.Leaves {
		if len(leaf) != DigestSize {
			return nil, fmt.Errorf("leaf %d has %d digest bytes, want %d", i, len(leaf), DigestSize)
		}
		leaves[i] = leaf
	}

	return fromLeaves(rng, info.MaxLevel, leaves), nil
}

func pow2Ceil(n int64) int64 {
	if n < 1 {
		return 1
	}
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}
