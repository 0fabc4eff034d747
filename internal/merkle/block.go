package merkle

import (
	"encoding/binary"
)

// BlockSize is the canonical encoded size of a Block: id(8) + type(4) + crc(8) + length(8).
const BlockSize = 28

// Block is the descriptor of a stored blob used as merkle leaf input.
type Block struct {
	Id     int64
	Type   int32
	Crc    uint64
	Length int64
}

func NewBlock(id int64, blobType int32, crc uint64, length int64) Block {
	return Block{
		Id:     id,
		Type:   blobType,
		Crc:    crc,
		Length: length,
	}
}

// Encode writes the canonical big-endian form consumed by leaf hashing.
// Both peers must produce these bytes bit-for-bit.
func (b Block) Encode() []byte {
	buf := make([]byte, BlockSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(b.Id))
	binary.BigEndian.PutUint32(buf[8:12], uint32(b.Type))
	binary.BigEndian.PutUint64(buf[12:20], b.Crc)
	binary.BigEndian.PutUint64(buf[20:28], uint64(b.Length))
	return buf
}

// CompareBlocks orders blocks by id, then by type.
func CompareBlocks(a, b interface{}) int {
	one := a.(Block)
	two := b.(Block)
	switch {
	case one.Id < two.Id:
		return -1
	case one.Id > two.Id:
		return 1
	case one.Type < two.Type:
		return -1
	case one.Type > two.Type:
		return 1
	default:
		return 0
	}
}
