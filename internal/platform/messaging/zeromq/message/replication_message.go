package message

import (
	"github.com/google/uuid"

	"blobkeeper/internal/domain"
)

type EntryMessage struct {
	Id        int64               `json:"id"`
	Type      int                 `json:"type"`
	Disk      int                 `json:"disk"`
	Partition int                 `json:"partition"`
	Offset    int64               `json:"offset"`
	Length    int64               `json:"length"`
	Crc       uint64              `json:"crc"`
	Metadata  map[string][]string `json:"metadata,omitempty"`
	Deleted   bool                `json:"deleted,omitempty"`
	Created   int64               `json:"created,omitempty"`
}

func EntryMessageFrom(elt domain.IndexElt) EntryMessage {
	return EntryMessage{
		Id:        elt.Id,
		Type:      elt.Type,
		Disk:      elt.Disk,
		Partition: elt.Partition,
		Offset:    elt.Offset,
		Length:    elt.Length,
		Crc:       elt.Crc,
		Metadata:  elt.Metadata,
		Deleted:   elt.Deleted,
		Created:   elt.Created,
	}
}

func (m *EntryMessage) ToIndexElt() domain.IndexElt {
	return domain.IndexElt{
		Id:        m.Id,
		Type:      m.Type,
		Disk:      m.Disk,
		Partition: m.Partition,
		Offset:    m.Offset,
		Length:    m.Length,
		Crc:       m.Crc,
		Metadata:  m.Metadata,
		Deleted:   m.Deleted,
		Created:   m.Created,
	}
}

// ReplicationMessage carries one replicated write: the index entry plus the
// payload bytes, base64-encoded on the wire.
type ReplicationMessage struct {
	MessageId string       `json:"message_id"`
	Entry     EntryMessage `json:"entry"`
	Data      []byte       `json:"data"`
}

func ReplicationMessageFrom(file domain.ReplicationFile) ReplicationMessage {
	return ReplicationMessage{
		MessageId: uuid.NewString(),
		Entry:     EntryMessageFrom(file.Entry),
		Data:      file.Data,
	}
}

func (m *ReplicationMessage) ToReplicationFile() domain.ReplicationFile {
	return domain.ReplicationFile{
		Entry: m.Entry.ToIndexElt(),
		Data:  m.Data,
	}
}
