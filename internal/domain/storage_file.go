package domain

import (
	"errors"
	"fmt"
	"os"
)

// AuthTokenHeader is the metadata key carrying upload auth tokens.
const AuthTokenHeader = "X-Blob-Auth-Token"

// StorageFile is one write queued for a disk writer. Exactly one of Data or
// Path is set.
type StorageFile struct {
	Id       int64
	Type     int
	Data     []byte
	Path     string
	Length   int64
	Metadata map[string][]string

	// Compaction files are copy-appended without re-replication; Entry is
	// the index entry being rewritten.
	Compaction bool
	Entry      *IndexElt

	// Rotate markers carry no payload: the disk writer seals the active
	// partition and opens the next one. Queued so that rotation happens on
	// the writer thread like every other partition mutation.
	Rotate bool

	AuthTokens []string
}

func NewStorageFileFromData(id int64, blobType int, data []byte, metadata map[string][]string) (*StorageFile, error) {
	sf := &StorageFile{
		Id:       id,
		Type:     blobType,
		Data:     data,
		Length:   int64(len(data)),
		Metadata: metadata,
	}
	sf.AuthTokens = metadata[AuthTokenHeader]
	return sf, sf.validate()
}

func NewStorageFileFromPath(id int64, blobType int, path string, metadata map[string][]string) (*StorageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat storage file %s: %w", path, err)
	}
	sf := &StorageFile{
		Id:       id,
		Type:     blobType,
		Path:     path,
		Length:   info.Size(),
		Metadata: metadata,
	}
	sf.AuthTokens = metadata[AuthTokenHeader]
	return sf, sf.validate()
}

func (sf *StorageFile) validate() error {
	if (sf.Data == nil) == (sf.Path == "") {
		return errors.New("storage file must have exactly one source")
	}
	if sf.Length <= 0 {
		return errors.New("zero length files are not acceptable")
	}
	return nil
}

// Bytes returns the payload, reading it from disk for path-backed files.
func (sf *StorageFile) Bytes() ([]byte, error) {
	if sf.Data != nil {
		return sf.Data, nil
	}
	if sf.Path != "" {
		return os.ReadFile(sf.Path)
	}
	return nil, errors.New("storage file has no source")
}

func (sf *StorageFile) HasAuthTokens() bool {
	return len(sf.AuthTokens) > 0
}

// ReplicationFile is a fully self-describing write for slave application.
type ReplicationFile struct {
	Entry IndexElt
	Data  []byte
}
