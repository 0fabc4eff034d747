package service

import (
	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/storage"
)

type GetBlobService struct {
	index       domain.IndexRepository
	fileStorage *storage.FileStorage
}

func NewGetBlobService(index domain.IndexRepository, fileStorage *storage.FileStorage) *GetBlobService {
	return &GetBlobService{
		index:       index,
		fileStorage: fileStorage,
	}
}

type GetBlobQuery struct {
	Id   int64
	Type int
}

type GetBlobResult struct {
	Entry *domain.IndexElt
	Data  []byte
	Found bool
	Err   error
}

func (s *GetBlobService) Execute(query GetBlobQuery) GetBlobResult {
	elt, found := s.index.GetById(query.Id, query.Type)
	if !found || elt.Deleted {
		return GetBlobResult{Found: false}
	}

	data, err := s.fileStorage.Read(elt.Disk, elt.Partition, elt.Offset, elt.Length)
	if err != nil {
		return GetBlobResult{Found: true, Entry: elt, Err: err}
	}
	return GetBlobResult{
		Entry: elt,
		Data:  data,
		Found: true,
	}
}
