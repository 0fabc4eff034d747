package service

import (
	"errors"
	"fmt"

	"blobkeeper/internal/domain"
)

type DeleteBlobService struct {
	index domain.IndexRepository
}

func NewDeleteBlobService(index domain.IndexRepository) *DeleteBlobService {
	return &DeleteBlobService{
		index: index,
	}
}

type DeleteBlobCommand struct {
	Id int64
}

type DeleteBlobResult struct {
	Deleted int
	Err     error
}

// Execute tombstones every type of one id. Payload bytes stay on disk
// until compaction.
func (s *DeleteBlobService) Execute(command DeleteBlobCommand) DeleteBlobResult {
	elts := s.index.ListById(command.Id)
	if len(elts) == 0 {
		return DeleteBlobResult{
			Err: errors.New(fmt.Sprintf("entry with id: %d not found in index", command.Id)),
		}
	}

	deleted := 0
	for _, elt := range elts {
		if err := s.index.Delete(elt); err != nil {
			return DeleteBlobResult{Deleted: deleted, Err: err}
		}
		deleted++
	}
	return DeleteBlobResult{Deleted: deleted}
}
