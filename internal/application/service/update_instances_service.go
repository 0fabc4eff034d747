package service

import (
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
)

type UpdateInstancesService struct {
	manager *domain.ClusterManager
	logger  *zap.Logger
}

func NewUpdateInstancesService(manager *domain.ClusterManager, logger *zap.Logger) *UpdateInstancesService {
	return &UpdateInstancesService{
		manager: manager,
		logger:  logger,
	}
}

func (u *UpdateInstancesService) Execute(instances []domain.Node) {
	u.manager.SetReplicas(&instances)
	u.logger.Info("updated instance replicas", zap.Int("replicas", len(instances)))
}
