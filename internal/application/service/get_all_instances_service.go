package service

import (
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/client"
)

type GetAllInstancesService struct {
	configServer   *client.ConfigServerClient
	clusterManager *domain.ClusterManager
	logger         *zap.Logger
}

func NewGetAllInstancesService(
	configServer *client.ConfigServerClient,
	clusterManager *domain.ClusterManager,
	logger *zap.Logger,
) *GetAllInstancesService {
	return &GetAllInstancesService{
		configServer:   configServer,
		clusterManager: clusterManager,
		logger:         logger,
	}
}

func (g *GetAllInstancesService) Execute() error {
	if g.configServer == nil {
		return nil
	}

	instances, err := g.configServer.FindAllInstances()
	if err != nil {
		return err
	}

	g.clusterManager.SetReplicas(instances)
	g.logger.Info("retrieved replica instances from config server",
		zap.Int("instances", len(*instances)))
	return nil
}
