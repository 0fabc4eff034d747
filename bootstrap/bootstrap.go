package bootstrap

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"
	"go.uber.org/zap"

	"blobkeeper/internal/application/service"
	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/client"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/messaging/zeromq/listener"
	"blobkeeper/internal/platform/messaging/zeromq/publisher"
	"blobkeeper/internal/platform/metrics"
	"blobkeeper/internal/platform/repository"
	"blobkeeper/internal/platform/server"
	"blobkeeper/internal/platform/server/handler/blob"
	"blobkeeper/internal/platform/server/handler/cluster"
	"blobkeeper/internal/platform/storage"
)

func Run() (bool, error) {
	container := dig.New()
	serviceConstructors := []interface{}{
		config.LoadConfig,
		newLogger,
		newMetrics,
		domain.NewClusterManager,
		domain.NewIdGenerator,
		clusterMembership,
		indexRepository,
		partitionRepository,
		repository.NewIndexUtils,
		storage.NewDiskService,
		storage.NewFileListService,
		storage.NewFileStorage,
		storage.NewWriterTaskQueue,
		storage.NewReplicationQueue,
		storage.NewPartitionService,
		publisher.NewZeroMQReplicationBroadcaster,
		replicationSender,
		listener.NewZeromqReplicationListener,
		configServerClient,
		clusterClient,
		service.NewCompactionService,
		service.NewFileWriterService,
		service.NewRepairService,
		service.NewSaveBlobService,
		service.NewGetBlobService,
		service.NewDeleteBlobService,
		service.NewInstanceAutoRegisterService,
		service.NewUpdateInstancesService,
		service.NewGetAllInstancesService,
		blob.NewBlobHandler,
		cluster.NewClusterHandler,
		server.NewServer,
	}
	for _, constructor := range serviceConstructors {
		if err := container.Provide(constructor); err != nil {
			return false, err
		}
	}
	err := container.Invoke(func(
		cfg config.Config,
		s server.Server,
		writer *service.FileWriterService,
		repair *service.RepairService,
		replicationListener *listener.ZeromqReplicationListener,
		ar *service.InstanceAutoRegisterService,
		g *service.GetAllInstancesService,
	) error {
		ar.Execute()
		if cfg.ConfigServerUrl != "" {
			if err := g.Execute(); err != nil {
				return err
			}
		}

		writer.SetRepairer(repair)
		if err := writer.Start(); err != nil {
			return err
		}
		repair.Start()
		go replicationListener.Listen()

		return s.Run()
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func newLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

func newMetrics() *metrics.Metrics {
	return metrics.NewMetrics(prometheus.DefaultRegisterer)
}

func clusterMembership(cm *domain.ClusterManager) domain.ClusterMembership {
	return cm
}

func indexRepository(cfg config.Config, logger *zap.Logger) (domain.IndexRepository, error) {
	return repository.NewWalIndexRepository(cfg, logger)
}

func partitionRepository(cfg config.Config, logger *zap.Logger) (domain.PartitionRepository, error) {
	return repository.NewFilePartitionRepository(cfg, logger)
}

func replicationSender(b *publisher.ZeroMQReplicationBroadcaster) domain.ReplicationSender {
	return b
}

func configServerClient(cfg config.Config) *client.ConfigServerClient {
	return client.NewConfigServerClient(cfg.ConfigServerUrl)
}

func clusterClient() domain.ClusterClient {
	return client.NewClusterHttpClient()
}
