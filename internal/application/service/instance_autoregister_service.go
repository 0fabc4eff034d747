package service

import (
	"net"
	"time"

	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/client"
	"blobkeeper/internal/platform/config"
)

type InstanceAutoRegisterService struct {
	configServer   *client.ConfigServerClient
	clusterManager *domain.ClusterManager
	config         config.Config
	logger         *zap.Logger
}

func NewInstanceAutoRegisterService(
	configServer *client.ConfigServerClient,
	clusterManager *domain.ClusterManager,
	cfg config.Config,
	logger *zap.Logger,
) *InstanceAutoRegisterService {
	return &InstanceAutoRegisterService{
		configServer:   configServer,
		clusterManager: clusterManager,
		config:         cfg,
		logger:         logger,
	}
}

// Execute registers this node with the config server, retrying until it
// succeeds. Without a config server the node runs standalone.
func (i *InstanceAutoRegisterService) Execute() {
	instance := domain.Node{
		Host:   i.getOutboundIP(),
		Port:   i.config.ServerPort,
		Master: i.config.IsMaster,
	}

	if i.config.ConfigServerUrl == "" {
		instance.Id = 1
		i.clusterManager.SetCurrentInstance(&instance)
		i.logger.Info("no config server configured, running standalone",
			zap.Bool("master", instance.Master))
		return
	}

	ticker := time.NewTicker(time.Second * 60)
	defer ticker.Stop()

	for {
		registeredInstance, err := i.configServer.RegisterInstance(instance)
		if err == nil {
			i.clusterManager.SetCurrentInstance(registeredInstance)
			i.logger.Info("registered current instance",
				zap.Uint64("id", registeredInstance.Id),
				zap.Bool("master", registeredInstance.Master))
			break
		}
		i.logger.Warn("failed to register instance, retrying in 60s", zap.Error(err))
		<-ticker.C
	}
}

func (i *InstanceAutoRegisterService) getOutboundIP() string {
	if i.config.DeploymentMode == "devel" {
		return "localhost"
	}
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		i.logger.Fatal("can't resolve outbound address", zap.Error(err))
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String()
}
