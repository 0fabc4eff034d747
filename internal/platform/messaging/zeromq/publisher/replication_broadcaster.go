package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/messaging/zeromq/message"
)

const (
	ReplicationTopic = "replication"
)

// ZeroMQReplicationBroadcaster is the master-side replication fan-out: a PUB
// socket every peer subscribes to. Delivery is best-effort and unordered
// across messages.
type ZeroMQReplicationBroadcaster struct {
	pub            zmq4.Socket
	clusterManager *domain.ClusterManager
	cfg            config.Config
	logger         *zap.Logger
}

func NewZeroMQReplicationBroadcaster(cm *domain.ClusterManager, cfg config.Config, logger *zap.Logger) *ZeroMQReplicationBroadcaster {
	reconnectOpt := zmq4.WithAutomaticReconnect(true)
	retryOpt := zmq4.WithDialerRetry(time.Second * 5)
	socket := zmq4.NewPub(context.Background(), reconnectOpt, retryOpt)

	b := &ZeroMQReplicationBroadcaster{
		pub:            socket,
		clusterManager: cm,
		cfg:            cfg,
		logger:         logger,
	}
	go b.subscribeToCurrentInstance()
	return b
}

func (b *ZeroMQReplicationBroadcaster) subscribeToCurrentInstance() {
	ch := b.clusterManager.SubscribeToGetCurrentInstance()
	for range ch {
		b.Initialize()
	}
}

func (b *ZeroMQReplicationBroadcaster) Initialize() error {
	instance := b.clusterManager.Self()
	if instance == nil {
		return fmt.Errorf("current instance is not registered yet")
	}
	address := fmt.Sprintf("tcp://*:%d", instance.Port+b.cfg.ReplicationPortOffset)
	err := b.pub.Listen(address)
	if err != nil {
		b.logger.Error("starting replication publisher failed", zap.Error(err))
		return err
	}
	b.logger.Info("started replication publisher", zap.String("address", address))
	return nil
}

// Replicate broadcasts one write to every subscribed peer.
func (b *ZeroMQReplicationBroadcaster) Replicate(file domain.ReplicationFile) error {
	payload, err := MarshalReplicationMessage(message.ReplicationMessageFrom(file))
	if err != nil {
		return err
	}
	return b.pub.Send(zmqMessage(ReplicationTopic, payload))
}

func (b *ZeroMQReplicationBroadcaster) Close() error {
	return b.pub.Close()
}

func zmqMessage(topic string, payload []byte) zmq4.Msg {
	return zmq4.NewMsgFrom(
		[][]byte{
			[]byte(topic),
			payload,
		}...,
	)
}

func MarshalReplicationMessage(msg message.ReplicationMessage) ([]byte, error) {
	return json.Marshal(msg)
}
