package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/platform/config"
	"blobkeeper/internal/platform/messaging/zeromq/message"
	"blobkeeper/internal/platform/storage"
)

const (
	ReplicationTopic = "replication"
)

// ZeromqReplicationListener subscribes to the peers' replication publishers
// and feeds inbound writes into the replication queue.
type ZeromqReplicationListener struct {
	sub            zmq4.Socket
	clusterManager *domain.ClusterManager
	queue          *storage.ReplicationQueue
	instances      map[uint64]domain.Node
	mu             sync.Mutex
	cfg            config.Config
	logger         *zap.Logger
}

func NewZeromqReplicationListener(
	cm *domain.ClusterManager,
	queue *storage.ReplicationQueue,
	cfg config.Config,
	logger *zap.Logger,
) *ZeromqReplicationListener {
	reconnectOpt := zmq4.WithAutomaticReconnect(true)
	retryOpt := zmq4.WithDialerRetry(time.Second * 5)
	sub := zmq4.NewSub(context.Background(), reconnectOpt, retryOpt)
	sub.SetOption(zmq4.OptionSubscribe, ReplicationTopic)

	l := &ZeromqReplicationListener{
		sub:            sub,
		clusterManager: cm,
		queue:          queue,
		instances:      make(map[uint64]domain.Node),
		cfg:            cfg,
		logger:         logger,
	}
	l.subscribeToInstanceChanges()
	return l
}

func (l *ZeromqReplicationListener) subscribeToInstanceChanges() {
	sub := l.clusterManager.Subscribe()
	go func() {
		for instances := range sub {
			l.logger.Info("updated instances on replication listener",
				zap.Int("instances", len(instances)))

			l.mu.Lock()
			l.updateSocketSubscriptions(instances)
			for _, instance := range instances {
				l.instances[instance.Id] = instance
			}
			l.mu.Unlock()
		}
	}()
}

func (l *ZeromqReplicationListener) updateSocketSubscriptions(newInstances []domain.Node) {
	self := l.clusterManager.Self()
	for _, instance := range newInstances {
		if self != nil && instance.Id == self.Id {
			continue
		}
		if _, found := l.instances[instance.Id]; !found {
			endpoint := fmt.Sprintf("tcp://%s:%d", instance.Host, instance.Port+l.cfg.ReplicationPortOffset)
			if err := l.sub.Dial(endpoint); err != nil {
				l.logger.Warn("dial replication publisher failed",
					zap.String("endpoint", endpoint),
					zap.Error(err))
				continue
			}
		}
	}
}

func (l *ZeromqReplicationListener) Listen() {
	l.logger.Info("replication listener started")

	for {
		msg, err := l.sub.Recv()
		if err != nil {
			if errors.Is(err, zmq4.ErrClosedConn) {
				l.logger.Info("replication socket closed, exiting listener")
				return
			}
			l.logger.Error("receiving replication message failed", zap.Error(err))
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}

		replicationMsg, err := unmarshalReplicationMessage(msg.Frames[1])
		if err != nil {
			l.logger.Error("bad replication message", zap.Error(err))
			continue
		}
		l.queue.Offer(replicationMsg.ToReplicationFile())
	}
}

func (l *ZeromqReplicationListener) Close() error {
	return l.sub.Close()
}

func unmarshalReplicationMessage(data []byte) (message.ReplicationMessage, error) {
	var replicationMsg message.ReplicationMessage
	if err := json.Unmarshal(data, &replicationMsg); err != nil {
		return message.ReplicationMessage{}, fmt.Errorf("error unmarshalling replication message: %w", err)
	}
	return replicationMsg, nil
}
