package domain

import "sync"

// ClusterManager tracks the current node and its replicas as reported by the
// config server. Subscribers are notified on membership changes.
type ClusterManager struct {
	CurrentInstance *Node
	Replicas        *[]Node
	mu              sync.RWMutex
	subscribers     []chan []Node
	ciSubscribers   []chan Node
}

func NewClusterManager() *ClusterManager {
	return &ClusterManager{
		subscribers: []chan []Node{},
	}
}

func (m *ClusterManager) SetCurrentInstance(instance *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CurrentInstance = instance
	for _, ch := range m.ciSubscribers {
		ch <- *instance
	}
}

func (m *ClusterManager) SetReplicas(replicas *[]Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.updateSubscribers()
	m.Replicas = replicas
}

func (m *ClusterManager) updateSubscribers() {
	for _, ch := range m.subscribers {
		go func(c chan []Node) {
			c <- *m.Replicas
		}(ch)
	}
}

func (m *ClusterManager) GetById(id uint64) *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.CurrentInstance != nil && m.CurrentInstance.Id == id {
		return m.CurrentInstance
	}
	if m.Replicas != nil {
		for _, replica := range *m.Replicas {
			if replica.Id == id {
				return &replica
			}
		}
	}
	return nil
}

func (m *ClusterManager) Self() *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CurrentInstance
}

func (m *ClusterManager) Master() *Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.CurrentInstance != nil && m.CurrentInstance.Master {
		return m.CurrentInstance
	}
	if m.Replicas != nil {
		for _, replica := range *m.Replicas {
			if replica.Master {
				return &replica
			}
		}
	}
	return nil
}

func (m *ClusterManager) IsMaster() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CurrentInstance != nil && m.CurrentInstance.Master
}

// Peers returns every known replica except self.
func (m *ClusterManager) Peers() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var peers []Node
	if m.Replicas == nil {
		return peers
	}
	for _, replica := range *m.Replicas {
		if m.CurrentInstance != nil && replica.Id == m.CurrentInstance.Id {
			continue
		}
		peers = append(peers, replica)
	}
	return peers
}

func (m *ClusterManager) Subscribe() <-chan []Node {
	ch := make(chan []Node)
	m.subscribers = append(m.subscribers, ch)
	return ch
}

func (m *ClusterManager) SubscribeToGetCurrentInstance() <-chan Node {
	ch := make(chan Node)
	m.ciSubscribers = append(m.ciSubscribers, ch)
	return ch
}
