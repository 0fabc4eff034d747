package client

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"blobkeeper/internal/domain"
	"blobkeeper/internal/merkle"
	"blobkeeper/internal/platform/messaging/zeromq/message"
)

const clusterRpcTimeout = 5 * time.Second

type MerkleTreeInfoMessage struct {
	Disk      int          `json:"disk"`
	Partition int          `json:"partition"`
	Tree      *merkle.Info `json:"tree"`
}

type DifferenceInfoMessage struct {
	Disk      int            `json:"disk"`
	Partition int            `json:"partition"`
	Ranges    []merkle.Range `json:"ranges"`
}

type FetchRangeRequest struct {
	Ranges []merkle.Range `json:"ranges"`
}

type FetchRangeResponse struct {
	Files []message.ReplicationMessage `json:"files"`
}

// ClusterHttpClient performs the synchronous repair RPCs against a peer.
// Any transport failure or timeout surfaces as ErrPeerUnavailable.
type ClusterHttpClient struct {
	client *resty.Client
}

func NewClusterHttpClient() *ClusterHttpClient {
	return &ClusterHttpClient{
		client: resty.New().SetTimeout(clusterRpcTimeout),
	}
}

func (c *ClusterHttpClient) GetMerkleTreeInfo(node domain.Node, disk, partition int) (*domain.MerkleTreeInfo, error) {
	var resp MerkleTreeInfoMessage
	uri := fmt.Sprintf("%s/cluster/partitions/%d/%d/merkle-tree", node.Address(), disk, partition)

	httpResp, err := c.client.R().SetResult(&resp).Get(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPeerUnavailable, err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrPeerUnavailable, node.Address(), httpResp.StatusCode())
	}

	tree, err := merkle.FromInfo(resp.Tree)
	if err != nil {
		return nil, err
	}
	return &domain.MerkleTreeInfo{
		Disk:      resp.Disk,
		Partition: resp.Partition,
		Tree:      tree,
	}, nil
}

func (c *ClusterHttpClient) GetDifference(node domain.Node, disk, partition int) (*domain.DifferenceInfo, error) {
	var resp DifferenceInfoMessage
	uri := fmt.Sprintf("%s/cluster/partitions/%d/%d/difference", node.Address(), disk, partition)

	httpResp, err := c.client.R().SetResult(&resp).Get(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPeerUnavailable, err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrPeerUnavailable, node.Address(), httpResp.StatusCode())
	}

	return &domain.DifferenceInfo{
		Disk:      resp.Disk,
		Partition: resp.Partition,
		Ranges:    resp.Ranges,
	}, nil
}

func (c *ClusterHttpClient) FetchRange(node domain.Node, disk, partition int, ranges []merkle.Range) ([]domain.ReplicationFile, error) {
	var resp FetchRangeResponse
	uri := fmt.Sprintf("%s/cluster/partitions/%d/%d/fetch-range", node.Address(), disk, partition)

	httpResp, err := c.client.R().
		SetResult(&resp).
		SetBody(&FetchRangeRequest{Ranges: ranges}).
		Post(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPeerUnavailable, err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("%w: %s returned %d", domain.ErrPeerUnavailable, node.Address(), httpResp.StatusCode())
	}

	files := make([]domain.ReplicationFile, 0, len(resp.Files))
	for i := range resp.Files {
		files = append(files, resp.Files[i].ToReplicationFile())
	}
	return files, nil
}
