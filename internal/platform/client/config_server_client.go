package client

import (
	"blobkeeper/internal/domain"

	"github.com/go-resty/resty/v2"
)

const (
	instances_endpoint = "/api/v1/instances"
)

// ConfigServerClient registers this node with the config server and lists
// the cluster members it knows about.
type ConfigServerClient struct {
	client    *resty.Client
	serverUrl string
}

func NewConfigServerClient(configServerUrl string) *ConfigServerClient {
	return &ConfigServerClient{
		client:    resty.New(),
		serverUrl: configServerUrl,
	}
}

type RegisterInstanceRequest struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Master bool   `json:"master"`
}

func (c *ConfigServerClient) RegisterInstance(node domain.Node) (*domain.Node, error) {
	var resp domain.Node
	uri := c.serverUrl + instances_endpoint
	body := RegisterInstanceRequest{
		Host:   node.Host,
		Port:   node.Port,
		Master: node.Master,
	}
	_, err := c.client.R().SetResult(&resp).SetBody(&body).Post(uri)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *ConfigServerClient) FindAllInstances() (*[]domain.Node, error) {
	var resp []domain.Node
	uri := c.serverUrl + instances_endpoint

	_, err := c.client.R().SetResult(&resp).Get(uri)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
