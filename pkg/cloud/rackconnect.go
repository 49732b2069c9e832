package cloud

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wisbric/otter/pkg/model"
)

const RackConnectServiceName = "rackConnect"

// RackConnectClient dispatches the optional RackConnect v3 load-balancer
// pool membership steps (§6). It is only constructed when
// Config.RackConnectEnabled is set.
type RackConnectClient struct {
	http *boundClient
}

func NewRackConnectClient(bound *boundClient) *RackConnectClient {
	return &RackConnectClient{http: bound}
}

type rcv3PoolRef struct {
	ID string `json:"id"`
}

type rcv3ServerRef struct {
	ID string `json:"id"`
}

type rcv3NodeEntry struct {
	LoadBalancerPool rcv3PoolRef   `json:"load_balancer_pool"`
	CloudServer      rcv3ServerRef `json:"cloud_server"`
}

// ListNodes fetches current RCv3 pool membership for the given servers, one
// request per server since the pool-membership listing endpoint is scoped
// by cloud server (mirroring LoadBalancerClient.ListNodes's per-lb scoping).
func (c *RackConnectClient) ListNodes(ctx context.Context, tenantID string, serverIDs []string) ([]model.RCv3Node, error) {
	var all []model.RCv3Node
	for _, serverID := range serverIDs {
		path := fmt.Sprintf("/load_balancer_pools/nodes?cloud_server_id=%s", serverID)
		var resp []rcv3NodeEntry
		if err := c.http.Do(ctx, tenantID, http.MethodGet, path, &resp); err != nil {
			return nil, fmt.Errorf("listing rcv3 pool membership for server %s: %w", serverID, err)
		}
		for _, entry := range resp {
			all = append(all, model.RCv3Node{PoolID: entry.LoadBalancerPool.ID, ServerID: entry.CloudServer.ID})
		}
	}
	return all, nil
}

// AddNode adds a cloud server to an RCv3 load-balancer pool. Success is 201.
func (c *RackConnectClient) AddNode(ctx context.Context, tenantID, poolID, serverID string) error {
	body := []rcv3NodeEntry{{
		LoadBalancerPool: rcv3PoolRef{ID: poolID},
		CloudServer:      rcv3ServerRef{ID: serverID},
	}}
	return c.http.DoWithOptions(ctx, tenantID, http.MethodPost, "/load_balancer_pools/nodes", nil, body, []int{201}, nil)
}

// RemoveNode removes a cloud server from an RCv3 load-balancer pool.
// Success is 204.
func (c *RackConnectClient) RemoveNode(ctx context.Context, tenantID, poolID, serverID string) error {
	body := []rcv3NodeEntry{{
		LoadBalancerPool: rcv3PoolRef{ID: poolID},
		CloudServer:      rcv3ServerRef{ID: serverID},
	}}
	return c.http.DoWithOptions(ctx, tenantID, http.MethodDelete, "/load_balancer_pools/nodes", nil, body, []int{204}, nil)
}
