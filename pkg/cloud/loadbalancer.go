package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wisbric/otter/pkg/model"
)

const LoadBalancerServiceName = "cloudLoadBalancers"

// LoadBalancerClient dispatches load-balancer membership steps.
type LoadBalancerClient struct {
	http *boundClient
}

func NewLoadBalancerClient(bound *boundClient) *LoadBalancerClient {
	return &LoadBalancerClient{http: bound}
}

type lbNodeDTO struct {
	ID        string `json:"id,omitempty"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	Weight    int    `json:"weight"`
	Condition string `json:"condition"`
	Type      string `json:"type"`
}

type lbNodesResponse struct {
	Nodes []lbNodeDTO `json:"nodes"`
}

// ListNodes fetches current node membership for one load balancer.
func (c *LoadBalancerClient) ListNodes(ctx context.Context, tenantID, lbID string) ([]model.LBNode, error) {
	var resp lbNodesResponse
	path := fmt.Sprintf("/loadbalancers/%s/nodes", lbID)
	if err := c.http.Do(ctx, tenantID, http.MethodGet, path, &resp); err != nil {
		return nil, fmt.Errorf("listing nodes for lb %s: %w", lbID, err)
	}

	nodes := make([]model.LBNode, 0, len(resp.Nodes))
	for _, dto := range resp.Nodes {
		nodes = append(nodes, model.LBNode{
			LBID:    lbID,
			NodeID:  dto.ID,
			Address: dto.Address,
			Config: model.LBNodeConfig{
				LBID:      lbID,
				Port:      dto.Port,
				Weight:    dto.Weight,
				Condition: model.LBCondition(dto.Condition),
				Type:      model.LBType(dto.Type),
			},
		})
	}
	return nodes, nil
}

type addNodeRequest struct {
	Nodes []lbNodeDTO `json:"nodes"`
}

// AddToLoadBalancer dispatches an AddToLoadBalancer step. Node-address
// collisions are treated as idempotent success per §6.
func (c *LoadBalancerClient) AddToLoadBalancer(ctx context.Context, tenantID string, step model.Step) error {
	path := fmt.Sprintf("/loadbalancers/%s/nodes", step.LBID)
	body := addNodeRequest{Nodes: []lbNodeDTO{{
		Address:   step.Address,
		Port:      step.Port,
		Weight:    step.Weight,
		Condition: string(step.Condition),
		Type:      string(step.Type),
	}}}
	err := c.http.DoWithOptions(ctx, tenantID, http.MethodPost, path, nil, body, []int{200, 202}, nil)
	if isAddressCollision(err) {
		return nil
	}
	return err
}

type changeNodeRequest struct {
	Node lbNodeDTO `json:"node"`
}

// ChangeLoadBalancerNode dispatches a ChangeLoadBalancerNode step.
func (c *LoadBalancerClient) ChangeLoadBalancerNode(ctx context.Context, tenantID string, step model.Step) error {
	path := fmt.Sprintf("/loadbalancers/%s/nodes/%s", step.LBID, step.NodeID)
	body := changeNodeRequest{Node: lbNodeDTO{
		Weight:    step.Weight,
		Condition: string(step.Condition),
		Type:      string(step.Type),
	}}
	return c.http.DoWithOptions(ctx, tenantID, http.MethodPut, path, nil, body, []int{200, 202}, nil)
}

// RemoveFromLoadBalancer dispatches a RemoveFromLoadBalancer step.
func (c *LoadBalancerClient) RemoveFromLoadBalancer(ctx context.Context, tenantID string, step model.Step) error {
	path := fmt.Sprintf("/loadbalancers/%s/nodes/%s", step.LBID, step.NodeID)
	return c.http.DoWithOptions(ctx, tenantID, http.MethodDelete, path, nil, nil, []int{200, 202, 204}, nil)
}

// isAddressCollision reports whether err is the LB service's duplicate-
// address rejection (422), treated as idempotent success per §6 rather
// than surfaced as a failure.
func isAddressCollision(err error) bool {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 422
	}
	return false
}
