// Package cloud binds pkg/httpclient to the three external services named
// in §6: compute (Nova-style server listing/create/delete), load balancers,
// and the optional RackConnect v3 pool membership API.
package cloud

import (
	"context"
	"fmt"
	"net/http"

	"github.com/wisbric/otter/pkg/model"
)

const (
	ComputeServiceName = "cloudServersOpenStack"
	pageLimit          = 100
	ownerMetadataKey   = "rax:auto_scaling_group_id"
)

// ComputeClient lists, creates, and deletes compute servers for a group.
type ComputeClient struct {
	http *boundClient
}

func NewComputeClient(bound *boundClient) *ComputeClient {
	return &ComputeClient{http: bound}
}

type novaServerDTO struct {
	ID                string            `json:"id"`
	Status            string            `json:"status"`
	Created           string            `json:"created"`
	Metadata          map[string]string `json:"metadata"`
	ServicenetAddress string            `json:"servicenet_address,omitempty"`
}

type serverListResponse struct {
	Servers []novaServerDTO `json:"servers"`
	Links   []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"servers_links"`
}

// ListGroupServers lists servers tagged with the group's ownership metadata
// key, paginating at pageLimit until a short page returns, per §4.H step 1.
func (c *ComputeClient) ListGroupServers(ctx context.Context, tenantID, groupID string) ([]model.NovaServer, error) {
	var all []model.NovaServer
	marker := ""

	for {
		path := fmt.Sprintf("/servers/detail?limit=%d", pageLimit)
		if marker != "" {
			path += "&marker=" + marker
		}

		var resp serverListResponse
		if err := c.http.Do(ctx, tenantID, http.MethodGet, path, &resp); err != nil {
			return nil, fmt.Errorf("listing servers: %w", err)
		}

		for _, dto := range resp.Servers {
			if dto.Metadata[ownerMetadataKey] != groupID {
				continue
			}
			all = append(all, toNovaServer(dto))
		}

		if len(resp.Servers) < pageLimit {
			break
		}
		marker = resp.Servers[len(resp.Servers)-1].ID
	}

	return all, nil
}

func toNovaServer(dto novaServerDTO) model.NovaServer {
	state := model.ServerUnknown
	switch dto.Status {
	case "ACTIVE":
		state = model.ServerActive
	case "BUILD":
		state = model.ServerBuild
	case "ERROR":
		state = model.ServerError
	}

	created, _ := parseRFC3339(dto.Created)

	return model.NovaServer{
		ID:                dto.ID,
		State:             state,
		Created:           created,
		ServicenetAddress: dto.ServicenetAddress,
	}
}

type createServerRequest struct {
	Server map[string]any `json:"server"`
}

// CreateServer dispatches a CreateServer step. Success codes are 201/202
// per §4.H step 3.
func (c *ComputeClient) CreateServer(ctx context.Context, tenantID string, launch model.LaunchConfig) error {
	body := createServerRequest{Server: launch.Args}
	return c.http.DoWithOptions(ctx, tenantID, http.MethodPost, "/servers", nil, body, []int{201, 202}, nil)
}

// DeleteServer dispatches a DeleteServer step. Success codes are 202/204.
func (c *ComputeClient) DeleteServer(ctx context.Context, tenantID, serverID string) error {
	path := "/servers/" + serverID
	return c.http.DoWithOptions(ctx, tenantID, http.MethodDelete, path, nil, nil, []int{202, 204}, nil)
}
