package convergence

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/wisbric/otter/pkg/httpclient"
	"github.com/wisbric/otter/pkg/model"
)

// OrchestrationServiceName is the service-catalog name HeatExecutor binds
// against.
const OrchestrationServiceName = "cloudOrchestration"

// HeatExecutor is the alternate experimental executor variant noted in §9
// and promoted to a fully specified alternative in §2C: it treats the
// plan as a CloudFormation-style stack update/create instead of per-step
// compute/LB calls, tracking the stack link on the group's state. It
// implements the same Executor interface as StandardExecutor and honors
// UpdateInProgressError back-off identically.
type HeatExecutor struct {
	Client *httpclient.Client
	Audit  AuditLogger
}

type stackTemplate struct {
	Resources map[string]stackResource `json:"resources"`
}

type stackResource struct {
	Type       string         `json:"type"` // "OS::Nova::Server"
	Properties map[string]any `json:"properties"`
}

func buildTemplate(launch model.LaunchConfig, count int) stackTemplate {
	resources := make(map[string]stackResource, count)
	for i := 0; i < count; i++ {
		resources[fmt.Sprintf("slot-%d", i)] = stackResource{
			Type:       "OS::Nova::Server",
			Properties: launch.Args,
		}
	}
	return stackTemplate{Resources: resources}
}

type createStackRequest struct {
	StackName string        `json:"stack_name"`
	Template  stackTemplate `json:"template"`
}

type createStackResponse struct {
	Stack struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	} `json:"stack"`
}

// Converge creates or updates the group's orchestration stack so it
// declares group.State.Desired server slots.
func (h *HeatExecutor) Converge(ctx context.Context, group *model.ScalingGroup) (Outcome, error) {
	tmpl := buildTemplate(group.LaunchConfig, group.State.Desired)

	var link string
	var err error
	if group.State.HeatStack == "" {
		link, err = h.createStack(ctx, group.TenantID, group.GroupID, tmpl)
	} else {
		err = h.updateStack(ctx, group.TenantID, group.GroupID, group.State.HeatStack, tmpl)
		link = group.State.HeatStack
	}

	if err != nil {
		var uip *model.UpdateInProgressError
		if errors.As(err, &uip) {
			return Retry, err
		}
		return Failure, err
	}

	group.State.HeatStack = link

	if h.Audit != nil {
		h.Audit.LogConvergence(group.TenantID, group.GroupID, 0, group.State.Desired)
	}

	return Success, nil
}

func (h *HeatExecutor) createStack(ctx context.Context, tenantID, groupID string, tmpl stackTemplate) (string, error) {
	req := createStackRequest{StackName: "otter-" + groupID, Template: tmpl}
	var resp createStackResponse
	if err := h.Client.Do(ctx, tenantID, http.MethodPost, "/stacks", &resp,
		httpclient.WithBody(req), httpclient.WithSuccessCodes(201)); err != nil {
		return "", mapOrchestrationError(groupID, err)
	}
	for _, l := range resp.Stack.Links {
		if l.Rel == "self" {
			return l.Href, nil
		}
	}
	return resp.Stack.ID, nil
}

func (h *HeatExecutor) updateStack(ctx context.Context, tenantID, groupID, stackLink string, tmpl stackTemplate) error {
	err := h.Client.Do(ctx, tenantID, http.MethodPut, stackLink, nil,
		httpclient.WithBody(tmpl), httpclient.WithSuccessCodes(202))
	return mapOrchestrationError(groupID, err)
}

// mapOrchestrationError recognizes the orchestration service's UpdateInProgress
// shapes: HTTP 409, or a 400 whose body matches the specific conflicting-
// update pattern (§7).
func mapOrchestrationError(groupID string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 409 {
			return &model.UpdateInProgressError{GroupID: groupID}
		}
		if apiErr.Code == 400 && isConflictingUpdateBody(apiErr.Body) {
			return &model.UpdateInProgressError{GroupID: groupID}
		}
	}
	return err
}

func isConflictingUpdateBody(body []byte) bool {
	return len(body) > 0 && containsBytes(body, []byte("Stack already has an action"))
}

func containsBytes(haystack, needle []byte) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return true
		}
	}
	return false
}
