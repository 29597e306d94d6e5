package web

import (
	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/services"
	"github.com/trellisflow/trellis/pkg/workflow"
)

// TriggerPayload is one trigger in a workflow save request. A nil
// Active defaults to true.
type TriggerPayload struct {
	ID       string             `json:"id,omitempty"`
	Type     models.TriggerType `json:"type"`
	NodeID   string             `json:"node_id,omitempty"`
	Active   *bool              `json:"active,omitempty"`
	Settings map[string]any     `json:"settings,omitempty"`
}

// CreateWorkflowRequest is the body for creating a workflow. The graph
// is saved as a whole; triggers may be omitted and are then derived
// from trigger-capable nodes.
type CreateWorkflowRequest struct {
	Name        string                   `json:"name"`
	Description *string                  `json:"description,omitempty"`
	Active      *bool                    `json:"active,omitempty"`
	Nodes       []*models.Node           `json:"nodes"`
	Connections []*models.Connection     `json:"connections"`
	Triggers    []TriggerPayload         `json:"triggers,omitempty"`
	Settings    *models.WorkflowSettings `json:"settings,omitempty"`
}

// UpdateWorkflowRequest is the body for updating a workflow. Every
// field is optional: omitted fields keep their stored values.
type UpdateWorkflowRequest struct {
	Name        *string                  `json:"name,omitempty"`
	Description *string                  `json:"description,omitempty"`
	Active      *bool                    `json:"active,omitempty"`
	Nodes       []*models.Node           `json:"nodes,omitempty"`
	Connections []*models.Connection     `json:"connections,omitempty"`
	Triggers    []TriggerPayload         `json:"triggers,omitempty"`
	Settings    *models.WorkflowSettings `json:"settings,omitempty"`
}

// RunWorkflowRequest is the body for a manual run. Without a trigger
// node the run starts from every entry point.
type RunWorkflowRequest struct {
	TriggerNodeID string         `json:"triggerNodeId,omitempty"`
	TriggerData   map[string]any `json:"triggerData,omitempty"`
}

// RunNodeRequest is the body for a node test run. WorkflowData
// overrides the stored graph so unsaved editor state can be exercised.
type RunNodeRequest struct {
	Mode         string                `json:"mode,omitempty"`
	Input        map[string]any        `json:"input,omitempty"`
	Parameters   map[string]any        `json:"parameters,omitempty"`
	WorkflowData *models.GraphSnapshot `json:"workflowData,omitempty"`
}

// SaveWorkflowResponse carries the persisted workflow together with
// the validation warnings that did not block the save.
type SaveWorkflowResponse struct {
	Workflow *models.Workflow `json:"workflow"`
	Warnings []string         `json:"warnings"`
}

// StartExecutionResponse acknowledges an accepted run without waiting
// for it to finish.
type StartExecutionResponse struct {
	ExecutionID string                 `json:"executionId"`
	Status      models.ExecutionStatus `json:"status"`
}

func (r CreateWorkflowRequest) saveInput() services.SaveWorkflowInput {
	return services.SaveWorkflowInput{
		Name:        r.Name,
		Description: r.Description,
		Active:      r.Active,
		Nodes:       r.Nodes,
		Connections: r.Connections,
		Triggers:    triggerInputs(r.Triggers),
		Settings:    r.Settings,
	}
}

func (r UpdateWorkflowRequest) saveInput() services.SaveWorkflowInput {
	input := services.SaveWorkflowInput{
		Description: r.Description,
		Active:      r.Active,
		Nodes:       r.Nodes,
		Connections: r.Connections,
		Triggers:    triggerInputs(r.Triggers),
		Settings:    r.Settings,
	}

	if r.Name != nil {
		input.Name = *r.Name
	}

	return input
}

// triggerInputs keeps nilness: a nil payload slice means the field was
// not supplied.
func triggerInputs(payloads []TriggerPayload) []workflow.TriggerInput {
	if payloads == nil {
		return nil
	}

	inputs := make([]workflow.TriggerInput, 0, len(payloads))
	for _, payload := range payloads {
		inputs = append(inputs, workflow.TriggerInput{
			ID:       payload.ID,
			Type:     payload.Type,
			NodeID:   payload.NodeID,
			Active:   payload.Active,
			Settings: payload.Settings,
		})
	}

	return inputs
}
