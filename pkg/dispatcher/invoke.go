package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/orchestrator"
	"github.com/trellisflow/trellis/pkg/services"
)

// WebhookRequest is the inbound request shape the webhook server hands
// to the dispatcher. All of it becomes trigger data.
type WebhookRequest struct {
	Method     string
	Path       string
	Query      map[string]string
	Headers    map[string]string
	Body       map[string]any
	RemoteAddr string
	UserAgent  string
}

func (r *WebhookRequest) triggerData() map[string]any {
	body := r.Body
	if body == nil {
		body = map[string]any{}
	}

	return map[string]any{
		"method":      r.Method,
		"path":        r.Path,
		"query":       r.Query,
		"headers":     r.Headers,
		"body":        body,
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent,
	}
}

// TriggerResult is the outcome of one trigger invocation. Err carries
// a typed kind; HTTP callers classify on it.
type TriggerResult struct {
	Success     bool
	ExecutionID string
	Err         *services.Error
}

func failure(err *services.Error) TriggerResult {
	return TriggerResult{Err: err}
}

// HandleWebhook resolves a webhook ID to its workflow and starts an
// execution with the request as trigger data. It returns as soon as
// the execution record exists.
func (d *Dispatcher) HandleWebhook(ctx context.Context, webhookID string, req WebhookRequest) TriggerResult {
	const op = "dispatcher.webhook"

	workflow, trigger, serviceErr := d.resolveWebhook(ctx, op, webhookID)
	if serviceErr != nil {
		return failure(serviceErr)
	}

	if err := validatePayload(trigger, req.Body); err != nil {
		return failure(services.NewValidationError(op, err.Error()))
	}

	execution, err := d.engine.StartWorkflow(ctx, orchestrator.StartOptions{
		WorkflowID:    workflow.ID,
		UserID:        workflow.OwnerID,
		TriggerNodeID: trigger.NodeID,
		TriggerData:   req.triggerData(),
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Webhook execution failed to start",
			"workflow_id", workflow.ID,
			"webhook_id", webhookID,
			"error", err)

		return failure(services.NewInternalError(op, err))
	}

	d.logger.InfoContext(ctx, "Webhook execution started",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"webhook_id", webhookID)

	return TriggerResult{Success: true, ExecutionID: execution.ID}
}

// TestWebhook dry-runs the webhook path: the binding is resolved and
// the payload validated, but no execution starts.
func (d *Dispatcher) TestWebhook(ctx context.Context, webhookID string, req WebhookRequest) TriggerResult {
	const op = "dispatcher.webhook_test"

	_, trigger, serviceErr := d.resolveWebhook(ctx, op, webhookID)
	if serviceErr != nil {
		return failure(serviceErr)
	}

	if err := validatePayload(trigger, req.Body); err != nil {
		return failure(services.NewValidationError(op, err.Error()))
	}

	return TriggerResult{Success: true}
}

// HandleManual starts an execution for a trigger fired by its owner.
func (d *Dispatcher) HandleManual(ctx context.Context, workflowID, triggerID, userID string, data map[string]any) TriggerResult {
	const op = "dispatcher.manual"

	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return failure(services.NewInternalError(op, fmt.Errorf("load workflow: %w", err)))
	}

	if workflow == nil || workflow.DeletedAt != nil {
		return failure(services.NewNotFoundError(op, "workflow not found"))
	}

	if workflow.OwnerID != userID {
		return failure(services.NewUnauthorizedError(op, "authentication failed: workflow belongs to another user"))
	}

	if !workflow.Active {
		return failure(services.NewUnauthorizedError(op, "authentication failed: workflow is not active"))
	}

	trigger := findTrigger(workflow, triggerID)
	if trigger == nil {
		return failure(services.NewNotFoundError(op, "trigger not found"))
	}

	if !trigger.Active {
		return failure(services.NewValidationError(op, "trigger is not active"))
	}

	execution, err := d.engine.StartWorkflow(ctx, orchestrator.StartOptions{
		WorkflowID:    workflow.ID,
		UserID:        userID,
		TriggerNodeID: trigger.NodeID,
		TriggerData:   data,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Manual execution failed to start",
			"workflow_id", workflow.ID,
			"trigger_id", triggerID,
			"error", err)

		return failure(services.NewInternalError(op, err))
	}

	return TriggerResult{Success: true, ExecutionID: execution.ID}
}

// resolveWebhook maps a webhook ID to its live workflow and trigger.
// The stored workflow wins over the binding table: a stale binding for
// a deactivated trigger behaves as if it were already unbound.
func (d *Dispatcher) resolveWebhook(ctx context.Context, op, webhookID string) (*models.Workflow, *models.Trigger, *services.Error) {
	binding, ok := d.bindings.lookup(webhookID)
	if !ok {
		return nil, nil, services.NewNotFoundError(op, "webhook not found")
	}

	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, binding.WorkflowID)
	if err != nil {
		return nil, nil, services.NewInternalError(op, fmt.Errorf("load workflow: %w", err))
	}

	if workflow == nil || workflow.DeletedAt != nil {
		return nil, nil, services.NewNotFoundError(op, "webhook not found")
	}

	if !workflow.Active {
		return nil, nil, services.NewUnauthorizedError(op, "webhook authentication failed: workflow is not active")
	}

	trigger := findTrigger(workflow, binding.TriggerID)
	if trigger == nil || !trigger.Active || trigger.WebhookID() != webhookID {
		return nil, nil, services.NewNotFoundError(op, "webhook not found")
	}

	return workflow, trigger, nil
}

func findTrigger(workflow *models.Workflow, triggerID string) *models.Trigger {
	for _, trigger := range workflow.Triggers {
		if trigger.ID == triggerID {
			return trigger
		}
	}

	return nil
}

// validatePayload checks the request body against the trigger's
// payload schema, when one is configured.
func validatePayload(trigger *models.Trigger, body map[string]any) error {
	schema, ok := trigger.Settings[models.TriggerSettingPayloadSchema].(map[string]any)
	if !ok || len(schema) == 0 {
		return nil
	}

	if body == nil {
		body = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(body))
	if err != nil {
		return fmt.Errorf("payload schema is invalid: %w", err)
	}

	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}

		return fmt.Errorf("payload validation failed: %s", strings.Join(violations, "; "))
	}

	return nil
}
