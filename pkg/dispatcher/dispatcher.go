// Package dispatcher keeps runtime trigger bindings in step with the
// stored workflows: webhook IDs are routed to their (workflow, node)
// pair and schedule triggers are handed to the cron runner. Inbound
// webhook and manual invocations are resolved here and forwarded to
// the execution engine.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/orchestrator"
	"github.com/trellisflow/trellis/pkg/persistence"
)

const (
	defaultReconcileInterval = 60 * time.Second
	reconcilePageSize        = 200

	syncMaxAttempts = 3
	syncBaseBackoff = 200 * time.Millisecond
)

// Starter starts executions. Satisfied by *orchestrator.Engine.
type Starter interface {
	StartWorkflow(ctx context.Context, opts orchestrator.StartOptions) (*models.Execution, error)
}

// Dispatcher owns the runtime trigger state. Sync failures never reach
// the save request that caused them: they are retried with backoff,
// counted, and repaired by the periodic reconciliation sweep.
type Dispatcher struct {
	persistence persistence.Persistence
	engine      Starter
	schedules   *ScheduleManager
	bindings    *bindingTable
	metrics     *metrics.Metrics
	logger      *slog.Logger

	reconcileInterval time.Duration

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	outOfSync map[string]struct{}
}

// NewDispatcher wires a dispatcher. All collaborators are required.
func NewDispatcher(
	store persistence.Persistence,
	engine Starter,
	schedules *ScheduleManager,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		persistence:       store,
		engine:            engine,
		schedules:         schedules,
		bindings:          newBindingTable(),
		metrics:           m,
		logger:            logger.With("module", "dispatcher"),
		reconcileInterval: defaultReconcileInterval,
		locks:             make(map[string]*sync.Mutex),
		outOfSync:         make(map[string]struct{}),
	}
}

// Start binds every stored workflow, starts the cron runner, and kicks
// off the reconciliation sweep. The sweep stops when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.schedules.Start()
	d.reconcileAll(ctx)

	go d.sweep(ctx)

	d.logger.InfoContext(ctx, "Dispatcher started",
		"webhooks", d.WebhookCount(),
		"reconcile_interval", d.reconcileInterval.String())

	return nil
}

// Stop waits for in-flight scheduled jobs to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	return d.schedules.Stop(ctx)
}

// ConsumeWorkflowChanges registers the workflow-topic handlers. The
// caller still subscribes the bus to events.WorkflowsTopic.
func (d *Dispatcher) ConsumeWorkflowChanges(bus eventbus.EventSubscriber) error {
	err := bus.Handle(events.WorkflowUpdatedEvent, func(ctx context.Context, event any) error {
		if update, ok := event.(*events.WorkflowUpdated); ok {
			d.SyncWithRetry(ctx, update.WorkflowID)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return bus.Handle(events.WorkflowDeletedEvent, func(ctx context.Context, event any) error {
		if deleted, ok := event.(*events.WorkflowDeleted); ok {
			d.SyncWithRetry(ctx, deleted.WorkflowID)
		}

		return nil
	})
}

// Sync reconciles one workflow's runtime bindings against its stored
// state. Calls for the same workflow are serialized.
func (d *Dispatcher) Sync(ctx context.Context, workflowID string) error {
	lock := d.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	return d.sync(ctx, workflowID)
}

// SyncWithRetry is the fire-and-forget sync path: bounded exponential
// backoff, final failure logged and counted, never propagated.
func (d *Dispatcher) SyncWithRetry(ctx context.Context, workflowID string) {
	lock := d.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	var err error

	backoff := syncBaseBackoff

	for attempt := 1; attempt <= syncMaxAttempts; attempt++ {
		err = d.sync(ctx, workflowID)
		if err == nil {
			break
		}

		d.logger.WarnContext(ctx, "Trigger sync attempt failed",
			"workflow_id", workflowID,
			"attempt", attempt,
			"error", err)

		if attempt == syncMaxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			attempt = syncMaxAttempts
		}

		backoff *= 2
	}

	d.metrics.TriggerSync(err)

	if err != nil {
		d.logger.ErrorContext(ctx, "Trigger sync failed, leaving workflow for the reconciliation sweep",
			"workflow_id", workflowID,
			"error", err)
		d.setOutOfSync(workflowID, true)

		return
	}

	d.setOutOfSync(workflowID, false)
}

func (d *Dispatcher) sync(ctx context.Context, workflowID string) error {
	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	if workflow == nil || workflow.DeletedAt != nil || !workflow.Active {
		d.bindings.removeWorkflow(workflowID)
		d.schedules.Clear(workflowID)

		return nil
	}

	webhooks := make(map[string]webhookBinding)
	scheduleTriggers := make([]*models.Trigger, 0, len(workflow.Triggers))

	for _, trigger := range workflow.Triggers {
		if !trigger.Active {
			continue
		}

		switch trigger.Type {
		case models.TriggerTypeWebhook:
			webhookID := trigger.WebhookID()
			if webhookID == "" {
				d.logger.WarnContext(ctx, "Webhook trigger has no webhook_id, skipping",
					"workflow_id", workflowID,
					"trigger_id", trigger.ID)

				continue
			}

			webhooks[webhookID] = webhookBinding{
				WorkflowID: workflowID,
				TriggerID:  trigger.ID,
			}
		case models.TriggerTypeSchedule:
			scheduleTriggers = append(scheduleTriggers, trigger)
		}
	}

	d.bindings.replaceWorkflow(workflowID, webhooks)

	if err := d.schedules.Reconcile(workflowID, workflow.OwnerID, scheduleTriggers); err != nil {
		return fmt.Errorf("reconcile schedules: %w", err)
	}

	return nil
}

// sweep periodically repairs drift between stored workflows and
// runtime bindings, covering syncs that exhausted their retries.
func (d *Dispatcher) sweep(ctx context.Context) {
	ticker := time.NewTicker(d.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.reconcileAll(ctx)
		}
	}
}

func (d *Dispatcher) reconcileAll(ctx context.Context) {
	seen := make(map[string]bool)
	offset := 0

	for {
		page, err := d.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
			Limit:  reconcilePageSize,
			Offset: offset,
		})
		if err != nil {
			d.logger.ErrorContext(ctx, "Reconciliation sweep could not list workflows", "error", err)

			return
		}

		for _, workflow := range page.Workflows {
			seen[workflow.ID] = true

			d.SyncWithRetry(ctx, workflow.ID)
		}

		// Advance by what the store actually returned; stores may clamp
		// the requested page size.
		if !page.HasNextPage || len(page.Workflows) == 0 {
			break
		}

		offset += len(page.Workflows)
	}

	// Runtime state for workflows that vanished from storage still has
	// to be torn down.
	for _, workflowID := range d.boundWorkflowIDs() {
		if !seen[workflowID] {
			d.SyncWithRetry(ctx, workflowID)
		}
	}
}

func (d *Dispatcher) boundWorkflowIDs() []string {
	ids := make(map[string]struct{})

	for _, id := range d.bindings.workflowIDs() {
		ids[id] = struct{}{}
	}

	for _, id := range d.schedules.WorkflowIDs() {
		ids[id] = struct{}{}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}

	return out
}

// WebhookCount returns the number of routable webhook bindings.
func (d *Dispatcher) WebhookCount() int {
	return d.bindings.count()
}

// OutOfSyncCount returns how many workflows failed their last sync and
// are waiting for the sweep.
func (d *Dispatcher) OutOfSyncCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.outOfSync)
}

func (d *Dispatcher) workflowLock(workflowID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.locks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[workflowID] = lock
	}

	return lock
}

func (d *Dispatcher) setOutOfSync(workflowID string, failed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if failed {
		d.outOfSync[workflowID] = struct{}{}
	} else {
		delete(d.outOfSync, workflowID)
	}

	d.metrics.SetWorkflowsOutOfSync(len(d.outOfSync))
}

// webhookBinding routes one webhook ID to the trigger that owns it.
type webhookBinding struct {
	WorkflowID string
	TriggerID  string
}

// bindingTable is the concurrent webhook routing table.
type bindingTable struct {
	mu         sync.RWMutex
	byWebhook  map[string]webhookBinding
	byWorkflow map[string][]string
}

func newBindingTable() *bindingTable {
	return &bindingTable{
		byWebhook:  make(map[string]webhookBinding),
		byWorkflow: make(map[string][]string),
	}
}

func (t *bindingTable) lookup(webhookID string) (webhookBinding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	binding, ok := t.byWebhook[webhookID]

	return binding, ok
}

// replaceWorkflow swaps the workflow's webhook set atomically so a
// concurrent lookup never sees a half-applied sync.
func (t *bindingTable) replaceWorkflow(workflowID string, bindings map[string]webhookBinding) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, webhookID := range t.byWorkflow[workflowID] {
		// Another workflow may have claimed the ID since; only drop our own.
		if existing, ok := t.byWebhook[webhookID]; ok && existing.WorkflowID == workflowID {
			delete(t.byWebhook, webhookID)
		}
	}

	delete(t.byWorkflow, workflowID)

	if len(bindings) == 0 {
		return
	}

	ids := make([]string, 0, len(bindings))

	for webhookID, binding := range bindings {
		t.byWebhook[webhookID] = binding
		ids = append(ids, webhookID)
	}

	t.byWorkflow[workflowID] = ids
}

func (t *bindingTable) removeWorkflow(workflowID string) {
	t.replaceWorkflow(workflowID, nil)
}

func (t *bindingTable) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.byWebhook)
}

func (t *bindingTable) workflowIDs() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.byWorkflow))
	for id := range t.byWorkflow {
		ids = append(ids, id)
	}

	return ids
}
