package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/orchestrator"
)

// ScheduleManager runs the cron jobs behind schedule triggers. One
// shared cron runner hosts every workflow's entries; Reconcile swaps a
// workflow's entry set to match its stored triggers.
type ScheduleManager struct {
	engine Starter
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

func NewScheduleManager(engine Starter, logger *slog.Logger) *ScheduleManager {
	runner := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	return &ScheduleManager{
		engine:  engine,
		cron:    runner,
		logger:  logger.With("module", "schedule_manager"),
		entries: make(map[string][]cron.EntryID),
	}
}

// Start begins firing jobs. Entries may be added before or after.
func (m *ScheduleManager) Start() {
	m.cron.Start()
}

// Stop halts the runner and waits for in-flight jobs, up to the
// context deadline.
func (m *ScheduleManager) Stop(ctx context.Context) error {
	select {
	case <-m.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconcile replaces the workflow's cron entries with one entry per
// active schedule trigger. On a bad expression the whole set is rolled
// back so the caller can retry the sync.
func (m *ScheduleManager) Reconcile(workflowID, ownerID string, triggers []*models.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(workflowID)

	added := make([]cron.EntryID, 0, len(triggers))

	for _, trigger := range triggers {
		if !trigger.Active {
			continue
		}

		expression := trigger.Setting(models.TriggerSettingExpression)
		if expression == "" {
			m.logger.Warn("Schedule trigger has no expression, skipping",
				"workflow_id", workflowID,
				"trigger_id", trigger.ID)

			continue
		}

		spec := expression
		timezone := trigger.Setting(models.TriggerSettingTimezone)
		if timezone != "" {
			spec = "CRON_TZ=" + timezone + " " + expression
		}

		entryID, err := m.cron.AddFunc(spec, m.job(workflowID, ownerID, trigger.NodeID, expression, timezone))
		if err != nil {
			for _, id := range added {
				m.cron.Remove(id)
			}

			return fmt.Errorf("schedule trigger %s: %w", trigger.ID, err)
		}

		added = append(added, entryID)
	}

	if len(added) > 0 {
		m.entries[workflowID] = added
	}

	return nil
}

// Clear drops all cron entries for the workflow.
func (m *ScheduleManager) Clear(workflowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(workflowID)
}

// EntryCount returns how many cron entries the workflow currently has.
func (m *ScheduleManager) EntryCount(workflowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries[workflowID])
}

// WorkflowIDs lists the workflows that currently hold cron entries.
func (m *ScheduleManager) WorkflowIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}

	return ids
}

func (m *ScheduleManager) removeLocked(workflowID string) {
	for _, id := range m.entries[workflowID] {
		m.cron.Remove(id)
	}

	delete(m.entries, workflowID)
}

// job builds the closure a cron entry runs. Jobs outlive any request,
// so they start executions from a background context.
func (m *ScheduleManager) job(workflowID, ownerID, nodeID, expression, timezone string) func() {
	return func() {
		ctx := context.Background()

		execution, err := m.engine.StartWorkflow(ctx, orchestrator.StartOptions{
			WorkflowID:    workflowID,
			UserID:        ownerID,
			TriggerNodeID: nodeID,
			TriggerData: map[string]any{
				"scheduled_time": time.Now().UTC().Format(time.RFC3339),
				"expression":     expression,
				"timezone":       timezone,
			},
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "Scheduled execution failed to start",
				"workflow_id", workflowID,
				"error", err)

			return
		}

		m.logger.InfoContext(ctx, "Scheduled execution started",
			"workflow_id", workflowID,
			"execution_id", execution.ID,
			"expression", expression)
	}
}
