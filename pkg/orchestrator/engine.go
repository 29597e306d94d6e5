// Package orchestrator runs workflow executions: it walks the graph
// snapshot in dependency order, dispatches ready nodes concurrently,
// records per-node results, and settles the execution's terminal status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/metrics"
	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/persistence"
	"github.com/trellisflow/trellis/pkg/registry"
)

const defaultDrainTimeout = 30 * time.Second

// Callers classify rejected run requests against these sentinels
// instead of matching message text.
var (
	ErrNodeNotInGraph = errors.New("node is not part of the workflow graph")
	ErrNoEntryPoints  = errors.New("workflow has no runnable entry points")
)

// Engine starts and cancels workflow executions. Every collaborator is
// constructor-injected; one engine instance is shared by all requests
// of a process.
type Engine struct {
	id           string
	persistence  persistence.Persistence
	registry     *registry.Registry
	publisher    *events.Publisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	tracer       trace.Tracer
	drainTimeout time.Duration

	mu   sync.Mutex
	runs map[string]context.CancelFunc
	wg   sync.WaitGroup
}

// NewEngine wires an engine. The publisher and metrics may not be nil;
// pass no-op instances in tests that do not assert on them.
func NewEngine(
	store persistence.Persistence,
	reg *registry.Registry,
	publisher *events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		id:           uuid.Must(uuid.NewV7()).String(),
		persistence:  store,
		registry:     reg,
		publisher:    publisher,
		metrics:      m,
		logger:       logger.With("module", "orchestrator"),
		tracer:       otel.Tracer("trellis/orchestrator"),
		drainTimeout: defaultDrainTimeout,
		runs:         make(map[string]context.CancelFunc),
	}
}

// StartOptions describes one workflow run request.
type StartOptions struct {
	WorkflowID    string
	UserID        string
	TriggerNodeID string
	TriggerData   map[string]any

	// Override runs the given graph instead of the persisted one. The
	// engine takes ownership of the snapshot.
	Override *models.GraphSnapshot

	// Wait blocks until the run finishes instead of returning after the
	// pending record is created.
	Wait bool
}

// RunNodeOptions describes a single-node test run.
type RunNodeOptions struct {
	WorkflowID string
	NodeID     string
	UserID     string

	// Input replaces upstream node output on the node's main port.
	Input map[string]any

	// Parameters, when non-nil, replace the node's stored parameters.
	Parameters map[string]any

	// Mode is single (just this node) or workflow (this node and
	// everything downstream). Empty means single.
	Mode models.ExecutionMode

	Override *models.GraphSnapshot
	Wait     bool
}

// StartWorkflow snapshots the graph, creates a pending execution, and
// spawns the run. It returns as soon as the record exists unless
// opts.Wait is set.
func (e *Engine) StartWorkflow(ctx context.Context, opts StartOptions) (*models.Execution, error) {
	if opts.WorkflowID == "" {
		return nil, errors.New("workflow id is required")
	}

	snapshot, err := e.resolveSnapshot(ctx, opts.WorkflowID, opts.Override)
	if err != nil {
		return nil, err
	}

	scope, err := scopeFor(snapshot, opts.TriggerNodeID, models.ExecutionModeWorkflow)
	if err != nil {
		return nil, err
	}

	execution := models.NewExecution(opts.WorkflowID, opts.UserID, snapshot)
	execution.Mode = models.ExecutionModeWorkflow
	execution.TriggerNodeID = opts.TriggerNodeID
	execution.TriggerData = opts.TriggerData

	return e.start(ctx, execution, scope, nil, opts.Wait)
}

// RunNode executes one node with caller-supplied input, alone or with
// its downstream subgraph. It works against unsaved overrides so the
// editor can test nodes before saving.
func (e *Engine) RunNode(ctx context.Context, opts RunNodeOptions) (*models.Execution, error) {
	if opts.WorkflowID == "" {
		return nil, errors.New("workflow id is required")
	}

	if opts.NodeID == "" {
		return nil, errors.New("node id is required")
	}

	snapshot, err := e.resolveSnapshot(ctx, opts.WorkflowID, opts.Override)
	if err != nil {
		return nil, err
	}

	node := snapshot.Node(opts.NodeID)
	if node == nil {
		return nil, fmt.Errorf("node '%s': %w", opts.NodeID, ErrNodeNotInGraph)
	}

	if opts.Parameters != nil {
		node.Parameters = opts.Parameters
	}

	mode := opts.Mode
	if mode == "" {
		mode = models.ExecutionModeSingle
	}

	scope, err := scopeFor(snapshot, opts.NodeID, mode)
	if err != nil {
		return nil, err
	}

	execution := models.NewExecution(opts.WorkflowID, opts.UserID, snapshot)
	execution.Mode = mode
	execution.TriggerNodeID = opts.NodeID

	seed := map[string]map[string]any{}
	if opts.Input != nil {
		seed[models.DefaultPort] = opts.Input
	}

	return e.start(ctx, execution, scope, map[string]map[string]map[string]any{opts.NodeID: seed}, opts.Wait)
}

// Cancel requests cooperative cancellation of a run owned by this
// engine. It reports whether the execution was running locally.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	cancel, ok := e.runs[executionID]
	if ok {
		cancel()
	}

	return ok
}

// ActiveRuns returns the number of executions currently owned by this
// engine.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.runs)
}

// ConsumeCancelRequests registers the control-topic handler. The caller
// still subscribes the bus to events.ControlTopic.
func (e *Engine) ConsumeCancelRequests(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ExecutionCancelRequestedEvent, func(ctx context.Context, event any) error {
		request, ok := event.(*events.ExecutionCancelRequested)
		if !ok {
			return nil
		}

		if e.Cancel(request.ExecutionID) {
			e.logger.InfoContext(ctx, "Cancelled execution on control request",
				"execution_id", request.ExecutionID,
				"requested_by", request.RequestedBy)
		}

		return nil
	})
}

// Shutdown waits for in-flight runs to settle.
func (e *Engine) Shutdown(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) resolveSnapshot(ctx context.Context, workflowID string, override *models.GraphSnapshot) (*models.GraphSnapshot, error) {
	if override != nil {
		return override, nil
	}

	workflow, err := e.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	if workflow == nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	return models.SnapshotWorkflow(workflow), nil
}

func (e *Engine) start(
	ctx context.Context,
	execution *models.Execution,
	scope map[string]*models.Node,
	seeds map[string]map[string]map[string]any,
	wait bool,
) (*models.Execution, error) {
	err := e.persistence.ExecutionRepository().Save(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("save execution: %w", err)
	}

	// The run outlives the request context but keeps its values so
	// trace propagation survives the handoff.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	e.mu.Lock()
	e.runs[execution.ID] = cancel
	e.mu.Unlock()

	r := newRun(e, execution, scope, seeds)

	e.wg.Add(1)

	finish := func() {
		defer e.wg.Done()
		defer cancel()

		r.execute(runCtx)

		e.mu.Lock()
		delete(e.runs, execution.ID)
		e.mu.Unlock()
	}

	if wait {
		finish()

		return execution, nil
	}

	go finish()

	return execution, nil
}

// scopeFor selects the nodes eligible for this run. With a start node
// the scope is that node (mode single) or its downstream closure (mode
// workflow). Without one, a manual run covers everything reachable
// from the graph's trigger-less entry points; trigger nodes only run
// when named as the start, since only then do they have trigger data.
func scopeFor(snapshot *models.GraphSnapshot, startNodeID string, mode models.ExecutionMode) (map[string]*models.Node, error) {
	if startNodeID != "" {
		start := snapshot.Node(startNodeID)
		if start == nil {
			return nil, fmt.Errorf("node '%s': %w", startNodeID, ErrNodeNotInGraph)
		}

		if mode == models.ExecutionModeSingle {
			return map[string]*models.Node{start.ID: start}, nil
		}

		return downstreamClosure(snapshot, []*models.Node{start}), nil
	}

	hasIncoming := make(map[string]bool, len(snapshot.Nodes))

	for _, connection := range snapshot.Connections {
		if connection.SourceNodeID == connection.TargetNodeID {
			continue
		}

		hasIncoming[connection.TargetNodeID] = true
	}

	entries := make([]*models.Node, 0, len(snapshot.Nodes))

	for _, node := range snapshot.Nodes {
		if !hasIncoming[node.ID] && !node.IsTrigger() {
			entries = append(entries, node)
		}
	}

	if len(entries) == 0 {
		return nil, ErrNoEntryPoints
	}

	return downstreamClosure(snapshot, entries), nil
}

func downstreamClosure(snapshot *models.GraphSnapshot, seeds []*models.Node) map[string]*models.Node {
	scope := make(map[string]*models.Node, len(snapshot.Nodes))
	queue := make([]string, 0, len(seeds))

	for _, seed := range seeds {
		scope[seed.ID] = seed
		queue = append(queue, seed.ID)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, connection := range snapshot.Connections {
			if connection.SourceNodeID != current {
				continue
			}

			if _, seen := scope[connection.TargetNodeID]; seen {
				continue
			}

			target := snapshot.Node(connection.TargetNodeID)
			if target == nil {
				continue
			}

			scope[target.ID] = target
			queue = append(queue, target.ID)
		}
	}

	return scope
}
