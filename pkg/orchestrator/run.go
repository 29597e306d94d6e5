package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/otelhelper"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// run is the mutable state of one execution. Only the loop goroutine
// touches it after kickoff; node goroutines receive copies of what they
// need and report back over the results channel.
type run struct {
	engine    *Engine
	execution *models.Execution
	scope     map[string]*models.Node
	order     []*models.Node
	outgoing  map[string][]*models.Connection
	incoming  map[string][]*models.Connection
	inputs    map[string]map[string]map[string]any
	cancelled bool
	stalled   bool
}

func newRun(engine *Engine, execution *models.Execution, scope map[string]*models.Node, seeds map[string]map[string]map[string]any) *run {
	r := &run{
		engine:    engine,
		execution: execution,
		scope:     scope,
		outgoing:  make(map[string][]*models.Connection),
		incoming:  make(map[string][]*models.Connection),
		inputs:    make(map[string]map[string]map[string]any),
	}

	// Deterministic dispatch order keeps logs and tests stable.
	r.order = make([]*models.Node, 0, len(scope))
	for _, node := range scope {
		r.order = append(r.order, node)
	}

	sort.Slice(r.order, func(i, j int) bool { return r.order[i].ID < r.order[j].ID })

	// Only edges with both endpoints in scope gate readiness; an edge
	// from an unreachable node never blocks a reachable one.
	for _, connection := range execution.Snapshot.Connections {
		_, sourceInScope := scope[connection.SourceNodeID]
		_, targetInScope := scope[connection.TargetNodeID]

		if !sourceInScope || !targetInScope || connection.SourceNodeID == connection.TargetNodeID {
			continue
		}

		r.outgoing[connection.SourceNodeID] = append(r.outgoing[connection.SourceNodeID], connection)
		r.incoming[connection.TargetNodeID] = append(r.incoming[connection.TargetNodeID], connection)
	}

	for nodeID, ports := range seeds {
		r.inputs[nodeID] = ports
	}

	return r
}

func (r *run) execute(ctx context.Context) {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, r.execution.WorkflowID),
	)
	defer span.End()

	logger := r.engine.logger.With(
		"execution_id", r.execution.ID,
		"workflow_id", r.execution.WorkflowID,
	)
	logger.InfoContext(ctx, "Starting execution", "mode", string(r.execution.Mode), "nodes", len(r.scope))

	// A cancel can land while the execution is still pending; such a run
	// settles straight to cancelled without ever entering running.
	if ctx.Err() != nil {
		r.cancelled = true
	} else {
		started := time.Now().UTC()
		r.execution.Status = models.ExecutionStatusRunning
		r.execution.StartedAt = &started
		r.save(ctx)

		r.engine.publisher.PublishExecutionStarted(ctx, r.execution)
		r.engine.metrics.ExecutionStarted(string(r.execution.Mode))

		r.loop(ctx)
	}

	finished := time.Now().UTC()
	r.execution.FinishedAt = &finished
	r.execution.Status = r.terminalStatus()

	if r.execution.Status == models.ExecutionStatusError {
		r.execution.Error = r.failureReason()
	}

	r.save(ctx)

	switch r.execution.Status {
	case models.ExecutionStatusCancelled:
		r.engine.publisher.PublishExecutionCancelled(ctx, r.execution)
	case models.ExecutionStatusError:
		r.engine.publisher.PublishExecutionFailed(ctx, r.execution)
	default:
		r.engine.publisher.PublishExecutionCompleted(ctx, r.execution)
	}

	r.engine.metrics.ExecutionCompleted(string(r.execution.Status), r.execution.Duration())
	logger.InfoContext(ctx, "Execution finished",
		"status", string(r.execution.Status),
		"duration", r.execution.Duration().String())
}

// loop dispatches every ready node, funnels results back, and keeps
// going until the scope is settled. After a cancel it stops scheduling
// and drains in-flight nodes for at most the engine's drain timeout.
func (r *run) loop(ctx context.Context) {
	results := make(chan *models.NodeResult, len(r.scope))
	inFlight := 0

	var drain *time.Timer

	for {
		if !r.cancelled && ctx.Err() != nil {
			r.cancelled = true
		}

		if !r.cancelled {
			inFlight += r.dispatchReady(ctx, results)
		}

		if inFlight == 0 {
			// Nothing running and nothing dispatchable. Nodes still
			// without a result at this point can never become ready;
			// their in-scope dependencies form a cycle.
			r.stalled = !r.cancelled && len(r.execution.NodeResults) < len(r.scope)

			return
		}

		if r.cancelled {
			if drain == nil {
				drain = time.NewTimer(r.engine.drainTimeout)
				defer drain.Stop()
			}

			select {
			case result := <-results:
				inFlight--

				r.finishNode(ctx, result)
			case <-drain.C:
				// In-flight nodes have ignored the cancellation signal
				// past the deadline; abandon them. The buffered channel
				// lets their goroutines exit when they finally return.
				return
			}

			continue
		}

		select {
		case result := <-results:
			inFlight--

			r.finishNode(ctx, result)
		case <-ctx.Done():
			r.cancelled = true
		}
	}
}

// dispatchReady starts every node whose in-scope predecessors are all
// terminal. Skips settle immediately and can unblock further nodes, so
// the pass repeats until it stops making progress.
func (r *run) dispatchReady(ctx context.Context, results chan<- *models.NodeResult) int {
	started := 0

	for {
		progressed := false

		for _, node := range r.order {
			if r.execution.NodeResults[node.ID] != nil {
				continue
			}

			if !r.predecessorsTerminal(node.ID) {
				continue
			}

			if reason := r.skipReason(node); reason != "" {
				r.recordSkip(ctx, node, reason)

				progressed = true

				continue
			}

			running := &models.NodeResult{NodeID: node.ID, Status: models.NodeStatusRunning}
			r.execution.NodeResults[node.ID] = running

			go r.executeNode(ctx, node, r.inputsFor(node.ID), results)

			started++
		}

		if !progressed {
			return started
		}
	}
}

func (r *run) predecessorsTerminal(nodeID string) bool {
	for _, connection := range r.incoming[nodeID] {
		result := r.execution.NodeResults[connection.SourceNodeID]
		if result == nil || !result.Status.Terminal() {
			return false
		}
	}

	return true
}

// skipReason decides whether a ready node runs. Disabled nodes never
// run. Otherwise a node runs as long as at least one predecessor
// succeeded; a node fed exclusively by failed or skipped branches is
// skipped, unless the workflow opts into ContinueOnError.
func (r *run) skipReason(node *models.Node) string {
	if node.Disabled {
		return "node is disabled"
	}

	if r.execution.Snapshot.Settings.ContinueOnError {
		return ""
	}

	predecessors := r.incoming[node.ID]
	if len(predecessors) == 0 {
		return ""
	}

	for _, connection := range predecessors {
		result := r.execution.NodeResults[connection.SourceNodeID]
		if result != nil && result.Status == models.NodeStatusSuccess {
			return ""
		}
	}

	return "no upstream branch succeeded"
}

func (r *run) recordSkip(ctx context.Context, node *models.Node, reason string) {
	result := &models.NodeResult{
		NodeID: node.ID,
		Status: models.NodeStatusSkipped,
		Error:  reason,
	}
	r.execution.NodeResults[node.ID] = result

	r.engine.metrics.NodeExecuted(node.Type, string(models.NodeStatusSkipped))
	r.engine.publisher.PublishNodeCompleted(ctx, r.execution, result)
}

// executeNode runs on its own goroutine. It publishes started before
// completed/failed itself so per-node event order survives concurrency.
func (r *run) executeNode(ctx context.Context, node *models.Node, inputs map[string]map[string]any, results chan<- *models.NodeResult) {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, r.execution.ID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, node.Type),
	)
	defer span.End()

	started := time.Now().UTC()
	result := &models.NodeResult{
		NodeID:    node.ID,
		Status:    models.NodeStatusRunning,
		StartedAt: &started,
	}

	r.engine.publisher.PublishNodeStarted(ctx, r.execution, node.ID)

	output, err := r.invoke(ctx, node, inputs)

	finished := time.Now().UTC()
	result.FinishedAt = &finished

	if err != nil {
		result.Status = models.NodeStatusError
		result.Error = err.Error()

		otelhelper.SetError(span, err)
		r.engine.publisher.PublishNodeFailed(ctx, r.execution, result)
	} else {
		result.Status = models.NodeStatusSuccess
		result.Output = make(map[string]any, len(output))

		for port, data := range output {
			result.Output[port] = data
		}

		r.engine.publisher.PublishNodeCompleted(ctx, r.execution, result)
	}

	results <- result
}

func (r *run) invoke(ctx context.Context, node *models.Node, inputs map[string]map[string]any) (protocol.Output, error) {
	definition, err := r.engine.registry.Definition(node.Type)
	if err != nil {
		return nil, err
	}

	input := protocol.ExecutionInput{
		ExecutionID: r.execution.ID,
		WorkflowID:  r.execution.WorkflowID,
		Node:        node,
		Inputs:      inputs,
		TriggerData: r.execution.TriggerData,
		Logger: r.engine.logger.With(
			"execution_id", r.execution.ID,
			"node_id", node.ID,
		),
		Log: func(level, message string) {
			r.engine.publisher.PublishLog(ctx, r.execution, node.ID, level, message)
		},
	}

	return definition.Execute(ctx, input)
}

func (r *run) finishNode(ctx context.Context, result *models.NodeResult) {
	r.execution.NodeResults[result.NodeID] = result

	node := r.scope[result.NodeID]
	r.engine.metrics.NodeExecuted(node.Type, string(result.Status))

	if result.Status == models.NodeStatusSuccess {
		r.propagate(result)
	}

	r.engine.publisher.PublishProgress(ctx, r.execution, r.terminalCount(), len(r.scope))
	r.save(ctx)
}

// propagate moves the node's port outputs onto its successors' input
// ports along each connection.
func (r *run) propagate(result *models.NodeResult) {
	for _, connection := range r.outgoing[result.NodeID] {
		data, ok := result.Output[connection.OutputPort()]
		if !ok {
			continue
		}

		payload, ok := data.(map[string]any)
		if !ok {
			continue
		}

		ports := r.inputs[connection.TargetNodeID]
		if ports == nil {
			ports = make(map[string]map[string]any)
			r.inputs[connection.TargetNodeID] = ports
		}

		ports[connection.InputPort()] = payload
	}
}

func (r *run) inputsFor(nodeID string) map[string]map[string]any {
	ports := r.inputs[nodeID]
	if ports == nil {
		return map[string]map[string]any{}
	}

	// Copied so the node goroutine never shares the loop's map.
	copied := make(map[string]map[string]any, len(ports))
	for port, data := range ports {
		copied[port] = data
	}

	return copied
}

func (r *run) terminalCount() int {
	count := 0

	for _, result := range r.execution.NodeResults {
		if result.Status.Terminal() {
			count++
		}
	}

	return count
}

// terminalStatus settles the execution. Cancelled wins outright, then
// a stalled scope settles error. With no failures the run succeeded.
// With failures, the run is partial as long as at least one sink of
// the executed scope succeeded, error when every path died before its
// sink.
func (r *run) terminalStatus() models.ExecutionStatus {
	if r.cancelled {
		return models.ExecutionStatusCancelled
	}

	if r.stalled {
		return models.ExecutionStatusError
	}

	failures := 0

	for _, node := range r.order {
		result := r.execution.NodeResults[node.ID]
		if result != nil && result.Status == models.NodeStatusError {
			failures++
		}
	}

	if failures == 0 {
		return models.ExecutionStatusSuccess
	}

	for _, node := range r.order {
		if len(r.outgoing[node.ID]) > 0 {
			continue
		}

		result := r.execution.NodeResults[node.ID]
		if result != nil && result.Status == models.NodeStatusSuccess {
			return models.ExecutionStatusPartial
		}
	}

	return models.ExecutionStatusError
}

// failureReason explains an error settlement: the first failed node in
// dispatch order, or a scope whose remaining nodes could never run.
func (r *run) failureReason() string {
	for _, node := range r.order {
		result := r.execution.NodeResults[node.ID]
		if result != nil && result.Status == models.NodeStatusError {
			return fmt.Sprintf("node '%s' failed: %s", node.ID, result.Error)
		}
	}

	if r.stalled {
		return "scope contains unrunnable nodes: remaining dependencies form a cycle"
	}

	return ""
}

func (r *run) save(ctx context.Context) {
	err := r.engine.persistence.ExecutionRepository().Save(ctx, r.execution)
	if err != nil {
		r.engine.logger.ErrorContext(ctx, "Failed to persist execution progress",
			"execution_id", r.execution.ID,
			"error", err)
	}
}
