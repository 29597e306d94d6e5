// Package workflow validates workflow graphs and prepares their
// triggers for storage.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// Definitions is the node-definition lookup the validator and trigger
// preparation depend on.
type Definitions interface {
	ValidateParameters(node *models.Node) ([]string, error)
	TriggerDefinition(nodeType string) (protocol.TriggerNodeDefinition, bool)
}

// ValidationResult is the outcome of one validation pass. Warnings
// never affect validity.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

var shapeValidator = validator.New()

// Validate runs the structural checks over a workflow graph. It is
// pure and order-independent: permuting nodes or connections never
// changes the verdict. All problems are reported together except the
// two short-circuits (malformed shape, empty graph).
func Validate(w *models.Workflow) ValidationResult {
	result := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	if violations := shapeViolations(w); len(violations) > 0 {
		result.Errors = append(result.Errors,
			"Workflow graph is malformed: "+strings.Join(violations, "; "))

		return finish(result)
	}

	result.Errors = append(result.Errors, structViolations("workflow", w)...)

	if len(w.Nodes) == 0 {
		result.Errors = append(result.Errors, "Workflow must contain at least one node")

		return finish(result)
	}

	nodeIDs := make(map[string]bool, len(w.Nodes))

	for _, id := range duplicateNodeIDs(w.Nodes, nodeIDs) {
		result.Errors = append(result.Errors, "Duplicate node ID: "+id)
	}

	result.Errors = append(result.Errors, connectionErrors(w.Connections, nodeIDs)...)

	if hasCycle(w.Nodes, adjacency(w.Connections, nodeIDs)) {
		result.Errors = append(result.Errors, "Workflow contains circular dependencies")
	}

	result.Warnings = append(result.Warnings, orphanWarnings(w.Nodes, w.Connections)...)

	for _, trigger := range w.Triggers {
		if trigger.NodeID != "" && !nodeIDs[trigger.NodeID] {
			result.Errors = append(result.Errors,
				fmt.Sprintf("Trigger '%s' references unknown node '%s'", trigger.ID, trigger.NodeID))
		}
	}

	return finish(result)
}

// ValidateParameters checks every node's parameters against its
// definition schema. Unknown node types are reported as violations.
func ValidateParameters(w *models.Workflow, defs Definitions) []string {
	violations := []string{}

	for _, node := range w.Nodes {
		nodeViolations, err := defs.ValidateParameters(node)
		if err != nil {
			violations = append(violations,
				fmt.Sprintf("Node '%s' has unknown type '%s'", node.ID, node.Type))

			continue
		}

		violations = append(violations, nodeViolations...)
	}

	return violations
}

func finish(result ValidationResult) ValidationResult {
	result.Valid = len(result.Errors) == 0

	return result
}

// shapeViolations reports structural field problems. Any violation
// short-circuits validation: the remaining checks assume well-formed
// entries.
func shapeViolations(w *models.Workflow) []string {
	violations := []string{}

	for i, node := range w.Nodes {
		if node == nil {
			violations = append(violations, fmt.Sprintf("nodes[%d] is null", i))

			continue
		}

		violations = append(violations, structViolations(fmt.Sprintf("nodes[%d]", i), node)...)
	}

	for i, connection := range w.Connections {
		if connection == nil {
			violations = append(violations, fmt.Sprintf("connections[%d] is null", i))

			continue
		}

		violations = append(violations, structViolations(fmt.Sprintf("connections[%d]", i), connection)...)
	}

	for i, trigger := range w.Triggers {
		if trigger == nil {
			violations = append(violations, fmt.Sprintf("triggers[%d] is null", i))

			continue
		}

		violations = append(violations, structViolations(fmt.Sprintf("triggers[%d]", i), trigger)...)
	}

	return violations
}

func structViolations(prefix string, value any) []string {
	err := shapeValidator.Struct(value)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}

	violations := make([]string, 0, len(fieldErrors))

	for _, fieldErr := range fieldErrors {
		switch fieldErr.Tag() {
		case "required":
			violations = append(violations,
				fmt.Sprintf("%s: field '%s' is required", prefix, strings.ToLower(fieldErr.Field())))
		case "oneof":
			violations = append(violations,
				fmt.Sprintf("%s: field '%s' must be one of [%s]", prefix, strings.ToLower(fieldErr.Field()), fieldErr.Param()))
		case "min":
			violations = append(violations,
				fmt.Sprintf("%s: field '%s' must be at least %s characters", prefix, strings.ToLower(fieldErr.Field()), fieldErr.Param()))
		default:
			violations = append(violations,
				fmt.Sprintf("%s: field '%s' is invalid", prefix, strings.ToLower(fieldErr.Field())))
		}
	}

	return violations
}

// duplicateNodeIDs fills ids with every node ID and returns the
// duplicated ones sorted, each reported once.
func duplicateNodeIDs(nodes []*models.Node, ids map[string]bool) []string {
	duplicates := []string{}
	reported := make(map[string]bool)

	for _, node := range nodes {
		if ids[node.ID] && !reported[node.ID] {
			duplicates = append(duplicates, node.ID)
			reported[node.ID] = true
		}

		ids[node.ID] = true
	}

	sort.Strings(duplicates)

	return duplicates
}

func connectionErrors(connections []*models.Connection, nodeIDs map[string]bool) []string {
	errs := []string{}
	seen := make(map[string]bool, len(connections))
	reportedDuplicates := make(map[string]bool)

	for _, connection := range connections {
		if !nodeIDs[connection.SourceNodeID] {
			errs = append(errs, fmt.Sprintf("Connection '%s' references unknown source node '%s'",
				connection.ID, connection.SourceNodeID))
		}

		if !nodeIDs[connection.TargetNodeID] {
			errs = append(errs, fmt.Sprintf("Connection '%s' references unknown target node '%s'",
				connection.ID, connection.TargetNodeID))
		}

		if connection.SourceNodeID == connection.TargetNodeID {
			errs = append(errs, fmt.Sprintf("Connection '%s' connects node '%s' to itself",
				connection.ID, connection.SourceNodeID))
		}

		if seen[connection.ID] && !reportedDuplicates[connection.ID] {
			errs = append(errs, "Duplicate connection ID: "+connection.ID)
			reportedDuplicates[connection.ID] = true
		}

		seen[connection.ID] = true
	}

	return errs
}

// adjacency builds the forward edge list over valid, non-self
// connections. Broken connections are already reported and must not
// distort the cycle check.
func adjacency(connections []*models.Connection, nodeIDs map[string]bool) map[string][]string {
	edges := make(map[string][]string)

	for _, connection := range connections {
		if !nodeIDs[connection.SourceNodeID] || !nodeIDs[connection.TargetNodeID] {
			continue
		}

		if connection.SourceNodeID == connection.TargetNodeID {
			continue
		}

		edges[connection.SourceNodeID] = append(edges[connection.SourceNodeID], connection.TargetNodeID)
	}

	return edges
}

type dfsFrame struct {
	id   string
	next int
}

// hasCycle runs an iterative depth-first search with an explicit
// stack. A back-edge into the in-progress set is a cycle.
func hasCycle(nodes []*models.Node, edges map[string][]string) bool {
	const (
		unvisited = iota
		inProgress
		done
	)

	state := make(map[string]int, len(nodes))

	for _, node := range nodes {
		if state[node.ID] != unvisited {
			continue
		}

		stack := []dfsFrame{{id: node.ID}}
		state[node.ID] = inProgress

		for len(stack) > 0 {
			frame := &stack[len(stack)-1]
			targets := edges[frame.id]

			if frame.next < len(targets) {
				target := targets[frame.next]
				frame.next++

				switch state[target] {
				case inProgress:
					return true
				case unvisited:
					state[target] = inProgress
					stack = append(stack, dfsFrame{id: target})
				}

				continue
			}

			state[frame.id] = done
			stack = stack[:len(stack)-1]
		}
	}

	return false
}

// orphanWarnings reports nodes untouched by any connection. A graph
// with no connections at all produces no orphan warnings.
func orphanWarnings(nodes []*models.Node, connections []*models.Connection) []string {
	if len(connections) == 0 {
		return nil
	}

	connected := make(map[string]bool, len(nodes))
	for _, connection := range connections {
		connected[connection.SourceNodeID] = true
		connected[connection.TargetNodeID] = true
	}

	warnings := []string{}

	for _, node := range nodes {
		if !connected[node.ID] {
			warnings = append(warnings,
				fmt.Sprintf("Node '%s' is not connected to any other node", node.ID))
		}
	}

	return warnings
}
