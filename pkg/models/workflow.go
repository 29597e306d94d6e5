// Package models defines the core domain models for node-based workflow orchestration.
package models

import "time"

// Workflow is a directed graph of typed nodes wired by port-addressed
// connections, with the triggers that can start it.
type Workflow struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"        validate:"required,min=3"`
	Description string           `json:"description,omitempty"`
	OwnerID     string           `json:"owner_id"    validate:"required"`
	Active      bool             `json:"active"` // Inactive workflows keep no runtime trigger bindings
	Nodes       []*Node          `json:"nodes"`
	Connections []*Connection    `json:"connections"`
	Triggers    []*Trigger       `json:"triggers"`
	Settings    WorkflowSettings `json:"settings"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	DeletedAt   *time.Time       `json:"deleted_at,omitempty"`
}

// WorkflowSettings carries per-workflow execution policy.
type WorkflowSettings struct {
	// ContinueOnError keeps downstream nodes eligible after a node failure
	// instead of skipping the branches that depend on it.
	ContinueOnError bool `json:"continue_on_error"`

	// Timezone is the default IANA zone for schedule triggers that do not
	// set their own.
	Timezone string `json:"timezone,omitempty"`
}

// Node returns the node with the given ID, or nil.
func (w *Workflow) Node(id string) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}

	return nil
}

// Trigger returns the trigger with the given ID, or nil.
func (w *Workflow) Trigger(id string) *Trigger {
	for _, t := range w.Triggers {
		if t.ID == id {
			return t
		}
	}

	return nil
}
