package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/trellisflow/trellis/pkg/models"
	"github.com/trellisflow/trellis/pkg/protocol"
)

// MockNodeDefinition is a mock implementation of the
// protocol.NodeDefinition interface. Setting TriggerKind makes it
// satisfy protocol.TriggerNodeDefinition as well.
type MockNodeDefinition struct {
	mock.Mock

	NodeType    string
	TriggerKind models.TriggerType
}

func (m *MockNodeDefinition) Type() string {
	return m.NodeType
}

func (m *MockNodeDefinition) Name() string {
	return m.NodeType
}

func (m *MockNodeDefinition) Description() string {
	return "mock node definition"
}

func (m *MockNodeDefinition) Schema() map[string]any {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}

	return args.Get(0).(map[string]any)
}

func (m *MockNodeDefinition) Execute(ctx context.Context, input protocol.ExecutionInput) (protocol.Output, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(protocol.Output), args.Error(1)
}

func (m *MockNodeDefinition) TriggerType() models.TriggerType {
	return m.TriggerKind
}
