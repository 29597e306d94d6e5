package cmd

import (
	"log/slog"

	"github.com/trellisflow/trellis/pkg/registry"
)

// NewRegistry builds a node-definition registry populated with the
// built-in definitions.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)
	reg.RegisterNativeDefinitions()

	return reg
}
