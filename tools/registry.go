// Package tools provides a metadata-driven registry for MCP tool definitions
// and the dispatcher that wraps every invocation with gating, validation,
// error translation, and telemetry.
package tools

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Tool categories. A category can appear in disabledTools to switch off a
// whole group.
const (
	CategoryMongoDB    = "mongodb"
	CategoryAtlas      = "atlas"
	CategoryAtlasLocal = "atlas-local"
)

// Operation types. The operation type alone governs read-only gating and can
// appear in disabledTools.
const (
	OperationRead     = "read"
	OperationCreate   = "create"
	OperationUpdate   = "update"
	OperationDelete   = "delete"
	OperationMetadata = "metadata"
	OperationConnect  = "connect"
)

// ToolSpec defines a tool's metadata for declarative registration.
type ToolSpec struct {
	// Name is the MCP tool name (e.g., "insert-many")
	Name string

	// Title is the human-readable tool title for annotations
	Title string

	// Description is the tool description shown to LLMs
	Description string

	// Category groups tools for gating: mongodb, atlas, atlas-local
	Category string

	// OperationType is one of read, create, update, delete, metadata, connect
	OperationType string

	// RequiredFeatures lists preview-feature tags that must be enabled for
	// the tool to be callable
	RequiredFeatures []string

	// Destructive indicates the tool can delete or overwrite data
	Destructive bool

	// Idempotent indicates repeated calls have the same effect
	Idempotent bool

	// OpenWorld indicates the tool accesses external resources
	OpenWorld bool
}

// Writes reports whether the operation type mutates data and is therefore
// blocked under readOnly.
func (s ToolSpec) Writes() bool {
	switch s.OperationType {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// buildTool creates an mcp.Tool from a ToolSpec.
func buildTool(spec ToolSpec) *mcp.Tool {
	annotations := &mcp.ToolAnnotations{
		Title:          spec.Title,
		ReadOnlyHint:   !spec.Writes(),
		IdempotentHint: spec.Idempotent,
	}
	if spec.Destructive {
		annotations.DestructiveHint = ptr(true)
	}
	if spec.OpenWorld {
		annotations.OpenWorldHint = ptr(true)
	}

	return &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Annotations: annotations,
	}
}

// ptr is a helper to create a pointer to a value.
func ptr[T any](v T) *T {
	return &v
}
