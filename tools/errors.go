package tools

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrToolNotFound is returned when a requested tool is not registered.
	ErrToolNotFound = errors.New("tools: tool not found")

	// ErrDuplicateTool is returned when a qualified tool name is already taken.
	ErrDuplicateTool = errors.New("tools: tool already registered")

	// ErrNilExecutor is returned when registering or binding a nil executor.
	ErrNilExecutor = errors.New("tools: nil executor")

	// ErrNoExecutor is returned when executing a tool that was declared in a
	// manifest but never bound to an executor.
	ErrNoExecutor = errors.New("tools: no executor bound")

	// ErrToolNameRequired is returned when registering a tool without a name.
	ErrToolNameRequired = errors.New("tools: tool name is required")

	// ErrToolDescriptionRequired is returned when registering a tool without a
	// description.
	ErrToolDescriptionRequired = errors.New("tools: tool description is required")

	// ErrInputSchemaRequired is returned when registering a tool without an
	// input schema.
	ErrInputSchemaRequired = errors.New("tools: input schema is required")
)
